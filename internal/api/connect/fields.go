package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/cuebox/internal/app/session"
	"github.com/osa030/cuebox/internal/infra/fetch"
)

var errBadField = errors.New("invalid field")

// fields reads typed values out of a request struct. Absent fields are
// reported as nil; a present field of the wrong type is an error.
type fields map[string]*structpb.Value

func fieldsOf(s *structpb.Struct) fields {
	return s.GetFields()
}

func (f fields) str(name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", nil
	}
	if _, ok := v.GetKind().(*structpb.Value_StringValue); !ok {
		return "", errors.Wrapf(errBadField, "%s must be a string", name)
	}
	return v.GetStringValue(), nil
}

func (f fields) required(name string) (string, error) {
	s, err := f.str(name)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", errors.Wrapf(errBadField, "%s is required", name)
	}
	return s, nil
}

func (f fields) boolean(name string) (*bool, error) {
	v, ok := f[name]
	if !ok {
		return nil, nil
	}
	if _, ok := v.GetKind().(*structpb.Value_BoolValue); !ok {
		return nil, errors.Wrapf(errBadField, "%s must be a bool", name)
	}
	b := v.GetBoolValue()
	return &b, nil
}

func (f fields) number(name string) (*float64, error) {
	v, ok := f[name]
	if !ok {
		return nil, nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return nil, errors.Wrapf(errBadField, "%s must be a number", name)
	}
	n := v.GetNumberValue()
	return &n, nil
}

func (f fields) strings(name string) ([]string, error) {
	v, ok := f[name]
	if !ok {
		return nil, nil
	}
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, errors.Wrapf(errBadField, "%s must be a list", name)
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for _, item := range list.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.Wrapf(errBadField, "%s must contain strings", name)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func reply(m map[string]any) (*connect.Response[structpb.Struct], error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode response"))
	}
	return connect.NewResponse(s), nil
}

func infoMap(info session.Info) map[string]any {
	return map[string]any{
		"id":         info.ID,
		"src":        info.Src,
		"preset":     info.Preset,
		"state":      info.State.String(),
		"volume":     info.Volume,
		"loop":       info.Loop,
		"created_at": info.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// toConnectError maps domain errors to RPC codes.
func toConnectError(err error) error {
	var (
		verrs  validator.ValidationErrors
		status *fetch.StatusError
	)
	switch {
	case errors.Is(err, errBadField), errors.As(err, &verrs):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, session.ErrUnknownPlayer), errors.Is(err, session.ErrUnknownPreset):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, fetch.ErrLocalDisabled), errors.Is(err, fetch.ErrOutsideRoot):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, session.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.As(err, &status):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
