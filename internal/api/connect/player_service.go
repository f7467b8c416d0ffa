// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/cuebox/internal/app/playback"
	"github.com/osa030/cuebox/internal/app/session"
)

const (
	// PlayerServiceName is the fully-qualified name of the PlayerService.
	PlayerServiceName = "cuebox.v1.PlayerService"

	PlayerServiceCreateProcedure    = "/cuebox.v1.PlayerService/Create"
	PlayerServicePlayProcedure      = "/cuebox.v1.PlayerService/Play"
	PlayerServicePauseProcedure     = "/cuebox.v1.PlayerService/Pause"
	PlayerServiceResetProcedure     = "/cuebox.v1.PlayerService/Reset"
	PlayerServiceStopProcedure      = "/cuebox.v1.PlayerService/Stop"
	PlayerServiceDestroyProcedure   = "/cuebox.v1.PlayerService/Destroy"
	PlayerServiceFetchProcedure     = "/cuebox.v1.PlayerService/Fetch"
	PlayerServiceSetVolumeProcedure = "/cuebox.v1.PlayerService/SetVolume"
	PlayerServiceSetLoopProcedure   = "/cuebox.v1.PlayerService/SetLoop"
	PlayerServiceStatusProcedure    = "/cuebox.v1.PlayerService/Status"
	PlayerServiceListProcedure      = "/cuebox.v1.PlayerService/List"
)

type unary = func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	registry *session.Registry
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(registry *session.Registry) *PlayerService {
	return &PlayerService{registry: registry}
}

// NewPlayerServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	routes := map[string]unary{
		PlayerServiceCreateProcedure:    svc.Create,
		PlayerServicePlayProcedure:      svc.control((*playback.Controller).Play),
		PlayerServicePauseProcedure:     svc.control((*playback.Controller).Pause),
		PlayerServiceResetProcedure:     svc.control((*playback.Controller).Reset),
		PlayerServiceStopProcedure:      svc.control((*playback.Controller).Stop),
		PlayerServiceFetchProcedure:     svc.control((*playback.Controller).Fetch),
		PlayerServiceDestroyProcedure:   svc.Destroy,
		PlayerServiceSetVolumeProcedure: svc.SetVolume,
		PlayerServiceSetLoopProcedure:   svc.SetLoop,
		PlayerServiceStatusProcedure:    svc.Status,
		PlayerServiceListProcedure:      svc.List,
	}
	return "/" + PlayerServiceName + "/", mount(routes, opts)
}

func mount(routes map[string]unary, opts []connect.HandlerOption) http.Handler {
	mux := http.NewServeMux()
	for procedure, fn := range routes {
		mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
	}
	return mux
}

// Create handles player creation requests.
func (s *PlayerService) Create(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	r, err := createRequest(fieldsOf(req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}

	id, err := s.registry.Create(r)
	if err != nil {
		return nil, toConnectError(err)
	}
	return s.status(id)
}

func createRequest(f fields) (session.Request, error) {
	var (
		r   session.Request
		err error
	)
	if r.Src, err = f.str("src"); err != nil {
		return r, err
	}
	if r.Preset, err = f.str("preset"); err != nil {
		return r, err
	}
	if r.Src == "" && r.Preset == "" {
		return r, errors.Wrap(errBadField, "src or preset is required")
	}
	if r.Loop, err = f.boolean("loop"); err != nil {
		return r, err
	}
	if r.Volume, err = f.number("volume"); err != nil {
		return r, err
	}
	if r.Autoplay, err = f.boolean("autoplay"); err != nil {
		return r, err
	}
	if r.PauseOnBlur, err = f.boolean("pause_on_blur"); err != nil {
		return r, err
	}
	return r, nil
}

// control adapts a controller operation into a handler keyed by "id".
func (s *PlayerService) control(op func(*playback.Controller, context.Context) error) unary {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		id, ctrl, err := s.lookup(req.Msg)
		if err != nil {
			return nil, toConnectError(err)
		}
		if err := op(ctrl, ctx); err != nil {
			zlog.Warn().Err(err).Msgf("api: %s failed: id=%s", req.Spec().Procedure, id)
			return nil, toConnectError(err)
		}
		return s.status(id)
	}
}

// Destroy handles player destruction requests.
func (s *PlayerService) Destroy(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id, err := fieldsOf(req.Msg).required("id")
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.registry.Destroy(ctx, id); err != nil {
		return nil, toConnectError(err)
	}
	return reply(map[string]any{"id": id, "state": playback.StateDestroyed.String()})
}

// SetVolume updates a player's volume.
func (s *PlayerService) SetVolume(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id, ctrl, err := s.lookup(req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	v, err := fieldsOf(req.Msg).number("volume")
	if err != nil {
		return nil, toConnectError(err)
	}
	if v == nil {
		return nil, toConnectError(errors.Wrap(errBadField, "volume is required"))
	}
	ctrl.SetVolume(*v)
	return s.status(id)
}

// SetLoop updates a player's loop flag.
func (s *PlayerService) SetLoop(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id, ctrl, err := s.lookup(req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	loop, err := fieldsOf(req.Msg).boolean("loop")
	if err != nil {
		return nil, toConnectError(err)
	}
	if loop == nil {
		return nil, toConnectError(errors.Wrap(errBadField, "loop is required"))
	}
	ctrl.SetLoop(*loop)
	return s.status(id)
}

// Status returns a snapshot of one player.
func (s *PlayerService) Status(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id, err := fieldsOf(req.Msg).required("id")
	if err != nil {
		return nil, toConnectError(err)
	}
	info, err := s.registry.Info(id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return reply(infoMap(info))
}

// List returns every player and the configured presets.
func (s *PlayerService) List(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	infos := s.registry.List()
	players := make([]any, 0, len(infos))
	for _, info := range infos {
		players = append(players, infoMap(info))
	}
	presets := make([]any, 0)
	for _, name := range s.registry.Presets() {
		presets = append(presets, name)
	}
	return reply(map[string]any{"players": players, "presets": presets})
}

func (s *PlayerService) lookup(msg *structpb.Struct) (string, *playback.Controller, error) {
	id, err := fieldsOf(msg).required("id")
	if err != nil {
		return "", nil, err
	}
	ctrl, err := s.registry.Get(id)
	if err != nil {
		return "", nil, err
	}
	return id, ctrl, nil
}

// status replies with the player's snapshot. A player removed by the time
// the operation returns is reported as destroyed.
func (s *PlayerService) status(id string) (*connect.Response[structpb.Struct], error) {
	info, err := s.registry.Info(id)
	if errors.Is(err, session.ErrUnknownPlayer) {
		return reply(map[string]any{"id": id, "state": playback.StateDestroyed.String()})
	}
	if err != nil {
		return nil, toConnectError(err)
	}
	return reply(infoMap(info))
}
