package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/cuebox/internal/app/gate"
	"github.com/osa030/cuebox/internal/app/session"
	"github.com/osa030/cuebox/internal/app/signal"
)

const (
	// HostServiceName is the fully-qualified name of the HostService.
	HostServiceName = "cuebox.v1.HostService"

	HostServiceInteractProcedure = "/cuebox.v1.HostService/Interact"
	HostServiceFocusProcedure    = "/cuebox.v1.HostService/Focus"
	HostServiceBlurProcedure     = "/cuebox.v1.HostService/Blur"
	HostServicePrefetchProcedure = "/cuebox.v1.HostService/Prefetch"
)

// HostService relays host environment events: user interactions,
// focus changes and cache warm-up requests.
type HostService struct {
	registry *session.Registry
	gate     *gate.Gate
	bus      *signal.Bus
}

// NewHostService creates a new HostService.
func NewHostService(registry *session.Registry, g *gate.Gate, bus *signal.Bus) *HostService {
	return &HostService{registry: registry, gate: g, bus: bus}
}

// NewHostServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler.
func NewHostServiceHandler(svc *HostService, opts ...connect.HandlerOption) (string, http.Handler) {
	routes := map[string]unary{
		HostServiceInteractProcedure: svc.Interact,
		HostServiceFocusProcedure:    svc.Focus,
		HostServiceBlurProcedure:     svc.Blur,
		HostServicePrefetchProcedure: svc.Prefetch,
	}
	return "/" + HostServiceName + "/", mount(routes, opts)
}

// Interact reports a user interaction to the gate.
func (s *HostService) Interact(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	name, err := fieldsOf(req.Msg).required("event")
	if err != nil {
		return nil, toConnectError(err)
	}
	kind, err := gate.ParseKind(name)
	if err != nil {
		return nil, toConnectError(errors.Mark(err, errBadField))
	}

	accepted := s.gate.Signal(kind)
	return reply(map[string]any{"accepted": accepted, "open": s.gate.Open()})
}

// Focus dispatches a focus event to subscribed players.
func (s *HostService) Focus(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	s.bus.Focus()
	return reply(map[string]any{"subscribers": s.bus.Count()})
}

// Blur dispatches a blur event to subscribed players.
func (s *HostService) Blur(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	s.bus.Blur()
	return reply(map[string]any{"subscribers": s.bus.Count()})
}

// Prefetch warms the shared byte cache. With no srcs it warms the presets
// marked for prefetch.
func (s *HostService) Prefetch(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	srcs, err := fieldsOf(req.Msg).strings("srcs")
	if err != nil {
		return nil, toConnectError(err)
	}

	if len(srcs) == 0 {
		err = s.registry.PrefetchPresets(ctx)
	} else {
		err = s.registry.Prefetch(ctx, srcs...)
	}
	if err != nil {
		zlog.Warn().Err(err).Msgf("api: prefetch failed")
		return nil, toConnectError(err)
	}
	return reply(map[string]any{"count": len(srcs)})
}
