package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/cuebox/internal/app/gate"
	"github.com/osa030/cuebox/internal/app/playback"
	"github.com/osa030/cuebox/internal/app/session"
	"github.com/osa030/cuebox/internal/app/signal"
	"github.com/osa030/cuebox/internal/domain/media"
	"github.com/osa030/cuebox/internal/infra/audio"
)

type tone struct{}

func (tone) Decode(ctx context.Context, data []byte, rate int) (media.Buffer, error) {
	return media.NewPCM(rate, 2, make([]float32, rate*2*10)), nil
}

type env struct {
	url     string
	client  *http.Client
	gate    *gate.Gate
	fetches *atomic.Int32
}

func newEnv(t *testing.T, g *gate.Gate, opts ...connect.HandlerOption) *env {
	t.Helper()
	var fetches atomic.Int32
	bus := signal.NewBus()
	deps := playback.Deps{
		Backend: audio.NewHeadless(audio.HeadlessSettings{SampleRate: 8000, Speed: 1}, tone{}),
		Fetcher: playback.FetcherFunc(func(ctx context.Context, src string) ([]byte, error) {
			fetches.Add(1)
			return []byte(src), nil
		}),
		Gate: g,
		Bus:  bus,
	}
	presets := map[string]session.Preset{
		"bgm": {Src: "bgm.mp3", Loop: true, Prefetch: true},
	}
	registry := session.NewRegistry(deps, session.Defaults{}, presets)

	mux := http.NewServeMux()
	mux.Handle(NewPlayerServiceHandler(NewPlayerService(registry), opts...))
	mux.Handle(NewHostServiceHandler(NewHostService(registry, g, bus), opts...))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
	})

	return &env{url: srv.URL, client: srv.Client(), gate: g, fetches: &fetches}
}

func (e *env) call(t *testing.T, procedure string, msg map[string]any, headers ...string) (map[string]any, error) {
	t.Helper()
	req, err := structpb.NewStruct(msg)
	require.NoError(t, err)

	client := connect.NewClient[structpb.Struct, structpb.Struct](e.client, e.url+procedure)
	r := connect.NewRequest(req)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header().Set(headers[i], headers[i+1])
	}
	res, err := client.CallUnary(context.Background(), r)
	if err != nil {
		return nil, err
	}
	return res.Msg.AsMap(), nil
}

func codeOf(err error) connect.Code {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr.Code()
	}
	return connect.CodeUnknown
}

func TestPlayerService_Lifecycle(t *testing.T) {
	e := newEnv(t, gate.Opened())

	created, err := e.call(t, PlayerServiceCreateProcedure, map[string]any{"src": "a.wav", "volume": 0.5})
	require.NoError(t, err)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "uninitialized", created["state"])
	assert.Equal(t, 0.5, created["volume"])

	played, err := e.call(t, PlayerServicePlayProcedure, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "playing", played["state"])

	paused, err := e.call(t, PlayerServicePauseProcedure, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "paused", paused["state"])

	status, err := e.call(t, PlayerServiceSetLoopProcedure, map[string]any{"id": id, "loop": true})
	require.NoError(t, err)
	assert.Equal(t, true, status["loop"])

	status, err = e.call(t, PlayerServiceSetVolumeProcedure, map[string]any{"id": id, "volume": 0.25})
	require.NoError(t, err)
	assert.Equal(t, 0.25, status["volume"])

	destroyed, err := e.call(t, PlayerServiceDestroyProcedure, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "destroyed", destroyed["state"])

	_, err = e.call(t, PlayerServiceStatusProcedure, map[string]any{"id": id})
	assert.Equal(t, connect.CodeNotFound, codeOf(err))
}

func TestPlayerService_Errors(t *testing.T) {
	e := newEnv(t, gate.Opened())

	tests := []struct {
		name      string
		procedure string
		msg       map[string]any
		want      connect.Code
	}{
		{name: "create without src", procedure: PlayerServiceCreateProcedure, msg: map[string]any{}, want: connect.CodeInvalidArgument},
		{name: "create with bad volume type", procedure: PlayerServiceCreateProcedure, msg: map[string]any{"src": "a.wav", "volume": "loud"}, want: connect.CodeInvalidArgument},
		{name: "create with volume out of range", procedure: PlayerServiceCreateProcedure, msg: map[string]any{"src": "a.wav", "volume": 2.0}, want: connect.CodeInvalidArgument},
		{name: "create with unknown preset", procedure: PlayerServiceCreateProcedure, msg: map[string]any{"preset": "nope"}, want: connect.CodeNotFound},
		{name: "play without id", procedure: PlayerServicePlayProcedure, msg: map[string]any{}, want: connect.CodeInvalidArgument},
		{name: "play unknown player", procedure: PlayerServicePlayProcedure, msg: map[string]any{"id": "missing"}, want: connect.CodeNotFound},
		{name: "destroy unknown player", procedure: PlayerServiceDestroyProcedure, msg: map[string]any{"id": "missing"}, want: connect.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.call(t, tt.procedure, tt.msg)
			require.Error(t, err)
			assert.Equal(t, tt.want, codeOf(err))
		})
	}
}

func TestPlayerService_SetVolumeRequiresValue(t *testing.T) {
	e := newEnv(t, gate.Opened())

	created, err := e.call(t, PlayerServiceCreateProcedure, map[string]any{"src": "a.wav"})
	require.NoError(t, err)

	_, err = e.call(t, PlayerServiceSetVolumeProcedure, map[string]any{"id": created["id"]})
	assert.Equal(t, connect.CodeInvalidArgument, codeOf(err))
}

func TestPlayerService_List(t *testing.T) {
	e := newEnv(t, gate.Opened())

	_, err := e.call(t, PlayerServiceCreateProcedure, map[string]any{"src": "a.wav"})
	require.NoError(t, err)
	_, err = e.call(t, PlayerServiceCreateProcedure, map[string]any{"preset": "bgm"})
	require.NoError(t, err)

	list, err := e.call(t, PlayerServiceListProcedure, map[string]any{})
	require.NoError(t, err)

	players, ok := list["players"].([]any)
	require.True(t, ok)
	assert.Len(t, players, 2)
	assert.Equal(t, []any{"bgm"}, list["presets"])
}

func TestHostService_InteractReleasesPlay(t *testing.T) {
	e := newEnv(t, gate.New(gate.KeyDown))

	created, err := e.call(t, PlayerServiceCreateProcedure, map[string]any{"src": "a.wav"})
	require.NoError(t, err)

	played := make(chan map[string]any, 1)
	go func() {
		res, _ := e.call(t, PlayerServicePlayProcedure, map[string]any{"id": created["id"]})
		played <- res
	}()

	select {
	case <-played:
		t.Fatal("play returned before any interaction")
	case <-time.After(50 * time.Millisecond):
	}

	res, err := e.call(t, HostServiceInteractProcedure, map[string]any{"event": "click"})
	require.NoError(t, err)
	assert.Equal(t, false, res["accepted"])
	assert.Equal(t, false, res["open"])

	res, err = e.call(t, HostServiceInteractProcedure, map[string]any{"event": "keydown"})
	require.NoError(t, err)
	assert.Equal(t, true, res["accepted"])
	assert.Equal(t, true, res["open"])

	select {
	case res := <-played:
		require.NotNil(t, res)
		assert.Equal(t, "playing", res["state"])
	case <-time.After(2 * time.Second):
		t.Fatal("play did not complete after interaction")
	}
}

func TestHostService_InteractRejectsUnknownEvent(t *testing.T) {
	e := newEnv(t, gate.New())

	_, err := e.call(t, HostServiceInteractProcedure, map[string]any{"event": "wheel"})
	assert.Equal(t, connect.CodeInvalidArgument, codeOf(err))
}

func TestHostService_BlurPausesSubscribedPlayers(t *testing.T) {
	e := newEnv(t, gate.Opened())

	created, err := e.call(t, PlayerServiceCreateProcedure, map[string]any{"src": "a.wav", "pause_on_blur": true})
	require.NoError(t, err)
	id := created["id"]
	_, err = e.call(t, PlayerServicePlayProcedure, map[string]any{"id": id})
	require.NoError(t, err)

	res, err := e.call(t, HostServiceBlurProcedure, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res["subscribers"])

	assert.Eventually(t, func() bool {
		status, err := e.call(t, PlayerServiceStatusProcedure, map[string]any{"id": id})
		return err == nil && status["state"] == "paused"
	}, 2*time.Second, 10*time.Millisecond)

	_, err = e.call(t, HostServiceFocusProcedure, map[string]any{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		status, err := e.call(t, PlayerServiceStatusProcedure, map[string]any{"id": id})
		return err == nil && status["state"] == "playing"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHostService_Prefetch(t *testing.T) {
	e := newEnv(t, gate.Opened())

	res, err := e.call(t, HostServicePrefetchProcedure, map[string]any{"srcs": []any{"a.wav", "b.wav", "a.wav"}})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res["count"])
	assert.Equal(t, int32(2), e.fetches.Load())

	_, err = e.call(t, HostServicePrefetchProcedure, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), e.fetches.Load(), "presets marked for prefetch are warmed")

	_, err = e.call(t, HostServicePrefetchProcedure, map[string]any{"srcs": "a.wav"})
	assert.Equal(t, connect.CodeInvalidArgument, codeOf(err))
}

func TestTokenInterceptor(t *testing.T) {
	e := newEnv(t, gate.Opened(), connect.WithInterceptors(NewTokenInterceptor("secret")))

	_, err := e.call(t, PlayerServiceListProcedure, map[string]any{})
	assert.Equal(t, connect.CodeUnauthenticated, codeOf(err))

	_, err = e.call(t, PlayerServiceListProcedure, map[string]any{}, TokenHeader, "wrong")
	assert.Equal(t, connect.CodeUnauthenticated, codeOf(err))

	_, err = e.call(t, PlayerServiceListProcedure, map[string]any{}, TokenHeader, "secret")
	assert.NoError(t, err)
}
