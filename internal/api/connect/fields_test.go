package connect

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/osa030/cuebox/internal/app/session"
	"github.com/osa030/cuebox/internal/infra/fetch"
)

func TestToConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code connect.Code
	}{
		{name: "bad field", err: errors.Wrap(errBadField, "src is required"), code: connect.CodeInvalidArgument},
		{name: "unknown player", err: errors.Wrap(session.ErrUnknownPlayer, "p-1"), code: connect.CodeNotFound},
		{name: "outside local root", err: errors.Wrap(fetch.ErrOutsideRoot, "playback /etc/passwd"), code: connect.CodePermissionDenied},
		{name: "local disabled", err: errors.Wrap(fetch.ErrLocalDisabled, "playback a.mp3"), code: connect.CodePermissionDenied},
		{name: "closed", err: session.ErrClosed, code: connect.CodeUnavailable},
		{name: "deadline", err: errors.Wrap(context.DeadlineExceeded, "playback a.mp3"), code: connect.CodeDeadlineExceeded},
		{name: "other", err: errors.New("boom"), code: connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, connect.CodeOf(toConnectError(tt.err)))
		})
	}
}
