package main

import (
	"context"
	"os"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/osa030/cuebox/internal/app/gate"
)

const ctrlC = 0x03

// watchTerminal puts the terminal in raw mode and reports the first keypress
// to the gate. Ctrl-C calls stop, since raw mode swallows SIGINT.
func watchTerminal(ctx context.Context, g *gate.Gate, stop context.CancelFunc) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		zlog.Warn().Msg("gate.terminal is set but stdin is not a terminal")
		return
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		zlog.Warn().Err(err).Msg("Failed to enter raw mode")
		return
	}
	defer func() {
		if err := term.Restore(fd, state); err != nil {
			zlog.Warn().Err(err).Msg("Failed to restore terminal")
		}
	}()

	zlog.Info().Msg("Press any key to enable audio...")

	keys := make(chan byte, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				close(keys)
				return
			}
			select {
			case keys <- buf[0]:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-g.Done():
	case b, ok := <-keys:
		if !ok {
			return
		}
		if b == ctrlC {
			stop()
			return
		}
		g.Signal(gate.KeyDown)
	}
}
