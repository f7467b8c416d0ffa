// Package session keeps the live playback controllers of the process.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/cuebox/internal/app/memo"
	"github.com/osa030/cuebox/internal/app/playback"
	"github.com/osa030/cuebox/internal/domain/media"
)

var (
	ErrUnknownPlayer = errors.New("unknown player")
	ErrUnknownPreset = errors.New("unknown preset")
	ErrClosed        = errors.New("registry is closed")
)

// Preset is a named player template.
type Preset struct {
	Src         string
	Loop        bool
	Volume      *float64
	Autoplay    bool
	PauseOnBlur bool
	// Prefetch warms the byte cache at startup.
	Prefetch bool
}

// Defaults apply to players created without an explicit value.
type Defaults struct {
	Loop        bool
	Volume      *float64
	Autoplay    bool
	PauseOnBlur bool
}

// Request describes a player to create. Nil fields fall back to the preset,
// then to the registry defaults.
type Request struct {
	Src         string
	Preset      string
	Loop        *bool
	Volume      *float64
	Autoplay    *bool
	PauseOnBlur *bool
}

// Info is a snapshot of a player.
type Info struct {
	ID        string
	Src       string
	Preset    string
	State     playback.State
	Volume    float64
	Loop      bool
	CreatedAt time.Time
}

type entry struct {
	id      string
	preset  string
	created time.Time
	ctrl    *playback.Controller
}

// Registry manages players with thread-safe access.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*entry
	closed  bool

	deps     playback.Deps
	defaults Defaults
	presets  map[string]Preset

	watchers sync.WaitGroup
}

// NewRegistry creates a registry. Every player shares deps, including the
// byte and buffer caches.
func NewRegistry(deps playback.Deps, defaults Defaults, presets map[string]Preset) *Registry {
	if deps.Bytes == nil {
		deps.Bytes = memo.New[[]byte]()
	}
	if deps.Buffers == nil {
		deps.Buffers = memo.New[media.Buffer]()
	}
	if presets == nil {
		presets = make(map[string]Preset)
	}
	return &Registry{
		players:  make(map[string]*entry),
		deps:     deps,
		defaults: defaults,
		presets:  presets,
	}
}

// Create builds a player and returns its ID.
func (r *Registry) Create(req Request) (string, error) {
	opts, err := r.resolve(req)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	ctrl, err := playback.New(opts, r.deps)
	if err != nil {
		return "", errors.Wrap(err, "failed to create player")
	}

	id := uuid.New().String()
	e := &entry{id: id, preset: req.Preset, created: time.Now(), ctrl: ctrl}
	r.players[id] = e

	r.watchers.Add(1)
	go r.watch(e)

	zlog.Info().Msgf("session: player created: id=%s src=%s", id, opts.Src)
	return id, nil
}

func (r *Registry) resolve(req Request) (playback.Options, error) {
	opts := playback.Options{
		Src:         req.Src,
		Loop:        r.defaults.Loop,
		Volume:      r.defaults.Volume,
		Autoplay:    r.defaults.Autoplay,
		PauseOnBlur: r.defaults.PauseOnBlur,
	}

	if req.Preset != "" {
		p, ok := r.presets[req.Preset]
		if !ok {
			return playback.Options{}, errors.Wrapf(ErrUnknownPreset, "%q", req.Preset)
		}
		if opts.Src == "" {
			opts.Src = p.Src
		}
		opts.Loop = p.Loop
		opts.Autoplay = p.Autoplay
		opts.PauseOnBlur = p.PauseOnBlur
		if p.Volume != nil {
			opts.Volume = playback.Float(*p.Volume)
		}
	}

	if req.Loop != nil {
		opts.Loop = *req.Loop
	}
	if req.Volume != nil {
		opts.Volume = playback.Float(*req.Volume)
	}
	if req.Autoplay != nil {
		opts.Autoplay = *req.Autoplay
	}
	if req.PauseOnBlur != nil {
		opts.PauseOnBlur = *req.PauseOnBlur
	}
	return opts, nil
}

// watch logs player events and drops the player once it is destroyed.
func (r *Registry) watch(e *entry) {
	defer r.watchers.Done()

	for ev := range e.ctrl.Events() {
		switch ev.Type {
		case playback.EventFailed:
			zlog.Error().Err(ev.Err).Msgf("session: player failed: id=%s src=%s", e.id, ev.Src)
		default:
			zlog.Debug().Msgf("session: player event: id=%s type=%s state=%s", e.id, ev.Type, ev.State)
		}
	}

	r.mu.Lock()
	delete(r.players, e.id)
	r.mu.Unlock()
	zlog.Info().Msgf("session: player removed: id=%s", e.id)
}

// Get retrieves a player by ID.
func (r *Registry) Get(id string) (*playback.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.players[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPlayer, "%s", id)
	}
	return e.ctrl, nil
}

// Info returns a snapshot of one player.
func (r *Registry) Info(id string) (Info, error) {
	r.mu.RLock()
	e, ok := r.players[id]
	r.mu.RUnlock()
	if !ok {
		return Info{}, errors.Wrapf(ErrUnknownPlayer, "%s", id)
	}
	return e.info(), nil
}

func (e *entry) info() Info {
	return Info{
		ID:        e.id,
		Src:       e.ctrl.Src(),
		Preset:    e.preset,
		State:     e.ctrl.State(),
		Volume:    e.ctrl.Volume(),
		Loop:      e.ctrl.Loop(),
		CreatedAt: e.created,
	}
}

// List returns all players, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.players))
	for _, e := range r.players {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].created.Before(entries[j].created) })
	result := make([]Info, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.info())
	}
	return result
}

// Count returns the number of players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Destroy destroys a player and removes it.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := ctrl.Destroy(ctx); err != nil {
		return errors.Wrap(err, "failed to destroy player")
	}

	r.mu.Lock()
	delete(r.players, id)
	r.mu.Unlock()
	return nil
}

// Presets returns the preset names, sorted.
func (r *Registry) Presets() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prefetch warms the byte cache shared by every player.
func (r *Registry) Prefetch(ctx context.Context, srcs ...string) error {
	return playback.Prefetch(ctx, r.deps.Fetcher, r.deps.Bytes, srcs...)
}

// PrefetchPresets warms the cache for presets marked for prefetch.
func (r *Registry) PrefetchPresets(ctx context.Context) error {
	var srcs []string
	for _, name := range r.Presets() {
		if p := r.presets[name]; p.Prefetch && p.Src != "" {
			srcs = append(srcs, p.Src)
		}
	}
	if len(srcs) == 0 {
		return nil
	}
	zlog.Info().Msgf("session: prefetching %d preset(s)", len(srcs))
	return r.Prefetch(ctx, srcs...)
}

// Close destroys every player and refuses new ones.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ctrls := make([]*playback.Controller, 0, len(r.players))
	for _, e := range r.players {
		ctrls = append(ctrls, e.ctrl)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range ctrls {
		g.Go(func() error {
			return c.Destroy(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "failed to destroy players")
	}

	r.watchers.Wait()
	return nil
}
