package playback

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/osa030/cuebox/internal/app/memo"
)

const prefetchConcurrency = 4

// Prefetch warms the byte cache for srcs without creating controllers.
// Controllers built later with the same memo reuse the result.
func Prefetch(ctx context.Context, f Fetcher, bytes *memo.Memo[[]byte], srcs ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	seen := make(map[string]bool, len(srcs))
	for _, src := range srcs {
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		g.Go(func() error {
			_, err := bytes.Do(ctx, src, fetchProducer(f, src))
			return err
		})
	}
	return g.Wait()
}
