package feed

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Route binds a stream to its handler.
type Route struct {
	Stream  string
	Handler Handler
}

// RunRoutes runs one consumer loop per route and returns when all loops have
// stopped or one fails.
func (c *Consumer) RunRoutes(ctx context.Context, routes ...Route) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range routes {
		g.Go(func() error {
			return c.Run(gctx, r.Stream, r.Handler)
		})
	}
	return g.Wait()
}
