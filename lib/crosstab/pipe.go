package crosstab

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Pipe forwards every payload a receives to b and every payload b receives to
// a. It returns when ctx ends or either side closes. Neither side is closed.
func Pipe(ctx context.Context, a, b Channel) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return forward(ctx, a, b) })
	g.Go(func() error { return forward(ctx, b, a) })
	err := g.Wait()
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func forward(ctx context.Context, from, to Channel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-from.Messages():
			if !ok {
				return ErrClosed
			}
			if err := to.Publish(ctx, payload); err != nil {
				return err
			}
		}
	}
}
