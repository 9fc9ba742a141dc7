// Package taskloop provides the cooperative poll-loop wrapper every
// long-running component in spec.md §5 is built from: one goroutine, one
// switchable ticker, a stop channel. Grounded on the `lnd/ticker` switchable
// ticker already required by the teacher, which lets tests force a single
// iteration instead of sleeping through a real interval.
package taskloop

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// Loop drives fn once per tick until ctx is canceled. fn receives ctx so a
// single slow iteration can still observe cancellation mid-flight. Errors
// returned by fn are handed to onErr rather than stopping the loop — a
// single task's transient failure must not take down the whole daemon,
// per spec.md §5's "one task per component, independently restartable"
// model.
func Loop(ctx context.Context, tk ticker.Ticker, fn func(context.Context) error, onErr func(error)) {
	tk.Resume()
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.Ticks():
			if err := fn(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

// NewTicker returns the default production ticker for a cooperative task,
// ticking at interval. Tests substitute ticker.NewForce or a mock
// ticker.Ticker directly rather than calling this constructor.
func NewTicker(interval time.Duration) ticker.Ticker {
	return ticker.New(interval)
}
