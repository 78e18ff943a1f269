package session

import (
	"context"
	"time"

	"github.com/neboloop/cdpgateway/internal/surface"
)

// Readiness delays, grounded on the teacher's several stacked
// "give WebContents a moment" sleeps in internal/browser/session.go,
// factored here into the single documented wait spec §4.3.1 calls for.
const (
	initialSettleDelay = 30 * time.Millisecond
	finalSettleDelay   = 15 * time.Millisecond
	// DefaultReadyTimeout bounds step 2 of awaitPageReady when a page is
	// still loading at attach time.
	DefaultReadyTimeout = 5 * time.Second
)

// awaitPageReady blocks the first attach to a page until the underlying
// surface is ready to accept debugger commands (spec §4.3.1):
//  1. an initial settle delay,
//  2. if the page reports loading, wait for load-finished/failed bounded by
//     maxTotal,
//  3. a final settle delay.
//
// On timeout it returns nil anyway — attach proceeds and the debugger
// either accepts the command or CDP returns its own error (spec §5
// "Timeouts").
func awaitPageReady(ctx context.Context, provider surface.Provider, page surface.PageHandle, maxTotal time.Duration) error {
	select {
	case <-time.After(initialSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	state, err := provider.PageState(page)
	if err == nil && state.Loading {
		deadline := time.After(maxTotal)
		done := make(chan struct{}, 1)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		provider.SubscribePageEvents(subCtx, page, func(evt surface.PageEvent) {
			if evt.Kind == surface.PageEventLoadFinished || evt.Kind == surface.PageEventLoadFailed {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		})

		select {
		case <-done:
		case <-deadline:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-time.After(finalSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
