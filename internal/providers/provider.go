// Package providers implements the provider fabric of spec.md §4.B: file,
// range, list, and response providers, each feeding a bounded pchan.Chan, plus
// the logger sink. Every provider runs its own feeder goroutine started by
// Spawn and stopped by the coordinator's shutdown broadcast (context
// cancellation), mirroring the teacher's one-goroutine-per-long-lived-task
// shape (requester.Work.runWorker / script's per-request goroutines).
package providers

import (
	"context"

	"github.com/FamilySearch/pewpew/internal/pchan"
	"github.com/FamilySearch/pewpew/internal/value"
)

// Feeder produces values for one provider's channel until ctx is cancelled
// or the underlying source is exhausted (file EOF without repeat, a
// finite range, etc).
type Feeder interface {
	// Run pushes values into ch until exhausted or ctx is done, then drops
	// its sender handle. Run must call ch.DropSender() exactly once, on
	// every return path.
	Run(ctx context.Context, ch *pchan.Chan)
}

// Spawn starts f in its own goroutine against ch.
func Spawn(ctx context.Context, ch *pchan.Chan, f Feeder) {
	go f.Run(ctx, ch)
}

// sendBlock is the shared "push one value, honoring ctx and channel limit"
// step every feeder uses between reads of its own source.
func sendBlock(ctx context.Context, ch *pchan.Chan, v value.Value) bool {
	return ch.SendBlock(ctx, v) == nil
}
