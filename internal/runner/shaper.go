package runner

import (
	"context"
	"time"

	"github.com/FamilySearch/pewpew/internal/ratepattern"
)

// shaperAdapter anchors a ratepattern.Shaper's elapsed-since-start tick
// offsets to a wall-clock start time, turning "emit this many hits by time
// T" into real sleeps (spec.md §4.C "Rate Shaper").
type shaperAdapter struct {
	shaper *ratepattern.Shaper
	start  time.Time
}

// newShaperAdapter builds a shaper already fast-forwarded startAt into the
// pattern (ratepattern.NewShaper), anchoring its elapsed-since-start offsets
// (which already include startAt) to a wall clock that itself began startAt
// ago — so the next tick fires immediately rather than after another
// startAt's wait.
func newShaperAdapter(p ratepattern.Pattern, startAt time.Duration) *shaperAdapter {
	return &shaperAdapter{shaper: ratepattern.NewShaper(p, startAt), start: time.Now().Add(-startAt)}
}

// waitNext blocks until the next tick's scheduled time (or returns
// immediately if it has already passed), then reports true. ok is false once
// the pattern is exhausted, and the wait can be interrupted by ctx.
func (s *shaperAdapter) waitNext(ctx context.Context) (time.Duration, bool) {
	offset, ok := s.shaper.Next()
	if !ok {
		return 0, false
	}
	target := s.start.Add(offset)
	if d := time.Until(target); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return 0, false
		}
	}
	return offset, true
}
