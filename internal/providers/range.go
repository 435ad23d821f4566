package providers

import (
	"context"

	"github.com/FamilySearch/pewpew/internal/pchan"
	"github.com/FamilySearch/pewpew/internal/value"
)

// RangeProvider is an integer range iterator, optionally stepped and
// optionally repeating once exhausted (spec.md §4.B "Range provider").
type RangeProvider struct {
	Start, End int64 // half-open [Start, End); End < Start counts down
	Step       int64 // defaults to 1 (or -1 when counting down) if zero
	Repeat     bool
}

func (p *RangeProvider) Run(ctx context.Context, ch *pchan.Chan) {
	defer ch.DropSender()

	step := p.Step
	descending := p.End < p.Start
	if step == 0 {
		if descending {
			step = -1
		} else {
			step = 1
		}
	}

	for {
		i := p.Start
		for (!descending && i < p.End) || (descending && i > p.End) {
			if !sendBlock(ctx, ch, value.NewInt(i)) {
				return
			}
			i += step
		}
		if !p.Repeat {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
