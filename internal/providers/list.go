package providers

import (
	"context"

	"github.com/FamilySearch/pewpew/internal/pchan"
	"github.com/FamilySearch/pewpew/internal/value"
)

// ListProvider cycles through a fixed, finite list of values forever
// (spec.md §4.B "List provider").
type ListProvider struct {
	Values []value.Value
}

func (p *ListProvider) Run(ctx context.Context, ch *pchan.Chan) {
	defer ch.DropSender()

	if len(p.Values) == 0 {
		return
	}
	for i := 0; ; i = (i + 1) % len(p.Values) {
		if !sendBlock(ctx, ch, p.Values[i]) {
			return
		}
	}
}
