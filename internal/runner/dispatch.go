package runner

import (
	"context"

	"github.com/FamilySearch/pewpew/internal/config"
	"github.com/FamilySearch/pewpew/internal/expr"
	"github.com/FamilySearch/pewpew/internal/value"
)

// dispatchOutgoings evaluates every `provides`/`logs` outgoing against rec
// and pushes the results into their target channels (spec.md §4.D steps
// 6-9: where, for_each Cartesian product, select, push-by-send-behavior).
func (r *Runner) dispatchOutgoings(ctx context.Context, rec *expr.Record, opts expr.EvalOptions) {
	for _, o := range r.Endpoint.Provides {
		r.dispatchOne(ctx, rec, opts, o)
	}
	for _, o := range r.Endpoint.Logs {
		r.dispatchOne(ctx, rec, opts, o)
	}
}

func (r *Runner) dispatchOne(ctx context.Context, rec *expr.Record, opts expr.EvalOptions, out *config.Outgoing) {
	sel := out.Select

	if sel.Where != nil {
		wv, err := sel.Where.Evaluate(rec, opts)
		if err != nil || !wv.Truthy() {
			return
		}
	}

	var forEachLists [][]value.Value
	for _, fe := range sel.ForEach {
		vs, err := fe.EvaluateAsIter(rec, opts)
		if err != nil {
			return
		}
		forEachLists = append(forEachLists, vs)
	}

	savedForEach := rec.ForEach
	defer func() { rec.ForEach = savedForEach }()

	for _, tuple := range cartesian(forEachLists) {
		rec.ForEach = tuple
		v, err := sel.Expr.Evaluate(rec, opts)
		if err != nil {
			continue
		}
		switch sel.Send {
		case config.SendBlock:
			if out.TargetChannel.SendBlock(ctx, v) != nil {
				return
			}
		case config.SendForce:
			out.TargetChannel.ForceSend(v)
		case config.SendIfNotFull:
			if !out.TargetChannel.TrySend(v) {
				return
			}
		}
	}
}

// cartesian computes the Cartesian product of lists, in order, matching the
// for_each expansion semantics of spec.md §3 "Select". A nil/empty lists
// slice yields exactly one empty tuple (no for_each means run once).
func cartesian(lists [][]value.Value) [][]value.Value {
	result := [][]value.Value{{}}
	for _, list := range lists {
		var next [][]value.Value
		for _, prefix := range result {
			for _, v := range list {
				tuple := make([]value.Value, len(prefix)+1)
				copy(tuple, prefix)
				tuple[len(prefix)] = v
				next = append(next, tuple)
			}
		}
		result = next
	}
	return result
}

// performAutoReturns re-sends every consumed auto-return provider's value,
// in the order its provider was pulled (spec.md §5 "Auto-returns for a
// single request are performed in the order their source providers were
// consumed").
func (r *Runner) performAutoReturns(ctx context.Context, rec *expr.Record) {
	for _, ar := range rec.AutoReturns {
		ps, ok := r.Providers[ar.Provider]
		if !ok {
			continue
		}
		switch ps.AutoReturn {
		case config.AutoReturnBlock:
			_ = ps.Channel.SendBlock(ctx, ar.Value)
		case config.AutoReturnForce:
			ps.Channel.ForceSend(ar.Value)
		case config.AutoReturnIfNotFull:
			ps.Channel.TrySend(ar.Value)
		}
	}
}
