package runner

import (
	"fmt"

	"github.com/FamilySearch/pewpew/internal/config"
)

// TryPlan is an ordered list of endpoints to fire, upstream dependencies
// first, ending with the requested target (spec.md §4.D "Dependency
// scheduling (try-run variant)", supplemented from original_source's
// src/load_test.rs try-run dependency walk).
type TryPlan struct {
	Endpoints []*config.EndpointSpec
}

// PlanTryRun computes the minimal set of endpoints that must fire, in
// dependency order, to satisfy target's required response providers (the
// ones not already self-sufficient: file/range/list providers, or declared
// with no feeder and never produced by any endpoint, which is an error).
// Each unsatisfied provider pulls in exactly one upstream producer, chosen
// by endpointCost (GET is cheapest; spec.md: "non-GET methods cost more than
// GET"), which keeps the resulting plan minimal by construction.
func PlanTryRun(target *config.EndpointSpec, all []*config.EndpointSpec, providerSpecs map[string]*config.ProviderSpec) (*TryPlan, error) {
	producers := make(map[string][]*config.EndpointSpec)
	for _, ep := range all {
		for name := range ep.Provides {
			producers[name] = append(producers[name], ep)
		}
	}

	included := make(map[*config.EndpointSpec]bool)
	var order []*config.EndpointSpec
	path := make(map[*config.EndpointSpec]bool)

	var walk func(ep *config.EndpointSpec) error
	walk = func(ep *config.EndpointSpec) error {
		if included[ep] {
			return nil
		}
		if path[ep] {
			return fmt.Errorf("dependency cycle involving a %s endpoint", ep.Method)
		}
		path[ep] = true
		for name := range ep.RequiredProviders {
			if ps, ok := providerSpecs[name]; ok && ps.Feeder != nil {
				continue // self-sufficient: file/range/list, no upstream endpoint needed
			}
			candidates := producers[name]
			if len(candidates) == 0 {
				return fmt.Errorf("required provider %q has no endpoint that provides it", name)
			}
			if err := walk(cheapestCandidate(candidates)); err != nil {
				return err
			}
		}
		delete(path, ep)
		included[ep] = true
		order = append(order, ep)
		return nil
	}

	if err := walk(target); err != nil {
		return nil, err
	}
	return &TryPlan{Endpoints: order}, nil
}

// PlanTry unions the per-target plans of every filter-matched endpoint into
// one dependency-ordered execution list, for a `try` run that matches more
// than one endpoint (spec.md §6 "--filter key=glob (repeatable)").
// Endpoints already included by an earlier target are not duplicated or
// reordered.
func PlanTry(matched []*config.EndpointSpec, all []*config.EndpointSpec, providerSpecs map[string]*config.ProviderSpec) (*TryPlan, error) {
	included := make(map[*config.EndpointSpec]bool)
	var order []*config.EndpointSpec
	for _, target := range matched {
		plan, err := PlanTryRun(target, all, providerSpecs)
		if err != nil {
			return nil, err
		}
		for _, ep := range plan.Endpoints {
			if included[ep] {
				continue
			}
			included[ep] = true
			order = append(order, ep)
		}
	}
	return &TryPlan{Endpoints: order}, nil
}

func cheapestCandidate(cands []*config.EndpointSpec) *config.EndpointSpec {
	best := cands[0]
	bestCost := endpointCost(best)
	for _, c := range cands[1:] {
		if cost := endpointCost(c); cost < bestCost {
			best, bestCost = c, cost
		}
	}
	return best
}

// endpointCost scores an endpoint for dependency-resolution preference
// (spec.md §4.D: "non-GET methods cost more than GET" when multiple
// endpoints could satisfy the same dependency).
func endpointCost(ep *config.EndpointSpec) int {
	if ep.Method == "GET" {
		return 0
	}
	return 1
}
