package statemachine

import (
	"context"
	"fmt"
)

// Guard decides whether a transition may fire for data.
type Guard[S, E comparable, D any] func(ctx context.Context, from S, event E, data D) bool

// Action runs while a transition fires. Returning an error aborts Fire; the
// caller must discard any partial mutation of data.
type Action[S, E comparable, D any] func(ctx context.Context, from, to S, event E, data D) error

type transition[S, E comparable, D any] struct {
	to      S
	guards  []Guard[S, E, D]
	actions []Action[S, E, D]
}

// Machine is an immutable transition table, safe for concurrent use.
type Machine[S, E comparable, D any] struct {
	table    map[S]map[E][]transition[S, E, D]
	wildcard map[E][]transition[S, E, D]
}

// Fire resolves the transition for (from, event), runs its actions on data
// and returns the target state. On error the returned state is from.
func (m *Machine[S, E, D]) Fire(ctx context.Context, from S, event E, data D) (S, error) {
	candidates := m.candidates(from, event)
	if len(candidates) == 0 {
		return from, &ErrNoTransitionAvailable{State: fmt.Sprint(from), Event: fmt.Sprint(event)}
	}

	for _, t := range candidates {
		if !passes(ctx, t.guards, from, event, data) {
			continue
		}
		for _, action := range t.actions {
			if err := action(ctx, from, t.to, event, data); err != nil {
				return from, err
			}
		}
		return t.to, nil
	}

	return from, &ErrTransitionRejected{State: fmt.Sprint(from), Event: fmt.Sprint(event)}
}

// CanFire reports whether Fire would find a transition whose guards pass.
// Actions are not run.
func (m *Machine[S, E, D]) CanFire(ctx context.Context, from S, event E, data D) bool {
	for _, t := range m.candidates(from, event) {
		if passes(ctx, t.guards, from, event, data) {
			return true
		}
	}
	return false
}

// Events lists events with at least one transition out of from, including
// wildcard transitions.
func (m *Machine[S, E, D]) Events(from S) []E {
	seen := make(map[E]struct{})
	var out []E
	for e := range m.table[from] {
		seen[e] = struct{}{}
		out = append(out, e)
	}
	for e := range m.wildcard {
		if _, ok := seen[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func (m *Machine[S, E, D]) candidates(from S, event E) []transition[S, E, D] {
	if ts := m.table[from][event]; len(ts) > 0 {
		return ts
	}
	return m.wildcard[event]
}

func passes[S, E comparable, D any](ctx context.Context, guards []Guard[S, E, D], from S, event E, data D) bool {
	for _, g := range guards {
		if !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
