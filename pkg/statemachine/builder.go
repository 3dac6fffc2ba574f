package statemachine

// Builder assembles a Machine with a fluent API. Errors are collected and
// returned by Build.
type Builder[S, E comparable, D any] struct {
	m   *Machine[S, E, D]
	err error

	from    []S
	anyFrom bool
	event   E
	hasEv   bool
	to      S
	hasTo   bool
	guards  []Guard[S, E, D]
	actions []Action[S, E, D]
}

func NewBuilder[S, E comparable, D any]() *Builder[S, E, D] {
	return &Builder[S, E, D]{
		m: &Machine[S, E, D]{
			table:    make(map[S]map[E][]transition[S, E, D]),
			wildcard: make(map[E][]transition[S, E, D]),
		},
	}
}

// From starts a transition out of one or more states.
func (b *Builder[S, E, D]) From(states ...S) *Builder[S, E, D] {
	b.reset()
	b.from = states
	return b
}

// FromAny starts a transition that applies to every state lacking a
// specific transition for the event.
func (b *Builder[S, E, D]) FromAny() *Builder[S, E, D] {
	b.reset()
	b.anyFrom = true
	return b
}

func (b *Builder[S, E, D]) When(event E) *Builder[S, E, D] {
	b.event, b.hasEv = event, true
	return b
}

func (b *Builder[S, E, D]) To(state S) *Builder[S, E, D] {
	b.to, b.hasTo = state, true
	return b
}

func (b *Builder[S, E, D]) WithGuard(g Guard[S, E, D]) *Builder[S, E, D] {
	if g != nil {
		b.guards = append(b.guards, g)
	}
	return b
}

func (b *Builder[S, E, D]) WithAction(a Action[S, E, D]) *Builder[S, E, D] {
	if a != nil {
		b.actions = append(b.actions, a)
	}
	return b
}

// Add registers the pending transition.
func (b *Builder[S, E, D]) Add() *Builder[S, E, D] {
	if b.err != nil {
		return b
	}
	if (!b.anyFrom && len(b.from) == 0) || !b.hasEv || !b.hasTo {
		b.err = ErrInvalidTransition
		return b
	}

	t := transition[S, E, D]{to: b.to, guards: b.guards, actions: b.actions}
	if b.anyFrom {
		b.m.wildcard[b.event] = append(b.m.wildcard[b.event], t)
	}
	for _, from := range b.from {
		events, ok := b.m.table[from]
		if !ok {
			events = make(map[E][]transition[S, E, D])
			b.m.table[from] = events
		}
		events[b.event] = append(events[b.event], t)
	}
	b.reset()
	return b
}

// Build returns the machine or the first registration error.
func (b *Builder[S, E, D]) Build() (*Machine[S, E, D], error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.m, nil
}

// MustBuild is Build that panics on error. Intended for package-level tables.
func (b *Builder[S, E, D]) MustBuild() *Machine[S, E, D] {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

func (b *Builder[S, E, D]) reset() {
	var zeroE E
	var zeroS S
	b.from = nil
	b.anyFrom = false
	b.event, b.hasEv = zeroE, false
	b.to, b.hasTo = zeroS, false
	b.guards = nil
	b.actions = nil
}
