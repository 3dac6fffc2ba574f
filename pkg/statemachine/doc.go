// Package statemachine provides a generic, stateless transition table.
//
// A Machine holds no current state. Callers pass the state they loaded from
// storage to Fire and persist the state it returns, which lets one Machine
// value serve every record concurrently.
//
// Several transitions may share a (state, event) pair; they are tried in
// registration order and the first whose guards all pass wins. Transitions
// registered with FromAny apply to every state that has no specific
// transition for the event.
//
//	m, err := statemachine.NewBuilder[Status, Trigger, *Subscription]().
//		From(Pending).When(Activate).To(Active).WithAction(startPeriod).Add().
//		FromAny().When(Complete).To(Completed).Add().
//		Build()
//
//	next, err := m.Fire(ctx, sub.Status, Activate, sub)
package statemachine
