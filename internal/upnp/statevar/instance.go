package statevar

import (
	"sync"
	"time"
)

// EventCondition is a predicate evaluated against an instance's current
// value before a transition is considered event-eligible. Services that
// need custom evented conditions (e.g. "only event every Nth change")
// register one or more of these.
type EventCondition func(prev, current any) bool

// Instance is a live, mutable binding of a Definition: current/previous
// typed value, change timestamps, and the conditions gating whether a
// transition should raise an event. Instances hold the only mutable
// state in the engine; Definitions are immutable and shared by
// reference.
type Instance struct {
	mu         sync.Mutex
	Def        *Definition
	current    any
	previous   any
	lastChange time.Time
	lastEvent  time.Time
	conditions []EventCondition
}

// NewInstance creates an instance seeded with def's declared default (if
// any).
func NewInstance(def *Definition) *Instance {
	inst := &Instance{Def: def}
	if def.Default != nil {
		if v, err := Cast(def.Default, def.VarType); err == nil {
			inst.current = v
		}
	}
	return inst
}

// AddCondition registers an additional eventing predicate.
func (i *Instance) AddCondition(c EventCondition) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.conditions = append(i.conditions, c)
}

// Current returns the current typed value.
func (i *Instance) Current() any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// LastChange returns the timestamp of the most recent value transition,
// regardless of whether it raised an event.
func (i *Instance) LastChange() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastChange
}

// Set casts raw per the instance's definition, applies it, and reports
// whether the transition is event-eligible: send-events is set, the cast
// value differs from the previous one, and every registered condition
// holds. last_change is updated on every applied transition (even
// non-eventing ones) so it always reflects a monotone record of the most
// recent change, per spec.md §4.1.
func (i *Instance) Set(raw any) (shouldEvent bool, err error) {
	v, err := Cast(raw, i.Def.VarType)
	if err != nil {
		return false, err
	}
	if !i.Def.Valid(v) {
		return false, castErr(i.Def.VarType, raw, "value fails range/allowed-set validation")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.current
	different := prev == nil
	if !different {
		changed, _ := Equal(prev, v, i.Def.VarType)
		different = !changed
	}
	i.previous = prev
	i.current = v
	now := time.Now()
	i.lastChange = now

	if !i.Def.SendEvents || !different {
		return false, nil
	}
	for _, cond := range i.conditions {
		if !cond(prev, v) {
			return false, nil
		}
	}
	i.lastEvent = now
	return true, nil
}
