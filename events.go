package nestedtree

import "sync"

// EventName identifies a lifecycle signal dispatched by a Tree. Names follow
// spec.md 6: "<action>: <record-class>".
type EventName string

const (
	EventMoving    EventName = "moving"
	EventMoved     EventName = "moved"
	EventCreating  EventName = "creating"
	EventSaving    EventName = "saving"
	EventSaved     EventName = "saved"
	EventDeleting  EventName = "deleting"
	EventRestoring EventName = "restoring"
	EventRestored  EventName = "restored"
)

// MovePayload is the payload carried by moving/moved events (spec.md 9's
// Design Note recommending a typed {node, target, position} payload instead
// of the source's stringly-typed ORM event bag).
type MovePayload struct {
	NodeID   uint64
	TargetID uint64
	Position Position
}

// Haltable is implemented by subscribers of the veto-able "moving" signal. A
// false return aborts the move with no structural side effects (spec.md 4.E).
type Haltable func(payload MovePayload) bool

// Listener is implemented by subscribers of fire-and-forget signals.
type Listener func(payload MovePayload)

// EventBus is the typed pub/sub described in spec.md 9's Design Notes: two
// kinds of signal (haltable, notification), keyed by record-class name,
// registered at startup. It replaces the teacher's implicit GORM hook
// dispatch with an explicit, inspectable registry.
type EventBus struct {
	mu        sync.RWMutex
	haltables map[string][]Haltable
	listeners map[string][]Listener
}

// NewEventBus returns an empty, ready-to-use EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		haltables: make(map[string][]Haltable),
		listeners: make(map[string][]Listener),
	}
}

// OnMoving registers a veto-capable subscriber for record-class name's
// "moving" signal.
func (b *EventBus) OnMoving(name string, fn Haltable) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.haltables[name] = append(b.haltables[name], fn)
}

// OnMoved registers a fire-and-forget subscriber for record-class name's
// "moved" signal.
func (b *EventBus) OnMoved(name string, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], fn)
}

// Until dispatches the haltable "moving" signal. Any subscriber returning
// false vetoes the move; Until then returns false and dispatch stops.
func (b *EventBus) Until(name string, payload MovePayload) bool {
	b.mu.RLock()
	subs := b.haltables[name]
	b.mu.RUnlock()
	for _, fn := range subs {
		if !fn(payload) {
			return false
		}
	}
	return true
}

// Dispatch fires the non-veto "moved" signal to every subscriber.
func (b *EventBus) Dispatch(name string, payload MovePayload) {
	b.mu.RLock()
	subs := b.listeners[name]
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(payload)
	}
}
