// Package events carries orchestration progress to whoever presents it.
// The orchestrator publishes into a Sink chosen at construction time; a Bus
// fans events out to registered callbacks.
package events

import (
	"sort"
	"sync"
)

// Event names as seen by the presentation layer.
const (
	NameStatusUpdate = "status-update"
	NameToolStatus   = "tool-status"
)

// OperationType is the kind of volume operation an event belongs to.
type OperationType string

const (
	Encryption OperationType = "encryption"
	Mount      OperationType = "mount"
	Unmount    OperationType = "unmount"
	Decryption OperationType = "decryption"
)

// Status is an operation lifecycle state.
type Status string

const (
	Initializing Status = "initializing"
	Processing   Status = "processing"
	Completed    Status = "completed"
	Failed       Status = "failed"
	Cancelled    Status = "cancelled"
)

// Terminal reports whether no further events follow for the operation.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Event is anything published on the stream.
type Event interface {
	EventName() string
}

// StatusUpdate reports a lifecycle transition or progress of one operation.
type StatusUpdate struct {
	Type        OperationType `json:"type"`
	Status      Status        `json:"status"`
	Progress    float64       `json:"progress"`
	Message     string        `json:"message"`
	TargetDisk  string        `json:"targetDisk"`
	OperationID string        `json:"operationId"`
}

func (StatusUpdate) EventName() string { return NameStatusUpdate }

// ToolStatus reports a change in encryption tool availability.
type ToolStatus struct {
	Tool    string `json:"tool"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (ToolStatus) EventName() string { return NameToolStatus }

// Sink receives published events.
type Sink interface {
	Publish(ev Event)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus delivers each event synchronously to every subscriber, in subscription
// order, on the publishing goroutine. Events from one publisher therefore
// arrive in the order they were published.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish implements Sink
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Recorder is a Sink that keeps every event, for callers that inspect the
// stream after the fact.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Sink
func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// StatusUpdates returns the recorded status updates for one operation id,
// or all of them when id is empty.
func (r *Recorder) StatusUpdates(id string) []StatusUpdate {
	var out []StatusUpdate
	for _, ev := range r.Events() {
		if su, ok := ev.(StatusUpdate); ok && (id == "" || su.OperationID == id) {
			out = append(out, su)
		}
	}
	return out
}

// ToolStatuses returns the recorded tool-status events
func (r *Recorder) ToolStatuses() []ToolStatus {
	var out []ToolStatus
	for _, ev := range r.Events() {
		if ts, ok := ev.(ToolStatus); ok {
			out = append(out, ts)
		}
	}
	return out
}
