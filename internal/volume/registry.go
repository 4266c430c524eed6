package volume

import (
	"sort"
	"sync"
	"time"

	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/system"
	"go.uber.org/atomic"
)

// operation is one in-flight record. It lives in the registry from spawn
// until it settles.
type operation struct {
	id        string
	kind      events.OperationType
	device    string
	startedAt time.Time
	params    map[string]string
	guard     *system.CleanupStack

	mu      sync.Mutex
	process system.Process

	settled   *atomic.Bool
	cancelled *atomic.Bool

	// stop is closed by CancelOperation so waits between attempts end early
	stop     chan struct{}
	stopOnce sync.Once
}

func newOperation(id string, kind events.OperationType, device string, started time.Time, params map[string]string) *operation {
	return &operation{
		id:        id,
		kind:      kind,
		device:    device,
		startedAt: started,
		params:    params,
		guard:     system.NewCleanupStack(),
		settled:   atomic.NewBool(false),
		cancelled: atomic.NewBool(false),
		stop:      make(chan struct{}),
	}
}

func (op *operation) setProcess(p system.Process) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.process = p
}

func (op *operation) liveProcess() system.Process {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.process
}

// settle claims the right to emit the terminal event. Only the first caller
// gets true.
func (op *operation) settle() bool {
	return op.settled.CompareAndSwap(false, true)
}

// abort wakes anything waiting on stopped. Safe to call more than once.
func (op *operation) abort() {
	op.stopOnce.Do(func() { close(op.stop) })
}

func (op *operation) stopped() <-chan struct{} {
	return op.stop
}

// OperationInfo is a read-only view of a registered operation.
type OperationInfo struct {
	ID         string               `json:"id"`
	Kind       events.OperationType `json:"kind"`
	DevicePath string               `json:"devicePath"`
	StartedAt  time.Time            `json:"startedAt"`
	Params     map[string]string    `json:"params,omitempty"`
	Pid        int                  `json:"pid,omitempty"`
}

// registry maps operation id to record.
type registry struct {
	mu  sync.RWMutex
	ops map[string]*operation
}

func newRegistry() *registry {
	return &registry{ops: make(map[string]*operation)}
}

func (r *registry) insert(op *operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.id] = op
}

func (r *registry) get(id string) (*operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[id]
	return op, ok
}

// remove deletes id and reports whether it was present.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ops[id]
	delete(r.ops, id)
	return ok
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

func (r *registry) snapshot() []OperationInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]OperationInfo, 0, len(r.ops))
	for _, op := range r.ops {
		info := OperationInfo{
			ID:         op.id,
			Kind:       op.kind,
			DevicePath: op.device,
			StartedAt:  op.startedAt,
			Params:     op.params,
		}
		if p := op.liveProcess(); p != nil {
			info.Pid = p.Pid()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
