// Package dispatch implements the request dispatcher (component C4): a
// bounded priority queue keyed on (priority, insertion order), a size-limit
// gate, and success/failure completion callbacks.
package dispatch

import (
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

// Priority is the fixed assignment used by the core (§4.4); larger wins.
type Priority int

const (
	PriorityDiscover    Priority = 0
	PriorityPollInfo    Priority = 1
	PriorityReadMemory  Priority = 2
	PriorityDatalogging Priority = 3
	PriorityWriteMemory Priority = 4
	PriorityUserCommand Priority = 5
	PriorityHeartbeat   Priority = 6
	PriorityConnect     Priority = 7
	PriorityDisconnect  Priority = 8
)

// SuccessCallback and FailureCallback are the typed function values stored
// on a RequestRecord (§9 "Callbacks vs channels" — no hidden allocation on
// the hot path, no channel hand-off for something resolved synchronously
// within one tick).
type SuccessCallback func(req *protocol.Request, resp *protocol.Response)
type FailureCallback func(req *protocol.Request, err error)

// RequestRecord is one queued request plus its callbacks, priority, and
// completion flag (§3 "Entity: RequestRecord").
type RequestRecord struct {
	Request   *protocol.Request
	priority  Priority
	seq       uint64
	onSuccess SuccessCallback
	onFailure FailureCallback
	completed bool
}

func (r *RequestRecord) Priority() Priority { return r.priority }
func (r *RequestRecord) IsCompleted() bool  { return r.completed }

// Complete runs the matching callback exactly once. Calling Complete twice
// on the same record is a programming error and the second call is a no-op.
func (r *RequestRecord) Complete(resp *protocol.Response, err error) {
	if r.completed {
		return
	}
	r.completed = true
	if err != nil {
		if r.onFailure != nil {
			r.onFailure(r.Request, err)
		}
		return
	}
	if r.onSuccess != nil {
		r.onSuccess(r.Request, resp)
	}
}

// Dispatcher is the synchronous priority queue described by §4.4.
type Dispatcher struct {
	queue           *recordHeap
	maxSize         int
	seqCounter      uint64
	rxSizeLimit     int // max request payload size; 0 = unlimited
	txSizeLimit     int // max response payload size; 0 = unlimited
	criticalError   bool
}

// NewDispatcher builds a dispatcher with a bounded queue size, preventing
// bloat from throttling-induced backlog (§4.4).
func NewDispatcher(queueSize int) *Dispatcher {
	d := &Dispatcher{queue: newRecordHeap(), maxSize: queueSize}
	return d
}

// Reset clears the queue and error latch, e.g. on session restart.
func (d *Dispatcher) Reset() {
	d.queue = newRecordHeap()
	d.rxSizeLimit = 0
	d.txSizeLimit = 0
	d.criticalError = false
}

func (d *Dispatcher) IsInError() bool { return d.criticalError }

// SetSizeLimits configures the negotiated request/response payload caps,
// e.g. from DeviceInfo once the info poller has finished.
func (d *Dispatcher) SetSizeLimits(maxRequestPayload, maxResponsePayload int) {
	d.rxSizeLimit = maxRequestPayload
	d.txSizeLimit = maxResponsePayload
}

// RegisterRequest enqueues req at priority p. A request whose payload or
// declared expected response size violates the negotiated caps is a
// dispatcher-internal fatal error: it completes with failure immediately
// and latches the critical error flag (§4.4).
func (d *Dispatcher) RegisterRequest(req *protocol.Request, priority Priority, onSuccess SuccessCallback, onFailure FailureCallback) *RequestRecord {
	record := &RequestRecord{Request: req, priority: priority, onSuccess: onSuccess, onFailure: onFailure}

	if d.rxSizeLimit > 0 && req.Size() > d.rxSizeLimit {
		d.criticalError = true
		record.Complete(nil, scrutinyerr.ErrSizeLimit)
		return record
	}
	if d.txSizeLimit > 0 && int(req.ExpectedResponseSize) > d.txSizeLimit {
		d.criticalError = true
		record.Complete(nil, scrutinyerr.ErrSizeLimit)
		return record
	}
	if d.maxSize > 0 && d.queue.Len() >= d.maxSize {
		record.Complete(nil, scrutinyerr.ErrQueueFull)
		return record
	}

	d.seqCounter++
	record.seq = d.seqCounter
	d.queue.push(record)
	return record
}

// PeekNext returns the highest-priority record without removing it.
func (d *Dispatcher) PeekNext() *RequestRecord { return d.queue.peek() }

// PopNext removes and returns the highest-priority record.
func (d *Dispatcher) PopNext() *RequestRecord { return d.queue.pop() }

func (d *Dispatcher) Len() int { return d.queue.Len() }

// FullyStopped reports whether the queue is empty, consumed by the
// top-level FSM's WaitCleanState (§4.12).
func (d *Dispatcher) FullyStopped() bool { return d.queue.Len() == 0 }
