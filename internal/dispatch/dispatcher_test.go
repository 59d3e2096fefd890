package dispatch

import (
	"testing"

	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

func reqWithTag(tag byte) *protocol.Request {
	return &protocol.Request{Command: protocol.CmdUserCommand, Subfunction: tag, Payload: []byte{tag}}
}

func TestPriorityQueuePopOrder(t *testing.T) {
	d := NewDispatcher(0)

	// Enqueue (value, priority) pairs exactly as in §8 scenario 1.
	type item struct {
		value    byte
		priority Priority
	}
	items := []item{
		{10, 0}, {20, 1}, {30, 0}, {40, 1}, {50, 0},
	}
	for _, it := range items {
		d.RegisterRequest(reqWithTag(it.value), it.priority, nil, nil)
	}

	want := []byte{20, 40, 10, 30, 50}
	for _, w := range want {
		r := d.PopNext()
		if r == nil {
			t.Fatalf("queue emptied early, expected %d", w)
		}
		if r.Request.Subfunction != w {
			t.Fatalf("popped %d, want %d", r.Request.Subfunction, w)
		}
	}
	if d.PopNext() != nil {
		t.Fatalf("expected queue to be empty")
	}
}

func TestDispatcherOrderingInvariant(t *testing.T) {
	d := NewDispatcher(0)
	d.RegisterRequest(reqWithTag(1), PriorityReadMemory, nil, nil)
	d.RegisterRequest(reqWithTag(2), PriorityHeartbeat, nil, nil)

	r := d.PopNext()
	if r.priority != PriorityHeartbeat {
		t.Fatalf("expected the higher-priority record to pop first")
	}
}

func TestRegisterRequestRejectsOversizedPayload(t *testing.T) {
	d := NewDispatcher(0)
	d.SetSizeLimits(4, 1024)

	failed := false
	req := &protocol.Request{Command: protocol.CmdMemoryControl, Subfunction: protocol.SubWrite, Payload: make([]byte, 8)}
	d.RegisterRequest(req, PriorityWriteMemory, nil, func(r *protocol.Request, err error) {
		failed = true
	})

	if !failed {
		t.Fatalf("expected the oversized request to fail immediately")
	}
	if !d.IsInError() {
		t.Fatalf("expected the dispatcher to latch a critical error")
	}
	if d.Len() != 0 {
		t.Fatalf("oversized request must not be enqueued")
	}
}

func TestRegisterRequestRejectsOversizedExpectedResponse(t *testing.T) {
	d := NewDispatcher(0)
	d.SetSizeLimits(1024, 4)

	req := &protocol.Request{Command: protocol.CmdMemoryControl, Subfunction: protocol.SubRead, ExpectedResponseSize: 100}
	failed := false
	d.RegisterRequest(req, PriorityReadMemory, nil, func(r *protocol.Request, err error) { failed = true })

	if !failed || !d.IsInError() {
		t.Fatalf("expected rejection and critical error latch")
	}
}

func TestQueueFullRejectsWithoutLatchingCriticalError(t *testing.T) {
	d := NewDispatcher(1)
	d.RegisterRequest(reqWithTag(1), PriorityReadMemory, nil, nil)

	failed := false
	d.RegisterRequest(reqWithTag(2), PriorityReadMemory, nil, func(r *protocol.Request, err error) { failed = true })

	if !failed {
		t.Fatalf("expected the second request to fail when the queue is full")
	}
	if d.IsInError() {
		t.Fatalf("a full queue is not a dispatcher-internal fatal error")
	}
}
