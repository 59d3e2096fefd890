package session

import (
	"testing"
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

func TestInitializerDoesNotRetryWhileInFlight(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	s := New(d, protocol.NewCodec(protocol.AddressSize32))
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.Process(true)
	if d.Len() != 1 {
		t.Fatalf("expected one CONNECT queued, got %d", d.Len())
	}
	s.Process(true)
	if d.Len() != 1 {
		t.Fatalf("expected no second CONNECT while the first is in flight")
	}
}

func TestInitializerStoresSessionIDOnAccept(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	s := New(d, protocol.NewCodec(protocol.AddressSize32))
	s.Process(true)
	record := d.PopNext()

	payload := []byte{0, 0, 0, 42}
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: payload}, nil)

	if !s.Connected() {
		t.Fatalf("expected connected state")
	}
	if s.SessionID() != 42 {
		t.Fatalf("got session id %d, want 42", s.SessionID())
	}
}

func TestInitializerRetriesOnRefusal(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	s := New(d, protocol.NewCodec(protocol.AddressSize32))
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.Process(true)
	record := d.PopNext()
	record.Complete(&protocol.Response{Code: protocol.CodeRefused}, nil)

	if s.Connected() || s.Err() != nil {
		t.Fatalf("a refusal must not be fatal nor connect")
	}

	clock = clock.Add(2 * time.Second)
	s.Process(true)
	if d.Len() != 1 {
		t.Fatalf("expected a retry after the 1s interval elapsed")
	}
}

func TestInitializerLatchesErrorOnLinkFailure(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	s := New(d, protocol.NewCodec(protocol.AddressSize32))
	s.Process(true)
	record := d.PopNext()
	record.Complete(nil, scrutinyerr.ErrLinkBroken)

	if s.Err() == nil {
		t.Fatalf("expected a latched error on link failure")
	}
	s.Process(true)
	if d.Len() != 0 {
		t.Fatalf("a latched error must stop further CONNECT attempts")
	}
}
