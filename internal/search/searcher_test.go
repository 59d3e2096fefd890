package search

import (
	"testing"
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

func TestSearcherEmitsDiscoverOnCadence(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	s := New(d, protocol.NewCodec(protocol.AddressSize32))
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.SetEnabled(true)
	s.Process()
	if d.Len() != 1 {
		t.Fatalf("expected one DISCOVER queued, got %d", d.Len())
	}

	d.PopNext()
	s.Process()
	if d.Len() != 0 {
		t.Fatalf("expected no new DISCOVER before the interval elapses")
	}

	clock = clock.Add(600 * time.Millisecond)
	s.Process()
	if d.Len() != 1 {
		t.Fatalf("expected a new DISCOVER after 500ms elapsed")
	}
}

func TestSearcherCachesAndExpiresIdentity(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	codec := protocol.NewCodec(protocol.AddressSize32)
	s := New(d, codec)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.SetEnabled(true)
	s.Process()
	record := d.PopNext()

	payload := make([]byte, 19)
	payload[16] = 1
	payload[17] = 0
	resp := &protocol.Response{Payload: payload}
	record.Complete(resp, nil)

	if !s.DeviceFound() {
		t.Fatalf("expected device to be found after a successful DISCOVER")
	}

	clock = clock.Add(4 * time.Second)
	s.Process()
	if s.DeviceFound() {
		t.Fatalf("expected cache to expire after 3s of silence")
	}
}
