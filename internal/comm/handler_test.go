package comm

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

// fakeLink is an in-memory Link used to exercise the comm handler without a
// real transport.
type fakeLink struct {
	mu         sync.Mutex
	written    []byte
	toDeliver  []byte
	operational bool
}

func newFakeLink() *fakeLink { return &fakeLink{operational: true} }

func (f *fakeLink) Open() error  { f.operational = true; return nil }
func (f *fakeLink) Close() error { f.operational = false; return nil }

func (f *fakeLink) ReadAvailable() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toDeliver) == 0 {
		return nil, nil
	}
	out := f.toDeliver
	f.toDeliver = nil
	return out, nil
}

func (f *fakeLink) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data...)
	return len(data), nil
}

func (f *fakeLink) Operational() bool { return f.operational }

func (f *fakeLink) deliver(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toDeliver = append(f.toDeliver, data...)
}

func TestHandlerSendAndReceive(t *testing.T) {
	l := newFakeLink()
	h := NewHandler(l, 100*time.Millisecond, nil)

	req := &protocol.Request{Command: protocol.CmdCommControl, Subfunction: protocol.SubDiscover}
	sent, err := h.Send(req)
	if err != nil || !sent {
		t.Fatalf("send failed: sent=%v err=%v", sent, err)
	}
	if h.ReadyToSend() {
		t.Fatalf("handler should not be ready to send while waiting")
	}

	resp := &protocol.Response{Command: protocol.CmdCommControl, Subfunction: protocol.SubDiscover, Code: protocol.CodeOK, Payload: []byte{1, 2, 3}}
	l.deliver(protocol.EncodeResponseFrame(resp))

	h.Process()
	if !h.ResponseAvailable() {
		t.Fatalf("expected a response to be available")
	}
	got := h.GetResponse()
	if !bytes.Equal(got.Payload, resp.Payload) {
		t.Fatalf("payload mismatch: %v", got.Payload)
	}
	if !h.ReadyToSend() {
		t.Fatalf("handler should be ready to send again after consuming the response")
	}
}

func TestHandlerTimesOut(t *testing.T) {
	l := newFakeLink()
	h := NewHandler(l, 5*time.Millisecond, nil)

	req := &protocol.Request{Command: protocol.CmdCommControl, Subfunction: protocol.SubDiscover}
	if _, err := h.Send(req); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	h.Process()
	if !h.HasTimedOut() {
		t.Fatalf("expected timeout")
	}
	if !h.ReadyToSend() {
		t.Fatalf("handler should be ready to send again after timeout")
	}
}

func TestHandlerDetectsMalformedFrame(t *testing.T) {
	l := newFakeLink()
	h := NewHandler(l, 100*time.Millisecond, nil)

	req := &protocol.Request{Command: protocol.CmdGetInfo, Subfunction: protocol.SubGetProtocolVersion}
	if _, err := h.Send(req); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	resp := &protocol.Response{Command: protocol.CmdGetInfo, Subfunction: protocol.SubGetProtocolVersion, Code: protocol.CodeOK, Payload: []byte{1, 0}}
	wire := protocol.EncodeResponseFrame(resp)
	wire[len(wire)-1] ^= 0xFF
	l.deliver(wire)

	h.Process()
	if !h.HasMalformedFrame() {
		t.Fatalf("expected malformed frame detection")
	}
}

func TestThrottlerBoundsMeanBitrate(t *testing.T) {
	th := NewThrottler(5000, time.Second)
	th.SetEnabled(true)

	const bits = 166
	start := time.Now()
	sent := 0
	for time.Since(start) < 5*time.Second {
		if th.Allow(bits) {
			sent++
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	elapsed := time.Since(start).Seconds()
	meanBitrate := float64(sent*bits) / elapsed

	if meanBitrate < 4000 || meanBitrate > 6000 {
		t.Fatalf("mean bitrate = %.1f bit/s, want [4000,6000]", meanBitrate)
	}
}
