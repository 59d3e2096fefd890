package heartbeat

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

func TestGeneratorIntervalIsThreeQuartersTimeout(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	g := New(d, protocol.NewCodec(protocol.AddressSize32))
	g.Arm(7, 2*time.Second)
	if g.interval != 1500*time.Millisecond {
		t.Fatalf("got interval %v, want 1.5s", g.interval)
	}
}

func TestGeneratorIntervalFloorsAtHalfSecond(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	g := New(d, protocol.NewCodec(protocol.AddressSize32))
	g.Arm(7, 100*time.Millisecond)
	if g.interval != minInterval {
		t.Fatalf("got interval %v, want floor %v", g.interval, minInterval)
	}
}

func TestGeneratorValidatesChallengeResponse(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	codec := protocol.NewCodec(protocol.AddressSize32)
	g := New(d, codec)
	clock := time.Unix(0, 0)
	g.now = func() time.Time { return clock }
	g.Arm(7, 2*time.Second)

	g.Process()
	record := d.PopNext()

	sentChallenge := uint16(0) // the first challenge value
	payload := make([]byte, 6)
	binary.BigEndian.PutUint32(payload[0:4], 7)
	binary.BigEndian.PutUint16(payload[4:6], codec.ExpectedChallengeResponse(sentChallenge))
	record.Complete(&protocol.Response{Payload: payload}, nil)

	if g.MismatchCount() != 0 {
		t.Fatalf("expected no mismatch for a correctly echoed challenge response")
	}
}

func TestGeneratorDetectsMismatch(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	codec := protocol.NewCodec(protocol.AddressSize32)
	g := New(d, codec)
	g.Arm(7, 2*time.Second)

	g.Process()
	record := d.PopNext()

	payload := make([]byte, 6)
	binary.BigEndian.PutUint32(payload[0:4], 7)
	binary.BigEndian.PutUint16(payload[4:6], 0xDEAD)
	record.Complete(&protocol.Response{Payload: payload}, nil)

	if g.MismatchCount() != 1 {
		t.Fatalf("expected one mismatch for a wrong challenge response")
	}
}
