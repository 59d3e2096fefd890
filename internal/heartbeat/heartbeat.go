// Package heartbeat implements the heartbeat generator (component C7): once
// armed with a session id, it emits a HEARTBEAT carrying an incrementing
// 16-bit challenge on a cadence derived from the target's advertised
// timeout, and validates the echoed session id and challenge response.
package heartbeat

import (
	"log"
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

const minInterval = 500 * time.Millisecond

// Generator drives the periodic challenge/response liveness check (§4.7).
type Generator struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	now        func() time.Time

	enabled   bool
	sessionID uint32
	interval  time.Duration

	challenge  uint16
	inFlight   bool
	lastSent   time.Time
	mismatches uint64
}

func New(d *dispatch.Dispatcher, codec *protocol.Codec) *Generator {
	return &Generator{dispatcher: d, codec: codec, now: time.Now, interval: minInterval}
}

// Arm enables the generator for a session and sets its cadence from the
// target's advertised heartbeat timeout (interval = timeout * 0.75, floored
// at 500 ms per §4.7).
func (g *Generator) Arm(sessionID uint32, heartbeatTimeout time.Duration) {
	g.enabled = true
	g.sessionID = sessionID
	g.interval = time.Duration(float64(heartbeatTimeout) * 0.75)
	if g.interval < minInterval {
		g.interval = minInterval
	}
	g.lastSent = time.Time{}
}

func (g *Generator) Disarm() {
	g.enabled = false
	g.inFlight = false
}

func (g *Generator) MismatchCount() uint64 { return g.mismatches }

// Process emits the next HEARTBEAT once the interval has elapsed and no
// round trip is outstanding.
func (g *Generator) Process() {
	if !g.enabled || g.inFlight {
		return
	}
	now := g.now()
	if !g.lastSent.IsZero() && now.Sub(g.lastSent) < g.interval {
		return
	}
	g.lastSent = now
	g.inFlight = true
	req := g.codec.BuildHeartbeat(g.sessionID, g.challenge)
	// The 16-bit challenge advances on every round trip regardless of
	// outcome, wrapping via the uint16 add.
	g.challenge++
	g.dispatcher.RegisterRequest(req, dispatch.PriorityHeartbeat, g.onSuccess, g.onFailure)
}

func (g *Generator) onSuccess(req *protocol.Request, resp *protocol.Response) {
	g.inFlight = false
	hb, err := protocol.ParseHeartbeatResponse(resp.Payload)
	if err != nil {
		g.mismatches++
		log.Printf("heartbeat: malformed response: %v", err)
		return
	}
	sentChallenge := g.challenge - 1 // challenge already advanced in Process
	expected := g.codec.ExpectedChallengeResponse(sentChallenge)
	if hb.SessionID != g.sessionID || hb.ChallengeResponse != expected {
		g.mismatches++
		log.Printf("heartbeat: mismatch: got session=%d response=%d, want session=%d response=%d",
			hb.SessionID, hb.ChallengeResponse, g.sessionID, expected)
	}
}

func (g *Generator) onFailure(req *protocol.Request, err error) {
	g.inFlight = false
	// A failed round trip (including timeout) surfaces through the comm
	// handler's own timeout accounting, which tears down the session; the
	// generator itself just counts it and keeps trying on its cadence.
	g.mismatches++
	log.Printf("heartbeat: request failed: %v", err)
}
