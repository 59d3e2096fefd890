// Package session implements the session initializer (component C6): once
// a device has been found it emits CONNECT at most once per second, retries
// on refusal, and latches a fatal error on malformed frames or link loss.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

const connectRetryInterval = time.Second

// Initializer drives the CONNECT handshake (§4.6).
type Initializer struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	now        func() time.Time

	lastAttempt time.Time
	attemptID   uuid.UUID
	inFlight    bool

	sessionID uint32
	connected bool
	lastErr   error
}

func New(d *dispatch.Dispatcher, codec *protocol.Codec) *Initializer {
	return &Initializer{dispatcher: d, codec: codec, now: time.Now}
}

// Reset clears any established session, e.g. when the top-level FSM returns
// to Init after a link loss.
func (s *Initializer) Reset() {
	s.connected = false
	s.sessionID = 0
	s.lastErr = nil
	s.inFlight = false
	s.lastAttempt = time.Time{}
}

func (s *Initializer) Connected() bool    { return s.connected }
func (s *Initializer) SessionID() uint32  { return s.sessionID }
func (s *Initializer) Err() error         { return s.lastErr }
func (s *Initializer) AttemptID() uuid.UUID { return s.attemptID }

// Process emits a new CONNECT attempt at most once per second while not yet
// connected and no request is outstanding.
func (s *Initializer) Process(deviceFound bool) {
	if s.connected || s.lastErr != nil || s.inFlight || !deviceFound {
		return
	}
	now := s.now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < connectRetryInterval {
		return
	}
	s.lastAttempt = now
	s.attemptID = uuid.New()
	s.inFlight = true
	s.dispatcher.RegisterRequest(s.codec.BuildConnect(), dispatch.PriorityConnect, s.onSuccess, s.onFailure)
}

func (s *Initializer) onSuccess(req *protocol.Request, resp *protocol.Response) {
	s.inFlight = false
	if resp.Code == protocol.CodeRefused || resp.Code == protocol.CodeBusy {
		// Not yet ready to accept a session: stay in the retry loop rather
		// than latching a fatal error.
		return
	}
	if resp.Code != protocol.CodeOK {
		s.lastErr = scrutinyerr.ErrRefused
		return
	}
	sessionID, err := protocol.ParseConnectResponse(resp.Payload)
	if err != nil {
		s.lastErr = err
		return
	}
	s.sessionID = sessionID
	s.connected = true
}

func (s *Initializer) onFailure(req *protocol.Request, err error) {
	s.inFlight = false
	// Anything reaching onFailure is transport-level (malformed frame,
	// broken link, timeout) and is fatal for the current connection attempt.
	s.lastErr = err
}
