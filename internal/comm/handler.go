// Package comm implements the comm handler (component C3): it owns exactly
// one outstanding request against the target at a time, enforces the
// response timeout, and applies bitrate throttling to outgoing sends.
package comm

import (
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/link"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

const DefaultResponseTimeout = 1 * time.Second

// Handler drives one outstanding request over a Link.
type Handler struct {
	link      link.Link
	timeout   time.Duration
	throttler *Throttler

	waiting       bool
	sentAt        time.Time
	rxBuf         []byte
	response      *protocol.Response
	responseReady bool
	timedOut      bool
	malformed     bool
}

// NewHandler builds a comm handler over l with the given response timeout.
// If throttler is nil a disabled (pass-through) throttler is created.
func NewHandler(l link.Link, timeout time.Duration, throttler *Throttler) *Handler {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	if throttler == nil {
		throttler = NewThrottler(0, time.Second)
	}
	return &Handler{link: l, timeout: timeout, throttler: throttler}
}

// Throttler exposes the handler's throttler so the top-level FSM can
// reconfigure it once the target's advertised max bitrate is known.
func (h *Handler) Throttler() *Throttler {
	return h.throttler
}

// SetTimeout reconfigures the response timeout, e.g. once the target
// reports its own rx timeout via GetCommParams.
func (h *Handler) SetTimeout(timeout time.Duration) {
	h.timeout = timeout
}

// ReadyToSend reports whether no request is currently outstanding.
func (h *Handler) ReadyToSend() bool {
	return !h.waiting
}

// Send serialises req and writes it to the link if the throttler admits it.
// It returns false without side effects if the throttler defers the send;
// the caller (the dispatcher-driving tick) should retry on a later tick.
func (h *Handler) Send(req *protocol.Request) (bool, error) {
	if h.waiting {
		return false, scrutinyerr.New(scrutinyerr.Logical, "ERR_BUSY", "comm handler already has an outstanding request")
	}
	wire := protocol.EncodeRequestFrame(req)
	if !h.throttler.Allow(len(wire) * 8) {
		return false, nil
	}
	if _, err := h.link.Write(wire); err != nil {
		return false, scrutinyerr.Wrap(scrutinyerr.Transient, "ERR_LINK_WRITE", "link write failed", err)
	}
	h.waiting = true
	h.sentAt = time.Now()
	h.responseReady = false
	h.timedOut = false
	h.malformed = false
	h.rxBuf = h.rxBuf[:0]
	return true, nil
}

// Process pumps the link for bytes, per tick, per §5's cooperative
// scheduling model.
func (h *Handler) Process() {
	if !h.waiting {
		return
	}
	if time.Since(h.sentAt) > h.timeout {
		h.timedOut = true
		h.waiting = false
		return
	}
	if !h.link.Operational() {
		h.malformed = true
		h.waiting = false
		return
	}
	data, err := h.link.ReadAvailable()
	if err != nil {
		h.malformed = true
		h.waiting = false
		return
	}
	if len(data) > 0 {
		h.rxBuf = append(h.rxBuf, data...)
	}

	resp, consumed, ok, err := protocol.TryDecodeResponseFrame(h.rxBuf)
	if err != nil {
		h.rxBuf = h.rxBuf[consumed:]
		h.malformed = true
		h.waiting = false
		return
	}
	if !ok {
		return
	}
	h.rxBuf = h.rxBuf[consumed:]
	h.response = resp
	h.responseReady = true
	h.waiting = false
}

func (h *Handler) HasTimedOut() bool { return h.timedOut }

// HasMalformedFrame reports a bad frame, CRC failure, or broken link
// observed while waiting for a response (§4.3 "Failure model").
func (h *Handler) HasMalformedFrame() bool { return h.malformed }

func (h *Handler) ResponseAvailable() bool { return h.responseReady }

// GetResponse consumes and returns the pending response; it returns nil if
// none is available.
func (h *Handler) GetResponse() *protocol.Response {
	if !h.responseReady {
		return nil
	}
	r := h.response
	h.responseReady = false
	h.response = nil
	return r
}

// ClearTimeout resets the timeout/malformed flags after the top-level FSM
// has observed and acted on them.
func (h *Handler) ClearTimeout() {
	h.timedOut = false
	h.malformed = false
}

// FullyStopped reports whether the handler has no outstanding transaction,
// consumed by the top-level FSM's WaitCleanState (§4.12).
func (h *Handler) FullyStopped() bool {
	return !h.waiting
}
