// Package search implements the device searcher (component C5): while
// enabled it emits a DISCOVER request every 500 ms and caches the
// responding target's identity, clearing the cache if the target goes
// quiet for 3 s.
package search

import (
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

const (
	discoverInterval = 500 * time.Millisecond
	cacheTimeout     = 3 * time.Second
)

// Searcher drives the periodic DISCOVER broadcast and caches the last
// accepted response (§4.5).
type Searcher struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec

	enabled bool
	lastSent time.Time
	now      func() time.Time

	found        bool
	lastResponse time.Time
	firmwareID   [16]byte
	displayName  string
	protoVersion string
}

func New(d *dispatch.Dispatcher, codec *protocol.Codec) *Searcher {
	return &Searcher{dispatcher: d, codec: codec, now: time.Now}
}

func (s *Searcher) SetEnabled(enabled bool) {
	s.enabled = enabled
	if !enabled {
		s.clearCache()
	}
}

func (s *Searcher) Enabled() bool { return s.enabled }

// Process emits a DISCOVER request on its 500 ms cadence and expires the
// cached identity after 3 s of silence.
func (s *Searcher) Process() {
	now := s.now()
	if s.found && now.Sub(s.lastResponse) > cacheTimeout {
		s.clearCache()
	}
	if !s.enabled {
		return
	}
	if s.lastSent.IsZero() || now.Sub(s.lastSent) >= discoverInterval {
		s.lastSent = now
		s.dispatcher.RegisterRequest(s.codec.BuildDiscover(), dispatch.PriorityDiscover, s.onSuccess, s.onFailure)
	}
}

func (s *Searcher) onSuccess(req *protocol.Request, resp *protocol.Response) {
	disc, err := protocol.ParseDiscoverResponse(resp.Payload)
	if err != nil {
		return
	}
	s.found = true
	s.lastResponse = s.now()
	s.firmwareID = disc.FirmwareID
	s.displayName = disc.DisplayName
	s.protoVersion = disc.ProtocolVersion
}

func (s *Searcher) onFailure(req *protocol.Request, err error) {
	// A failed DISCOVER round trip is not itself an error: it just means no
	// device answered this time. The cache naturally expires via Process.
}

func (s *Searcher) clearCache() {
	s.found = false
	s.firmwareID = [16]byte{}
	s.displayName = ""
	s.protoVersion = ""
}

// DeviceFound reports whether a cached, not-yet-expired identity exists.
func (s *Searcher) DeviceFound() bool { return s.found }

func (s *Searcher) FirmwareID() [16]byte   { return s.firmwareID }
func (s *Searcher) DisplayName() string    { return s.displayName }
func (s *Searcher) ProtocolVersion() string { return s.protoVersion }
