package device

import "sync"

// DeviceStats holds device-handler statistics with internal synchronization,
// mirroring the counters/snapshot split used elsewhere in this codebase for
// anything read concurrently by a metrics exporter.
type DeviceStats struct {
	mu sync.RWMutex

	requestsSent     uint64
	requestsFailed   uint64
	reconnectCount   uint64
	heartbeatMissed  uint64
	lastStateChanges uint64
}

// DeviceStatsSnapshot is a copy of DeviceStats without the mutex, safe to
// hand to a caller or a metrics collector.
type DeviceStatsSnapshot struct {
	RequestsSent     uint64
	RequestsFailed   uint64
	ReconnectCount   uint64
	HeartbeatMissed  uint64
	StateTransitions uint64
}

func (s *DeviceStats) recordRequest(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsSent++
	if failed {
		s.requestsFailed++
	}
}

func (s *DeviceStats) recordReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectCount++
}

func (s *DeviceStats) recordStateChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStateChanges++
}

func (s *DeviceStats) setHeartbeatMissed(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatMissed = n
}

// Snapshot returns a consistent copy of the current counters.
func (s *DeviceStats) Snapshot() DeviceStatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DeviceStatsSnapshot{
		RequestsSent:     s.requestsSent,
		RequestsFailed:   s.requestsFailed,
		ReconnectCount:   s.reconnectCount,
		HeartbeatMissed:  s.heartbeatMissed,
		StateTransitions: s.lastStateChanges,
	}
}
