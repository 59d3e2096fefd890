package datastore

import (
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

// DeviceInfo accumulates everything the info poller (C8) learns about a
// connected device (§3 "Entity: DeviceInfo"). It starts empty and is
// considered Complete once every field required by the FSM has a value.
type DeviceInfo struct {
	ProtocolVersion string

	MaxRxPayloadSize uint16
	MaxTxPayloadSize uint16
	MaxBitrate       uint32
	HeartbeatTimeout time.Duration
	RxTimeout        time.Duration
	AddressSizeBits  uint8

	Features protocol.FeatureFlags

	ForbiddenRegions []protocol.MemoryRegion
	ReadOnlyRegions  []protocol.MemoryRegion

	RPVs  []protocol.RPVDefinition
	Loops []protocol.LoopDefinition

	gotProtocolVersion bool
	gotCommParams      bool
	gotFeatures        bool
	gotRegionCounts    bool
	forbiddenWant      int
	readOnlyWant       int
	gotRPVCount        bool
	rpvWant            int
	gotLoopCount       bool
	loopWant           int
}

func NewDeviceInfo() *DeviceInfo { return &DeviceInfo{} }

func (di *DeviceInfo) SetProtocolVersion(v string) {
	di.ProtocolVersion = v
	di.gotProtocolVersion = true
}

func (di *DeviceInfo) SetCommParams(p protocol.CommParams) {
	di.MaxRxPayloadSize = p.MaxRxPayloadSize
	di.MaxTxPayloadSize = p.MaxTxPayloadSize
	di.MaxBitrate = p.MaxBitrate
	di.HeartbeatTimeout = time.Duration(p.HeartbeatTimeout * float64(time.Second))
	di.RxTimeout = time.Duration(p.RxTimeout * float64(time.Second))
	di.AddressSizeBits = p.AddressSizeBits
	di.gotCommParams = true
}

func (di *DeviceInfo) SetFeatures(f protocol.FeatureFlags) {
	di.Features = f
	di.gotFeatures = true
}

func (di *DeviceInfo) SetRegionCounts(forbidden, readOnly int) {
	di.forbiddenWant, di.readOnlyWant = forbidden, readOnly
	di.ForbiddenRegions = make([]protocol.MemoryRegion, 0, forbidden)
	di.ReadOnlyRegions = make([]protocol.MemoryRegion, 0, readOnly)
	di.gotRegionCounts = true
}

func (di *DeviceInfo) AddForbiddenRegion(r protocol.MemoryRegion) { di.ForbiddenRegions = append(di.ForbiddenRegions, r) }
func (di *DeviceInfo) AddReadOnlyRegion(r protocol.MemoryRegion)  { di.ReadOnlyRegions = append(di.ReadOnlyRegions, r) }

func (di *DeviceInfo) SetRPVCount(n int) {
	di.rpvWant = n
	di.RPVs = make([]protocol.RPVDefinition, 0, n)
	di.gotRPVCount = true
}
func (di *DeviceInfo) AddRPV(d protocol.RPVDefinition) { di.RPVs = append(di.RPVs, d) }

func (di *DeviceInfo) SetLoopCount(n int) {
	di.loopWant = n
	di.Loops = make([]protocol.LoopDefinition, 0, n)
	di.gotLoopCount = true
}
func (di *DeviceInfo) AddLoop(l protocol.LoopDefinition) { di.Loops = append(di.Loops, l) }

// Complete reports whether every field the FSM collects has arrived: the
// scalar responses plus all of the forbidden/read-only/RPV/loop pages.
func (di *DeviceInfo) Complete() bool {
	return di.gotProtocolVersion &&
		di.gotCommParams &&
		di.gotFeatures &&
		di.gotRegionCounts && len(di.ForbiddenRegions) == di.forbiddenWant && len(di.ReadOnlyRegions) == di.readOnlyWant &&
		di.gotRPVCount && len(di.RPVs) == di.rpvWant &&
		di.gotLoopCount && len(di.Loops) == di.loopWant
}

// IsForbidden reports whether [addr, addr+size) overlaps any forbidden
// region, consulted by the memory reader/writer before dispatch (§4.9/§4.10).
func (di *DeviceInfo) IsForbidden(addr uint64, size int) bool {
	end := addr + uint64(size)
	for _, r := range di.ForbiddenRegions {
		if regionsOverlap(addr, end, r) {
			return true
		}
	}
	return false
}

// IsReadOnly reports whether [addr, addr+size) overlaps any read-only
// region, consulted by the memory writer before dispatching a write (§4.10).
func (di *DeviceInfo) IsReadOnly(addr uint64, size int) bool {
	end := addr + uint64(size)
	for _, r := range di.ReadOnlyRegions {
		if regionsOverlap(addr, end, r) {
			return true
		}
	}
	return false
}

func regionsOverlap(addr, end uint64, r protocol.MemoryRegion) bool {
	rEnd := r.Start + r.Size
	return addr < rEnd && r.Start < end
}
