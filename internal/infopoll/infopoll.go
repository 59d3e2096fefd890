// Package infopoll implements the info poller (component C8): a linear
// state machine that reads every target parameter exactly once per session,
// paging through forbidden/read-only regions, RPV definitions, and loop
// definitions as needed.
package infopoll

import (
	"fmt"

	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

// State names one step of the poller's linear walk (§4.8).
type State int

const (
	StateInit State = iota
	StateGetProtocolVersion
	StateGetCommParams
	StateGetSupportedFeatures
	StateGetSpecialRegionCount
	StateGetForbiddenRegions
	StateGetReadOnlyRegions
	StateGetRPVCount
	StateGetRPVDefinition
	StateGetLoopCount
	StateGetLoopDefinition
	StateDone
	StateError
)

// Poller drives the sequence and writes every response into a DeviceInfo.
type Poller struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	info       *datastore.DeviceInfo

	state   State
	pending bool
	err     error

	forbiddenIdx, forbiddenTotal int
	readOnlyIdx, readOnlyTotal   int
	rpvCursor, rpvTotal          int
	loopIdx, loopTotal           int

	maxTxPayload uint16
}

func New(d *dispatch.Dispatcher, codec *protocol.Codec) *Poller {
	return &Poller{dispatcher: d, codec: codec, info: datastore.NewDeviceInfo(), state: StateInit, maxTxPayload: 64}
}

func (p *Poller) DeviceInfo() *datastore.DeviceInfo { return p.info }
func (p *Poller) State() State                      { return p.state }
func (p *Poller) Done() bool                         { return p.state == StateDone }
func (p *Poller) Failed() bool                        { return p.state == StateError }
func (p *Poller) Err() error                          { return p.err }

// Reset restarts the walk from scratch, e.g. on a new session.
func (p *Poller) Reset() {
	p.info = datastore.NewDeviceInfo()
	p.state = StateInit
	p.pending = false
	p.err = nil
	p.forbiddenIdx, p.forbiddenTotal = 0, 0
	p.readOnlyIdx, p.readOnlyTotal = 0, 0
	p.rpvCursor, p.rpvTotal = 0, 0
	p.loopIdx, p.loopTotal = 0, 0
}

func (p *Poller) fail(err error) {
	p.state = StateError
	p.err = err
	p.pending = false
}

// Process advances the state machine by dispatching the next request when
// none is outstanding. It is a no-op once Done or Error is reached.
func (p *Poller) Process() {
	if p.pending || p.state == StateDone || p.state == StateError {
		return
	}

	switch p.state {
	case StateInit:
		p.state = StateGetProtocolVersion
		p.Process()
		return

	case StateGetProtocolVersion:
		p.send(p.codec.BuildGetProtocolVersion(), dispatch.PriorityPollInfo, p.onProtocolVersion)

	case StateGetCommParams:
		p.send(p.codec.BuildGetParams(), dispatch.PriorityPollInfo, p.onCommParams)

	case StateGetSupportedFeatures:
		p.send(p.codec.BuildGetSupportedFeatures(), dispatch.PriorityPollInfo, p.onFeatures)

	case StateGetSpecialRegionCount:
		p.send(p.codec.BuildGetSpecialMemoryRegionCount(), dispatch.PriorityPollInfo, p.onRegionCount)

	case StateGetForbiddenRegions:
		req := p.codec.BuildGetSpecialMemoryRegionLocation(protocol.RegionForbidden, uint8(p.forbiddenIdx))
		p.send(req, dispatch.PriorityPollInfo, p.onForbiddenRegion)

	case StateGetReadOnlyRegions:
		req := p.codec.BuildGetSpecialMemoryRegionLocation(protocol.RegionReadOnly, uint8(p.readOnlyIdx))
		p.send(req, dispatch.PriorityPollInfo, p.onReadOnlyRegion)

	case StateGetRPVCount:
		p.send(p.codec.BuildGetRPVCount(), dispatch.PriorityPollInfo, p.onRPVCount)

	case StateGetRPVDefinition:
		pageCount := p.rpvTotal - p.rpvCursor
		if maxPerPage := int(p.maxTxPayload) / 3; maxPerPage > 0 && pageCount > maxPerPage {
			pageCount = maxPerPage
		}
		req := p.codec.BuildGetRPVDefinition(uint16(p.rpvCursor), uint16(pageCount))
		p.send(req, dispatch.PriorityPollInfo, p.onRPVDefinition)

	case StateGetLoopCount:
		p.send(p.codec.BuildGetLoopCount(), dispatch.PriorityPollInfo, p.onLoopCount)

	case StateGetLoopDefinition:
		req := p.codec.BuildGetLoopDefinition(uint8(p.loopIdx))
		p.send(req, dispatch.PriorityPollInfo, p.onLoopDefinition)
	}
}

func (p *Poller) send(req *protocol.Request, priority dispatch.Priority, onSuccess dispatch.SuccessCallback) {
	p.pending = true
	p.dispatcher.RegisterRequest(req, priority, onSuccess, func(r *protocol.Request, err error) {
		p.fail(err)
	})
}

// onProtocolVersion records the negotiated version. It does not compare
// against a previously seen version from an earlier session on the same
// DISCOVER handshake; a version change there would need to be surfaced to
// the caller before further polling rather than just recorded here.
func (p *Poller) onProtocolVersion(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	major, minor, err := protocol.ParseProtocolVersionResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.info.SetProtocolVersion(fmt.Sprintf("%d.%d", major, minor))
	p.state = StateGetCommParams
}

func (p *Poller) onCommParams(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	params, err := protocol.ParseCommParamsResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.info.SetCommParams(*params)
	p.maxTxPayload = params.MaxTxPayloadSize
	p.codec.SetAddressSize(addressSizeFromBits(params.AddressSizeBits))
	p.state = StateGetSupportedFeatures
}

func (p *Poller) onFeatures(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	f, err := protocol.ParseSupportedFeaturesResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.info.SetFeatures(*f)
	p.state = StateGetSpecialRegionCount
}

func (p *Poller) onRegionCount(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	counts, err := protocol.ParseSpecialMemoryRegionCountResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.forbiddenTotal = int(counts.ForbiddenCount)
	p.readOnlyTotal = int(counts.ReadOnlyCount)
	p.info.SetRegionCounts(p.forbiddenTotal, p.readOnlyTotal)
	p.forbiddenIdx = 0
	if p.forbiddenTotal == 0 {
		p.readOnlyIdx = 0
		if p.readOnlyTotal == 0 {
			p.state = StateGetRPVCount
		} else {
			p.state = StateGetReadOnlyRegions
		}
		return
	}
	p.state = StateGetForbiddenRegions
}

func (p *Poller) onForbiddenRegion(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	_, _, region, err := p.codec.ParseSpecialMemoryRegionLocationResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.info.AddForbiddenRegion(*region)
	p.forbiddenIdx++
	if p.forbiddenIdx >= p.forbiddenTotal {
		p.readOnlyIdx = 0
		if p.readOnlyTotal == 0 {
			p.state = StateGetRPVCount
		} else {
			p.state = StateGetReadOnlyRegions
		}
	}
}

func (p *Poller) onReadOnlyRegion(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	_, _, region, err := p.codec.ParseSpecialMemoryRegionLocationResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.info.AddReadOnlyRegion(*region)
	p.readOnlyIdx++
	if p.readOnlyIdx >= p.readOnlyTotal {
		p.state = StateGetRPVCount
	}
}

func (p *Poller) onRPVCount(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	n, err := protocol.ParseRPVCountResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.rpvTotal = int(n)
	p.info.SetRPVCount(p.rpvTotal)
	p.rpvCursor = 0
	if p.rpvTotal == 0 {
		p.loopIdx = 0
		p.state = StateGetLoopCount
		return
	}
	p.state = StateGetRPVDefinition
}

func (p *Poller) onRPVDefinition(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	defs, err := protocol.ParseRPVDefinitionResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	for _, d := range defs {
		p.info.AddRPV(d)
	}
	p.rpvCursor += len(defs)
	if p.rpvCursor >= p.rpvTotal {
		p.loopIdx = 0
		p.state = StateGetLoopCount
	}
}

func (p *Poller) onLoopCount(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	n, err := protocol.ParseLoopCountResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.loopTotal = int(n)
	p.info.SetLoopCount(p.loopTotal)
	p.loopIdx = 0
	if p.loopTotal == 0 {
		p.state = StateDone
		return
	}
	p.state = StateGetLoopDefinition
}

func (p *Poller) onLoopDefinition(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	def, err := protocol.ParseLoopDefinitionResponse(resp.Payload)
	if err != nil {
		p.fail(err)
		return
	}
	p.info.AddLoop(*def)
	p.loopIdx++
	if p.loopIdx >= p.loopTotal {
		p.state = StateDone
	}
}

func addressSizeFromBits(bits uint8) protocol.AddressSize {
	switch bits {
	case 8:
		return protocol.AddressSize8
	case 16:
		return protocol.AddressSize16
	case 64:
		return protocol.AddressSize64
	default:
		return protocol.AddressSize32
	}
}
