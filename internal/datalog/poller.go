package datalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

// State enumerates the datalogging poller's FSM (§4.11).
type State int

const (
	StateIdle State = iota
	StateGetSetup
	StateWaitForRequest
	StateConfiguring
	StateArming
	StateWaitForData
	StateReadMetadata
	StateRetrievingData
	StateDataRetrievalFinishedSuccess
	StateRequestReset
)

// MaxFailureWhileReading bounds the consecutive failures ReadMetadata and
// RetrievingData tolerate before giving up (§4.11 "Fault tolerance").
const MaxFailureWhileReading = 5

const (
	slowPollInterval = 500 * time.Millisecond
	fastPollInterval = 200 * time.Millisecond
)

// CompletionCallback reports the outcome of a requested acquisition.
type CompletionCallback func(*Acquisition, error)

// Poller drives the configure/arm/poll/download/validate cycle (§4.11).
type Poller struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	info       *datastore.DeviceInfo
	now        func() time.Time

	firmwareID string

	state      State
	pending    bool
	generation uint64

	setup *protocol.DataloggingSetup

	requestedLoopID uint8
	requestedConfig *protocol.AcquisitionConfig
	callback        CompletionCallback
	requestQueued   bool

	actualConfigID uint16
	activeConfig   *protocol.AcquisitionConfig

	cancelRequested bool

	lastPoll     time.Time
	lastStatus   *protocol.DatalogStatus

	metadata               *protocol.AcquisitionMetadata
	expectedRollingCounter uint8
	cursor                 uint32
	accumulated            []byte
	failureCount           int
	chunkSize              uint16
}

func New(d *dispatch.Dispatcher, codec *protocol.Codec, info *datastore.DeviceInfo) *Poller {
	return &Poller{dispatcher: d, codec: codec, info: info, now: time.Now, chunkSize: 128}
}

func (p *Poller) State() State                 { return p.state }
func (p *Poller) DataloggingSetup() *protocol.DataloggingSetup { return p.setup }
func (p *Poller) LastStatus() *protocol.DatalogStatus          { return p.lastStatus }

// SetChunkSize configures the READ_ACQUISITION TX buffer size requested per
// chunk, normally derived from the negotiated comm params.
func (p *Poller) SetChunkSize(size uint16) { p.chunkSize = size }

// SetFirmwareID records the connected device's firmware id, stamped onto
// every acquisition completed while connected (§3 "firmware_id").
func (p *Poller) SetFirmwareID(id string) { p.firmwareID = id }

// FullyStopped reports whether the poller is quiescent, for the top-level
// FSM's WaitCleanState (§4.12).
func (p *Poller) FullyStopped() bool {
	return !p.pending && (p.state == StateIdle || p.state == StateWaitForRequest)
}

// RequestAcquisition validates and queues a new acquisition request
// (§4.11 "Configuration validation"). It rejects the request outright
// instead of queuing it when validation fails.
func (p *Poller) RequestAcquisition(loopID uint8, cfg *protocol.AcquisitionConfig, cb CompletionCallback) error {
	if p.requestQueued || p.callback != nil {
		return scrutinyerr.ErrAcquisitionInFlight
	}
	if p.setup == nil || p.setup.MaxSignalCount == 0 {
		return scrutinyerr.ErrNoDataloggingSetup
	}
	if len(cfg.Signals) > int(p.setup.MaxSignalCount) {
		return scrutinyerr.ErrSignalCountExceeded
	}
	p.requestedLoopID = loopID
	p.requestedConfig = cfg
	p.callback = cb
	p.requestQueued = true
	return nil
}

// CancelAcquisitionRequest routes the FSM to RequestReset from any state
// between Configuring and RetrievingData, or drops a not-yet-started queued
// request (§4.11 "Cancellation", §8 "Cancellation liveness").
func (p *Poller) CancelAcquisitionRequest() {
	switch p.state {
	case StateConfiguring, StateArming, StateWaitForData, StateReadMetadata, StateRetrievingData:
		p.cancelRequested = true
	case StateWaitForRequest:
		if p.requestQueued {
			p.failRequest(scrutinyerr.New(scrutinyerr.Logical, "DL_CANCELLED", "acquisition request cancelled before it started"))
		}
	}
}

func (p *Poller) failRequest(err error) {
	cb := p.callback
	p.callback = nil
	p.requestQueued = false
	p.activeConfig = nil
	if cb != nil {
		cb(nil, err)
	}
}

// Process advances the FSM by one tick.
func (p *Poller) Process() {
	if p.cancelRequested && p.state != StateRequestReset {
		p.cancelRequested = false
		p.generation++
		p.pending = false
		p.failRequest(scrutinyerr.New(scrutinyerr.Logical, "DL_CANCELLED", "acquisition cancelled"))
		p.state = StateRequestReset
	}

	switch p.state {
	case StateIdle:
		p.state = StateGetSetup
		p.Process()

	case StateGetSetup:
		if p.pending {
			return
		}
		p.dispatch(p.codec.BuildGetDatalogSetup(), dispatch.PriorityDatalogging, p.onGetSetup, p.onFirstFailure)

	case StateWaitForRequest:
		if p.requestQueued && !p.pending {
			p.state = StateConfiguring
			p.Process()
			return
		}
		p.pollStatus(slowPollInterval)

	case StateConfiguring:
		if p.pending {
			return
		}
		p.actualConfigID++
		p.activeConfig = p.requestedConfig
		req := p.codec.BuildConfigureDatalog(p.requestedLoopID, p.actualConfigID, p.activeConfig)
		p.dispatch(req, dispatch.PriorityDatalogging, p.onConfigured, p.onFirstFailure)

	case StateArming:
		if p.pending {
			return
		}
		p.dispatch(p.codec.BuildArmTrigger(), dispatch.PriorityDatalogging, p.onArmed, p.onFirstFailure)

	case StateWaitForData:
		p.pollStatus(fastPollInterval)

	case StateReadMetadata:
		if p.pending {
			return
		}
		p.dispatch(p.codec.BuildGetAcquisitionMetadata(), dispatch.PriorityDatalogging, p.onMetadata, p.onReadingFailure)

	case StateRetrievingData:
		if p.pending {
			return
		}
		req := p.codec.BuildReadAcquisition(p.cursor, p.chunkSize)
		p.dispatch(req, dispatch.PriorityDatalogging, p.onChunk, p.onReadingFailure)

	case StateDataRetrievalFinishedSuccess:
		acq, err := Deinterleave(p.accumulated, p.activeConfig, p.metadata, p.loopFrequencyHz())
		if err == nil {
			acq.ReferenceID = newReferenceID()
			acq.FirmwareID = p.firmwareID
			acq.CapturedAt = p.now()
		}
		cb := p.callback
		p.callback = nil
		p.requestQueued = false
		p.activeConfig = nil
		if cb != nil {
			cb(acq, err)
		}
		p.state = StateRequestReset
		p.Process()

	case StateRequestReset:
		if p.pending {
			return
		}
		p.dispatch(p.codec.BuildResetDatalogger(), dispatch.PriorityDatalogging, p.onResetDone, p.onResetDone2)
	}
}

func (p *Poller) dispatch(req *protocol.Request, priority dispatch.Priority, onSuccess dispatch.SuccessCallback, onFailure dispatch.FailureCallback) {
	p.pending = true
	gen := p.generation
	p.dispatcher.RegisterRequest(req, priority,
		func(r *protocol.Request, resp *protocol.Response) {
			if gen != p.generation {
				return
			}
			onSuccess(r, resp)
		},
		func(r *protocol.Request, err error) {
			if gen != p.generation {
				return
			}
			onFailure(r, err)
		})
}

func (p *Poller) pollStatus(interval time.Duration) {
	if p.pending {
		return
	}
	now := p.now()
	if !p.lastPoll.IsZero() && now.Sub(p.lastPoll) < interval {
		return
	}
	p.lastPoll = now
	p.dispatch(p.codec.BuildGetDatalogStatus(), dispatch.PriorityDatalogging, p.onStatus, func(r *protocol.Request, err error) {
		p.pending = false
	})
}

func (p *Poller) onGetSetup(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	setup, err := protocol.ParseDatalogSetupResponse(resp.Payload)
	if err != nil {
		p.fatal(err)
		return
	}
	p.setup = setup
	p.state = StateWaitForRequest
}

func (p *Poller) onStatus(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	status, err := protocol.ParseDatalogStatusResponse(resp.Payload)
	if err != nil {
		return
	}
	p.lastStatus = status
	if status.State == protocol.DataloggerError {
		p.state = StateRequestReset
		return
	}
	if p.state == StateWaitForData && status.State == protocol.DataloggerAcquired {
		p.state = StateReadMetadata
	}
}

func (p *Poller) onConfigured(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	acceptedID, err := protocol.ParseConfigureDatalogResponse(resp.Payload)
	if err != nil || resp.Code != protocol.CodeOK || acceptedID != p.actualConfigID {
		p.fatal(scrutinyerr.ErrConfigIDMismatch)
		return
	}
	p.state = StateArming
}

func (p *Poller) onArmed(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	if resp.Code != protocol.CodeOK {
		p.fatal(scrutinyerr.ErrRefused)
		return
	}
	p.lastPoll = time.Time{}
	p.state = StateWaitForData
}

func (p *Poller) onMetadata(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	meta, err := protocol.ParseAcquisitionMetadataResponse(resp.Payload)
	if err != nil {
		p.readingFailed()
		return
	}
	if meta.ConfigID != p.actualConfigID {
		p.fatal(scrutinyerr.ErrConfigIDMismatch)
		return
	}
	p.metadata = meta
	p.cursor = 0
	p.accumulated = p.accumulated[:0]
	p.expectedRollingCounter = 0
	p.failureCount = 0
	p.state = StateRetrievingData
}

func (p *Poller) onChunk(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	chunk, err := protocol.ParseReadAcquisitionResponse(resp.Payload)
	if err != nil || chunk.AcquisitionID != p.metadata.AcquisitionID || chunk.RollingCounter != p.expectedRollingCounter {
		p.readingFailed()
		return
	}
	p.failureCount = 0
	p.accumulated = append(p.accumulated, chunk.Data...)
	p.cursor += uint32(len(chunk.Data))
	p.expectedRollingCounter++

	if !chunk.Finished {
		return
	}
	if !chunk.HasCRC || protocol.ChecksumAcquisitionData(p.accumulated) != chunk.CRC32 {
		p.fatal(scrutinyerr.ErrCRCMismatch)
		return
	}
	p.state = StateDataRetrievalFinishedSuccess
	p.Process()
}

func (p *Poller) onResetDone(req *protocol.Request, resp *protocol.Response) {
	p.pending = false
	p.state = StateWaitForRequest
	p.lastPoll = time.Time{}
}

func (p *Poller) onResetDone2(req *protocol.Request, err error) {
	p.pending = false
	p.state = StateWaitForRequest
	p.lastPoll = time.Time{}
}

func (p *Poller) onFirstFailure(req *protocol.Request, err error) {
	p.pending = false
	p.fatal(err)
}

// readingFailed implements the ReadMetadata/RetrievingData asymmetric fault
// tolerance: failed attempts are retried until MaxFailureWhileReading
// consecutive failures have occurred, and that last one gives up (§4.11
// "Fault tolerance during readout").
func (p *Poller) readingFailed() {
	p.failureCount++
	if p.failureCount >= MaxFailureWhileReading {
		p.fatal(scrutinyerr.ErrTimeout)
		return
	}
	// stay in the same state; Process will retry on the next tick
}

func (p *Poller) onReadingFailure(req *protocol.Request, err error) {
	p.pending = false
	p.readingFailed()
}

func (p *Poller) fatal(err error) {
	p.failRequest(err)
	p.state = StateRequestReset
}

// loopFrequencyHz looks up the sampling frequency of the loop the active
// acquisition was configured against, so Deinterleave can derive an
// elapsed-time X-axis instead of a bare sample index. It returns 0 (and
// lets the caller fall back to an index axis) when the loop table hasn't
// been populated yet or requestedLoopID is out of range.
func (p *Poller) loopFrequencyHz() float64 {
	if p.info == nil || int(p.requestedLoopID) >= len(p.info.Loops) {
		return 0
	}
	return p.info.Loops[p.requestedLoopID].FrequencyHz
}

// newReferenceID mints a unique storage-facing identifier for a completed
// acquisition (§3 "reference_id"), the Go equivalent of the original's
// uuid4().hex identifier.
func newReferenceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
