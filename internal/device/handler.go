// Package device implements the device handler (component C12): the
// top-level FSM that owns the link, drives every other component's
// Process() in a fixed order each tick, and recovers to Init on any
// transport-level failure.
package device

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrutinydebugger/scrutiny-core/internal/comm"
	"github.com/scrutinydebugger/scrutiny-core/internal/datalog"
	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/heartbeat"
	"github.com/scrutinydebugger/scrutiny-core/internal/infopoll"
	"github.com/scrutinydebugger/scrutiny-core/internal/link"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
	"github.com/scrutinydebugger/scrutiny-core/internal/reader"
	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
	"github.com/scrutinydebugger/scrutiny-core/internal/search"
	"github.com/scrutinydebugger/scrutiny-core/internal/session"
	"github.com/scrutinydebugger/scrutiny-core/internal/writer"
)

// State enumerates the top-level FSM (§4.12).
type State int

const (
	StateInit State = iota
	StateWaitCommLink
	StateWaitCleanState
	StateDiscovering
	StateConnecting
	StatePollingInfo
	StateWaitDataloggingReady
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWaitCommLink:
		return "wait_comm_link"
	case StateWaitCleanState:
		return "wait_clean_state"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StatePollingInfo:
		return "polling_info"
	case StateWaitDataloggingReady:
		return "wait_datalogging_ready"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

const waitCleanStateTimeout = 500 * time.Millisecond
const defaultHeartbeatTimeout = 5 * time.Second
const throttlerWindow = 1 * time.Second

// Handler is the device handler: it owns the link and every submodule and
// advances them all by one tick per Process() call.
type Handler struct {
	link       link.Link
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	comm       *comm.Handler

	searcher   *search.Searcher
	initSess   *session.Initializer
	hb         *heartbeat.Generator
	info       *infopoll.Poller
	memReader  *reader.MemoryReader
	rpvReader  *reader.RPVReader
	writer     *writer.Writer
	datalogger *datalog.Poller
	store      datalog.AcquisitionStore

	ds *datastore.Datastore

	state                State
	waitCleanStateEntered time.Time
	commBroken            bool
	rpvEntriesInstalled   bool
	disconnectRequested   bool
	serverSessionID       uuid.UUID

	inFlight *dispatch.RequestRecord

	stats *DeviceStats
}

// New builds a device handler over the link variant described by cfg. ds is
// the shared datastore the readers/writer operate on; store is the
// collaborator completed acquisitions are handed to (may be nil, in which
// case completed acquisitions are simply dropped after their callback
// fires).
func New(cfg link.Config, ds *datastore.Datastore, store datalog.AcquisitionStore) (*Handler, error) {
	l, err := link.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("device: open link: %w", err)
	}

	codec := protocol.NewCodec(protocol.AddressSize32)
	d := dispatch.NewDispatcher(64)
	commHandler := comm.NewHandler(l, comm.DefaultResponseTimeout, nil)

	info := datastore.NewDeviceInfo()

	h := &Handler{
		link:       l,
		dispatcher: d,
		codec:      codec,
		comm:       commHandler,
		searcher:   search.New(d, codec),
		initSess:   session.New(d, codec),
		hb:         heartbeat.New(d, codec),
		info:       infopoll.New(d, codec),
		memReader:  reader.NewMemoryReader(d, codec, ds, info),
		rpvReader:  reader.NewRPVReader(d, codec, ds, info),
		writer:     writer.New(d, codec, ds, info),
		datalogger: datalog.New(d, codec, info),
		store:      store,
		ds:         ds,
		stats:      &DeviceStats{},
	}
	return h, nil
}

func (h *Handler) State() State                        { return h.state }
func (h *Handler) DeviceInfo() *datastore.DeviceInfo    { return h.info.DeviceInfo() }
func (h *Handler) Stats() DeviceStatsSnapshot           { return h.stats.Snapshot() }
func (h *Handler) ServerSessionID() uuid.UUID           { return h.serverSessionID }
func (h *Handler) Datalogger() *datalog.Poller          { return h.datalogger }
func (h *Handler) Datastore() *datastore.Datastore      { return h.ds }

// RequestDisconnect asks the handler to tear the session down cleanly from
// Ready, rather than waiting for a transport failure.
func (h *Handler) RequestDisconnect() {
	if h.state == StateReady {
		h.disconnectRequested = true
	}
}

// RequestAcquisition queues a datalogging acquisition and, on success,
// persists it through the configured AcquisitionStore (if any) before
// invoking the caller's callback with the store-assigned id (0 if no store
// is configured or the save failed).
func (h *Handler) RequestAcquisition(loopID uint8, cfg *protocol.AcquisitionConfig, cb func(acq *datalog.Acquisition, storeID int64, err error)) error {
	return h.datalogger.RequestAcquisition(loopID, cfg, func(acq *datalog.Acquisition, err error) {
		if err != nil {
			cb(nil, 0, err)
			return
		}
		var id int64
		if h.store != nil {
			if saved, saveErr := h.store.Save(acq); saveErr == nil {
				id = saved
			}
		}
		cb(acq, id, nil)
	})
}

// Process advances the link pump and the top-level FSM by exactly one tick.
func (h *Handler) Process() {
	h.pumpComm()

	if h.commBroken {
		h.commBroken = false
		h.stats.recordReconnect()
		h.enterInit()
		return
	}
	if h.dispatcher.IsInError() {
		h.enterInit()
		return
	}

	switch h.state {
	case StateInit:
		h.enterWaitCommLink()

	case StateWaitCommLink:
		if h.link.Operational() {
			h.enterWaitCleanState()
		}

	case StateWaitCleanState:
		h.tickWaitCleanState()

	case StateDiscovering:
		h.searcher.Process()
		if h.searcher.DeviceFound() {
			h.searcher.SetEnabled(false)
			h.enterConnecting()
		}

	case StateConnecting:
		h.initSess.Process(h.searcher.DeviceFound())
		if h.initSess.Err() != nil {
			h.enterInit()
			return
		}
		if h.initSess.Connected() {
			h.enterPollingInfo()
		}

	case StatePollingInfo:
		h.hb.Process()
		h.info.Process()
		if h.info.Failed() {
			h.enterInit()
			return
		}
		if h.info.Done() {
			h.enterWaitDataloggingReady()
		}

	case StateWaitDataloggingReady:
		h.hb.Process()
		h.datalogger.Process()
		if h.datalogger.State() == datalog.StateWaitForRequest {
			h.enterReady()
		}

	case StateReady:
		h.tickReady()

	case StateDisconnecting:
		h.tickDisconnecting()
	}
}

func (h *Handler) pumpComm() {
	if h.comm.ReadyToSend() && h.inFlight == nil {
		if rec := h.dispatcher.PeekNext(); rec != nil {
			ok, err := h.comm.Send(rec.Request)
			if err != nil {
				h.dispatcher.PopNext()
				h.stats.recordRequest(true)
				rec.Complete(nil, err)
			} else if ok {
				h.dispatcher.PopNext()
				h.inFlight = rec
			}
		}
	}

	h.comm.Process()

	if h.inFlight == nil {
		return
	}
	switch {
	case h.comm.ResponseAvailable():
		rec := h.inFlight
		h.inFlight = nil
		resp := h.comm.GetResponse()
		h.stats.recordRequest(resp.Code != protocol.CodeOK)
		rec.Complete(resp, nil)
	case h.comm.HasTimedOut():
		rec := h.inFlight
		h.inFlight = nil
		h.comm.ClearTimeout()
		h.stats.recordRequest(true)
		rec.Complete(nil, scrutinyerr.ErrTimeout)
		h.commBroken = true
	case h.comm.HasMalformedFrame():
		rec := h.inFlight
		h.inFlight = nil
		h.comm.ClearTimeout()
		h.stats.recordRequest(true)
		rec.Complete(nil, scrutinyerr.ErrMalformedFrame)
		h.commBroken = true
	}
}

func (h *Handler) enterInit() {
	h.setState(StateInit)
	h.searcher.SetEnabled(false)
	h.initSess.Reset()
	h.hb.Disarm()
	h.memReader.SetEnabled(false)
	h.rpvReader.SetEnabled(false)
	h.writer.SetEnabled(false)
	h.info.Reset()
	h.dispatcher.Reset()
	h.rpvEntriesInstalled = false
	h.disconnectRequested = false
	if rec := h.inFlight; rec != nil {
		h.inFlight = nil
		rec.Complete(nil, scrutinyerr.ErrLinkBroken)
	}
}

func (h *Handler) enterWaitCommLink() {
	h.setState(StateWaitCommLink)
}

func (h *Handler) enterWaitCleanState() {
	h.setState(StateWaitCleanState)
	h.waitCleanStateEntered = time.Now()
}

// tickWaitCleanState waits up to waitCleanStateTimeout for the dispatcher,
// the comm handler and the datalogger to report FullyStopped (§4.12
// "WaitCleanState"). On timeout it resets only the dispatcher's queue and
// moves on; the comm handler and the datalogger are not reset.
func (h *Handler) tickWaitCleanState() {
	if h.dispatcher.FullyStopped() && h.comm.FullyStopped() && h.datalogger.FullyStopped() {
		h.enterDiscovering()
		return
	}
	if time.Since(h.waitCleanStateEntered) > waitCleanStateTimeout {
		h.dispatcher.Reset()
		h.enterDiscovering()
	}
}

func (h *Handler) enterDiscovering() {
	h.setState(StateDiscovering)
	h.searcher.SetEnabled(true)
}

func (h *Handler) enterConnecting() {
	h.setState(StateConnecting)
}

func (h *Handler) enterPollingInfo() {
	h.setState(StatePollingInfo)
	h.hb.Arm(h.initSess.SessionID(), defaultHeartbeatTimeout)
	fwID := h.searcher.FirmwareID()
	h.datalogger.SetFirmwareID(hex.EncodeToString(fwID[:]))
}

func (h *Handler) enterWaitDataloggingReady() {
	h.setState(StateWaitDataloggingReady)
	di := h.info.DeviceInfo()
	h.dispatcher.SetSizeLimits(int(di.MaxRxPayloadSize), int(di.MaxTxPayloadSize))
	h.comm.SetTimeout(di.RxTimeout)
	if di.HeartbeatTimeout > 0 {
		h.hb.Arm(h.initSess.SessionID(), di.HeartbeatTimeout)
	}
	if di.MaxTxPayloadSize > 0 {
		h.datalogger.SetChunkSize(di.MaxTxPayloadSize)
	}
	if di.MaxBitrate > 0 {
		h.comm.Throttler().SetMaxBitrate(float64(di.MaxBitrate), throttlerWindow)
		h.comm.Throttler().SetEnabled(true)
	}
}

func (h *Handler) enterReady() {
	h.setState(StateReady)
	di := h.info.DeviceInfo()
	h.codec.SetAddressSize(addressSizeFromBits(di.AddressSizeBits))
	h.installRPVEntries(di)
	h.memReader.SetEnabled(true)
	h.rpvReader.SetEnabled(true)
	h.writer.SetEnabled(true)
	h.serverSessionID = uuid.New()
}

func (h *Handler) installRPVEntries(di *datastore.DeviceInfo) {
	if h.rpvEntriesInstalled {
		return
	}
	for _, rpv := range di.RPVs {
		id := datastore.EntryID(fmt.Sprintf("rpv:%d", rpv.ID))
		h.ds.AddEntry(id, datastore.Watchable{
			Kind: datastore.KindRPV,
			RPV:  datastore.RPV{ID: rpv.ID, DataType: rpv.DataType},
		})
	}
	h.rpvEntriesInstalled = true
}

func (h *Handler) tickReady() {
	h.hb.Process()
	h.stats.setHeartbeatMissed(h.hb.MismatchCount())
	h.memReader.Process()
	h.rpvReader.Process()
	h.writer.Process()
	h.datalogger.Process()

	if h.disconnectRequested {
		h.enterDisconnecting()
	}
}

func (h *Handler) enterDisconnecting() {
	h.setState(StateDisconnecting)
	h.memReader.SetEnabled(false)
	h.rpvReader.SetEnabled(false)
	h.writer.SetEnabled(false)
	h.dispatcher.RegisterRequest(h.codec.BuildDisconnect(h.initSess.SessionID()), dispatch.PriorityDisconnect,
		func(req *protocol.Request, resp *protocol.Response) { h.enterInit() },
		func(req *protocol.Request, err error) { h.enterInit() },
	)
}

func (h *Handler) tickDisconnecting() {
	// Completion is handled by the callbacks registered in
	// enterDisconnecting; nothing else to drive here.
}

func (h *Handler) setState(s State) {
	if s != h.state {
		h.stats.recordStateChange()
	}
	h.state = s
}

func addressSizeFromBits(bits uint8) protocol.AddressSize {
	switch {
	case bits <= 8:
		return protocol.AddressSize8
	case bits <= 16:
		return protocol.AddressSize16
	case bits <= 32:
		return protocol.AddressSize32
	default:
		return protocol.AddressSize64
	}
}
