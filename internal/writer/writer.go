// Package writer implements the memory writer (component C10): a serial,
// one-entry-at-a-time dispatcher for pending datastore writes, verifying
// the echoed address/length or RPV id before marking an entry complete.
package writer

import (
	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

// Writer drains the datastore's pending-write queue one entry at a time
// (§4.10). Read-only Vars are rejected before dispatch and never reach the
// target.
type Writer struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	ds         *datastore.Datastore
	info       *datastore.DeviceInfo

	enabled bool
	pending bool

	inFlightID      datastore.EntryID
	inFlightAddress uint64
	inFlightLength  int
	inFlightRPVID   uint16
	isRPVWrite      bool
}

func New(d *dispatch.Dispatcher, codec *protocol.Codec, ds *datastore.Datastore, info *datastore.DeviceInfo) *Writer {
	return &Writer{dispatcher: d, codec: codec, ds: ds, info: info}
}

func (w *Writer) SetEnabled(enabled bool) { w.enabled = enabled }

// Process picks the first pending write (in whatever order the datastore
// returns them) and dispatches it, or rejects it immediately if it targets
// a read-only region.
func (w *Writer) Process() {
	if !w.enabled || w.pending {
		return
	}
	pending := w.ds.PendingWrites()
	if len(pending) == 0 {
		return
	}
	e := pending[0]
	pw := e.Pending()
	if pw == nil {
		return
	}

	if e.Watchable.Kind == datastore.KindVar {
		v := e.Watchable.Var
		if w.info.IsReadOnly(v.Address, v.DataType.Size()) {
			w.ds.CompleteWrite(e.ID, false)
			return
		}
		w.dispatchMemoryWrite(e.ID, v, pw)
		return
	}
	if e.Watchable.Kind == datastore.KindRPV {
		w.dispatchRPVWrite(e.ID, e.Watchable.RPV, pw)
	}
}

func (w *Writer) dispatchMemoryWrite(id datastore.EntryID, v datastore.Var, pw *datastore.PendingWrite) {
	w.pending = true
	w.isRPVWrite = false
	w.inFlightID = id
	w.inFlightAddress = v.Address
	w.inFlightLength = len(pw.Value)
	block := protocol.MemoryBlockWrite{Address: v.Address, Data: pw.Value, Mask: pw.Mask}
	req := w.codec.BuildWriteMemory([]protocol.MemoryBlockWrite{block})
	w.dispatcher.RegisterRequest(req, dispatch.PriorityWriteMemory, w.onMemorySuccess, w.onFailure)
}

func (w *Writer) dispatchRPVWrite(id datastore.EntryID, rpv datastore.RPV, pw *datastore.PendingWrite) {
	w.pending = true
	w.isRPVWrite = true
	w.inFlightID = id
	w.inFlightRPVID = rpv.ID
	req := w.codec.BuildWriteRPV([]protocol.RPVWrite{{ID: rpv.ID, Data: pw.Value}})
	w.dispatcher.RegisterRequest(req, dispatch.PriorityWriteMemory, w.onRPVSuccess, w.onFailure)
}

func (w *Writer) onMemorySuccess(req *protocol.Request, resp *protocol.Response) {
	w.pending = false
	if resp.Code != protocol.CodeOK {
		w.ds.CompleteWrite(w.inFlightID, false)
		return
	}
	blocks, err := w.codec.ParseWriteMemoryResponse(resp.Payload)
	if err != nil || len(blocks) != 1 || blocks[0].Address != w.inFlightAddress || len(blocks[0].Data) != w.inFlightLength {
		w.ds.CompleteWrite(w.inFlightID, false)
		return
	}
	if e, ok := w.ds.GetEntry(w.inFlightID); ok {
		pw := e.Pending()
		if pw != nil {
			w.ds.UpdateVarValue(w.inFlightID, pw.Value, datastore.EndianBig)
		}
	}
	w.ds.CompleteWrite(w.inFlightID, true)
}

func (w *Writer) onRPVSuccess(req *protocol.Request, resp *protocol.Response) {
	w.pending = false
	if resp.Code != protocol.CodeOK {
		w.ds.CompleteWrite(w.inFlightID, false)
		return
	}
	ids, err := protocol.ParseWriteRPVResponse(resp.Payload)
	if err != nil || len(ids) != 1 || ids[0] != w.inFlightRPVID {
		w.ds.CompleteWrite(w.inFlightID, false)
		return
	}
	if e, ok := w.ds.GetEntry(w.inFlightID); ok {
		pw := e.Pending()
		if pw != nil {
			if value, _, err := datastore.DecodeVarValue(&datastore.Var{DataType: e.Watchable.RPV.DataType}, pw.Value, datastore.EndianBig); err == nil {
				w.ds.UpdateRPVValue(w.inFlightID, value)
			}
		}
	}
	w.ds.CompleteWrite(w.inFlightID, true)
}

func (w *Writer) onFailure(req *protocol.Request, err error) {
	w.pending = false
	w.ds.CompleteWrite(w.inFlightID, false)
}
