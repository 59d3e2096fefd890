package reader

import (
	"sort"

	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

const rpvResponseEntrySize = 11 // id(2) + datatype(1) + up to 8-byte value, per BuildReadRPV's cap

// RPVReader batches watched RPV entries in ascending-id order, resuming a
// round-robin cursor across ticks so every id is eventually visited (§4.9).
type RPVReader struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	ds         *datastore.Datastore
	info       *datastore.DeviceInfo

	enabled bool
	pending bool
	cursor  int

	inFlightByID map[uint16]datastore.EntryID
}

func NewRPVReader(d *dispatch.Dispatcher, codec *protocol.Codec, ds *datastore.Datastore, info *datastore.DeviceInfo) *RPVReader {
	return &RPVReader{dispatcher: d, codec: codec, ds: ds, info: info}
}

func (r *RPVReader) SetEnabled(enabled bool) { r.enabled = enabled }

type sortedRPV struct {
	id    uint16
	entry datastore.EntryID
}

func (r *RPVReader) Process() {
	if !r.enabled || r.pending {
		return
	}
	entries := r.ds.WatchedRPVEntries()
	if len(entries) == 0 {
		return
	}

	sorted := make([]sortedRPV, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, sortedRPV{id: e.Watchable.RPV.ID, entry: e.ID})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	if r.cursor >= len(sorted) {
		r.cursor = 0
	}

	maxReq := int(r.info.MaxRxPayloadSize)
	maxResp := int(r.info.MaxTxPayloadSize)

	var ids []uint16
	byID := make(map[uint16]datastore.EntryID)
	reqSize, respSize := 0, 0

	for i := 0; i < len(sorted); i++ {
		idx := (r.cursor + i) % len(sorted)
		item := sorted[idx]
		if maxReq > 0 && reqSize+2 > maxReq {
			break
		}
		if maxResp > 0 && respSize+rpvResponseEntrySize > maxResp {
			break
		}
		ids = append(ids, item.id)
		byID[item.id] = item.entry
		reqSize += 2
		respSize += rpvResponseEntrySize
	}

	if len(ids) == 0 {
		return
	}

	r.cursor = (r.cursor + len(ids)) % len(sorted)
	r.pending = true
	r.inFlightByID = byID
	r.dispatcher.RegisterRequest(r.codec.BuildReadRPV(ids), dispatch.PriorityReadMemory, r.onSuccess, r.onFailure)
}

func (r *RPVReader) onSuccess(req *protocol.Request, resp *protocol.Response) {
	r.pending = false
	values, err := protocol.ParseReadRPVResponse(resp.Payload)
	if err != nil {
		return
	}
	for _, v := range values {
		id, ok := r.inFlightByID[v.ID]
		if !ok {
			continue
		}
		e, ok := r.ds.GetEntry(id)
		if !ok {
			continue
		}
		value, _, err := datastore.DecodeVarValue(&datastore.Var{DataType: e.Watchable.RPV.DataType}, v.Data, datastore.EndianBig)
		if err != nil {
			continue
		}
		r.ds.UpdateRPVValue(id, value)
	}
}

func (r *RPVReader) onFailure(req *protocol.Request, err error) {
	r.pending = false
}
