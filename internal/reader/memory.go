// Package reader implements the memory and RPV readers (component C9):
// batching watched entries into READ_MEMORY/READ_RPV requests under the
// target's negotiated size caps and fanning responses back into the
// datastore.
package reader

import (
	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

const memoryBlockOverhead = 2 // per-block length field; address width is negotiated

// MemoryReader batches watched Var entries into greedily-packed READ_MEMORY
// requests, skipping anything overlapping a forbidden region (§4.9).
type MemoryReader struct {
	dispatcher *dispatch.Dispatcher
	codec      *protocol.Codec
	ds         *datastore.Datastore
	info       *datastore.DeviceInfo

	enabled bool
	pending bool
	inFlightIDs []datastore.EntryID
}

func NewMemoryReader(d *dispatch.Dispatcher, codec *protocol.Codec, ds *datastore.Datastore, info *datastore.DeviceInfo) *MemoryReader {
	return &MemoryReader{dispatcher: d, codec: codec, ds: ds, info: info}
}

func (r *MemoryReader) SetEnabled(enabled bool) { r.enabled = enabled }

// Process builds and dispatches one batch of READ_MEMORY blocks per tick,
// when enabled and no request is already outstanding.
func (r *MemoryReader) Process() {
	if !r.enabled || r.pending {
		return
	}
	entries := r.ds.WatchedVarEntries()
	if len(entries) == 0 {
		return
	}

	asz := r.codec.AddressSize().Bytes()
	maxReq := int(r.info.MaxRxPayloadSize)
	maxResp := int(r.info.MaxTxPayloadSize)

	var blocks []protocol.MemoryBlockRequest
	var ids []datastore.EntryID
	reqSize, respSize := 0, 0

	for _, e := range entries {
		size := e.Watchable.Var.DataType.Size()
		if r.info.IsForbidden(e.Watchable.Var.Address, size) {
			continue
		}
		blockReqCost := asz + memoryBlockOverhead
		blockRespCost := asz + memoryBlockOverhead + size
		if maxReq > 0 && reqSize+blockReqCost > maxReq {
			break
		}
		if maxResp > 0 && respSize+blockRespCost > maxResp {
			break
		}
		blocks = append(blocks, protocol.MemoryBlockRequest{Address: e.Watchable.Var.Address, Length: uint16(size)})
		ids = append(ids, e.ID)
		reqSize += blockReqCost
		respSize += blockRespCost
	}

	if len(blocks) == 0 {
		return
	}

	r.pending = true
	r.inFlightIDs = ids
	r.dispatcher.RegisterRequest(r.codec.BuildReadMemory(blocks), dispatch.PriorityReadMemory, r.onSuccess, r.onFailure)
}

func (r *MemoryReader) onSuccess(req *protocol.Request, resp *protocol.Response) {
	r.pending = false
	blocks, err := r.codec.ParseReadMemoryResponse(resp.Payload)
	if err != nil || len(blocks) != len(r.inFlightIDs) {
		return
	}
	for i, b := range blocks {
		r.ds.UpdateVarValue(r.inFlightIDs[i], b.Data, datastore.EndianBig)
	}
}

func (r *MemoryReader) onFailure(req *protocol.Request, err error) {
	r.pending = false
}
