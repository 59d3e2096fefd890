package reader

import (
	"testing"

	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

func newInfo() *datastore.DeviceInfo {
	info := datastore.NewDeviceInfo()
	info.SetCommParams(protocol.CommParams{MaxRxPayloadSize: 256, MaxTxPayloadSize: 256, AddressSizeBits: 32})
	return info
}

func TestMemoryReaderSkipsForbiddenAndBatchesRest(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	codec := protocol.NewCodec(protocol.AddressSize32)
	ds := datastore.New()
	info := newInfo()
	info.SetRegionCounts(1, 0)
	info.AddForbiddenRegion(protocol.MemoryRegion{Start: 100, Size: 4})

	ds.AddEntry("forbidden", datastore.Watchable{Kind: datastore.KindVar, Var: datastore.Var{Address: 100, DataType: protocol.DataTypeUint32}})
	ds.AddEntry("allowed", datastore.Watchable{Kind: datastore.KindVar, Var: datastore.Var{Address: 200, DataType: protocol.DataTypeUint8}})
	ds.Watch("forbidden", "c")
	ds.Watch("allowed", "c")

	r := NewMemoryReader(d, codec, ds, info)
	r.SetEnabled(true)
	r.Process()

	if d.Len() != 1 {
		t.Fatalf("expected one READ_MEMORY request queued, got %d", d.Len())
	}
	record := d.PopNext()
	if len(r.inFlightIDs) != 1 || r.inFlightIDs[0] != "allowed" {
		t.Fatalf("expected only the allowed entry in flight, got %v", r.inFlightIDs)
	}

	payload := make([]byte, 4+2+1)
	payload[3] = 200 // address low byte (big endian 32-bit: 0,0,0,200)
	payload[4] = 0
	payload[5] = 1 // length 1
	payload[6] = 77
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: payload}, nil)

	e, _ := ds.GetEntry("allowed")
	value, _, valid := e.Value()
	if !valid || value != 77 {
		t.Fatalf("got value=%v valid=%v, want 77/true", value, valid)
	}
}

func TestRPVReaderRoundRobinsAcrossTicks(t *testing.T) {
	d := dispatch.NewDispatcher(0)
	codec := protocol.NewCodec(protocol.AddressSize32)
	ds := datastore.New()
	info := newInfo()
	info.MaxTxPayloadSize = 11 // room for exactly one RPV per batch

	ds.AddEntry("rpv1", datastore.Watchable{Kind: datastore.KindRPV, RPV: datastore.RPV{ID: 1, DataType: protocol.DataTypeUint8}})
	ds.AddEntry("rpv2", datastore.Watchable{Kind: datastore.KindRPV, RPV: datastore.RPV{ID: 2, DataType: protocol.DataTypeUint8}})
	ds.Watch("rpv1", "c")
	ds.Watch("rpv2", "c")

	r := NewRPVReader(d, codec, ds, info)
	r.SetEnabled(true)

	r.Process()
	if d.Len() != 1 {
		t.Fatalf("expected one batch queued, got %d", d.Len())
	}
	first := d.PopNext()
	firstIDs := make([]uint16, 0)
	for id := range r.inFlightByID {
		firstIDs = append(firstIDs, id)
	}
	first.Complete(&protocol.Response{Code: protocol.CodeOK}, nil)

	r.Process()
	second := d.PopNext()
	secondIDs := make([]uint16, 0)
	for id := range r.inFlightByID {
		secondIDs = append(secondIDs, id)
	}
	second.Complete(&protocol.Response{Code: protocol.CodeOK}, nil)

	if firstIDs[0] == secondIDs[0] {
		t.Fatalf("expected the cursor to advance between ticks, got %v then %v", firstIDs, secondIDs)
	}
}
