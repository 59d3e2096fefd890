package datastore

import (
	"testing"

	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

func TestVarValidateRejectsBitFieldOnFloat(t *testing.T) {
	v := Var{DataType: protocol.DataTypeFloat32, HasBitField: true, BitOffset: 0, BitSize: 4}
	if err := v.Validate(); err == nil {
		t.Fatalf("expected an error for a bit field on a float var")
	}
}

func TestVarValidateRejectsOutOfRangeBitField(t *testing.T) {
	v := Var{DataType: protocol.DataTypeUint8, HasBitField: true, BitOffset: 6, BitSize: 4}
	if err := v.Validate(); err == nil {
		t.Fatalf("expected an error for bit_offset+bit_size exceeding the type width")
	}
}

func TestDecodeVarValueLittleEndianUint16(t *testing.T) {
	v := Var{DataType: protocol.DataTypeUint16}
	value, _, err := DecodeVarValue(&v, []byte{0x01, 0x00}, EndianLittle)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if value != 1 {
		t.Fatalf("got %v, want 1", value)
	}
}

func TestDecodeVarValueBitField(t *testing.T) {
	v := Var{DataType: protocol.DataTypeUint8, HasBitField: true, BitOffset: 2, BitSize: 3}
	// 0b00011100 -> bits [2:5) = 0b111 = 7
	value, _, err := DecodeVarValue(&v, []byte{0b00011100}, EndianBig)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if value != 7 {
		t.Fatalf("got %v, want 7", value)
	}
}

func TestDecodeVarValueEnumLabel(t *testing.T) {
	v := Var{DataType: protocol.DataTypeUint8, Enum: map[int64]string{1: "RUNNING"}}
	_, label, err := DecodeVarValue(&v, []byte{1}, EndianBig)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if label != "RUNNING" {
		t.Fatalf("got label %q, want RUNNING", label)
	}
}

func TestAliasApplyGainOffsetClamp(t *testing.T) {
	a := Alias{Gain: 2, Offset: 1, HasClamp: true, ClampMin: 0, ClampMax: 10}
	if got := a.Apply(100); got != 10 {
		t.Fatalf("got %v, want clamped to 10", got)
	}
	if got := a.Apply(3); got != 7 {
		t.Fatalf("got %v, want 7", got)
	}
}

func TestDatastoreWatchUnwatchAndUpdate(t *testing.T) {
	ds := New()
	id := EntryID("var1")
	if err := ds.AddEntry(id, Watchable{Kind: KindVar, Var: Var{DataType: protocol.DataTypeUint8}}); err != nil {
		t.Fatalf("add entry failed: %v", err)
	}

	if watched := ds.WatchedVarEntries(); len(watched) != 0 {
		t.Fatalf("expected no watched entries before Watch, got %d", len(watched))
	}

	ds.Watch(id, "client-a")
	if watched := ds.WatchedVarEntries(); len(watched) != 1 {
		t.Fatalf("expected one watched entry, got %d", len(watched))
	}

	if err := ds.UpdateVarValue(id, []byte{42}, EndianBig); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	e, _ := ds.GetEntry(id)
	value, _, valid := e.Value()
	if !valid || value != 42 {
		t.Fatalf("got value=%v valid=%v, want 42/true", value, valid)
	}

	ds.Unwatch(id, "client-a")
	if watched := ds.WatchedVarEntries(); len(watched) != 0 {
		t.Fatalf("expected no watched entries after Unwatch, got %d", len(watched))
	}
}

func TestDatastoreAliasPropagation(t *testing.T) {
	ds := New()
	base := EntryID("base")
	alias := EntryID("alias")
	ds.AddEntry(base, Watchable{Kind: KindVar, Var: Var{DataType: protocol.DataTypeUint8}})
	ds.AddEntry(alias, Watchable{Kind: KindAlias, Alias: Alias{Target: base, Gain: 2, Offset: 0}})

	ds.UpdateVarValue(base, []byte{5}, EndianBig)

	e, _ := ds.GetEntry(alias)
	value, _, valid := e.Value()
	if !valid || value != 10 {
		t.Fatalf("got value=%v valid=%v, want 10/true", value, valid)
	}
}

func TestDatastorePendingWriteLifecycle(t *testing.T) {
	ds := New()
	id := EntryID("var1")
	ds.AddEntry(id, Watchable{Kind: KindVar, Var: Var{DataType: protocol.DataTypeUint8}})

	if ok := ds.RequestWrite(id, []byte{9}, nil); !ok {
		t.Fatalf("expected RequestWrite to succeed")
	}
	pending := ds.PendingWrites()
	if len(pending) != 1 {
		t.Fatalf("expected one pending write, got %d", len(pending))
	}

	ds.CompleteWrite(id, true)
	e, _ := ds.GetEntry(id)
	if e.WriteStatus() != WriteComplete {
		t.Fatalf("expected WriteComplete, got %v", e.WriteStatus())
	}
	if len(ds.PendingWrites()) != 0 {
		t.Fatalf("expected no pending writes after completion")
	}
}

func TestDeviceInfoCompleteRequiresAllPages(t *testing.T) {
	di := NewDeviceInfo()
	di.SetProtocolVersion("1.0")
	di.SetCommParams(protocol.CommParams{MaxRxPayloadSize: 256, MaxTxPayloadSize: 256, MaxBitrate: 115200, HeartbeatTimeout: 5, RxTimeout: 1, AddressSizeBits: 32})
	di.SetFeatures(protocol.FeatureFlags{MemoryWrite: true})
	di.SetRegionCounts(1, 1)
	di.SetRPVCount(1)
	di.SetLoopCount(1)

	if di.Complete() {
		t.Fatalf("expected incomplete device info before all pages arrive")
	}

	di.AddForbiddenRegion(protocol.MemoryRegion{Start: 0, Size: 16})
	di.AddReadOnlyRegion(protocol.MemoryRegion{Start: 16, Size: 16})
	di.AddRPV(protocol.RPVDefinition{ID: 1, DataType: protocol.DataTypeFloat32})
	di.AddLoop(protocol.LoopDefinition{Name: "loop0", Kind: protocol.LoopFixedFreq, FrequencyHz: 100})

	if !di.Complete() {
		t.Fatalf("expected device info to be complete")
	}
}

func TestDeviceInfoIsForbiddenAndReadOnly(t *testing.T) {
	di := NewDeviceInfo()
	di.SetRegionCounts(1, 1)
	di.AddForbiddenRegion(protocol.MemoryRegion{Start: 100, Size: 10})
	di.AddReadOnlyRegion(protocol.MemoryRegion{Start: 200, Size: 10})

	if !di.IsForbidden(105, 2) {
		t.Fatalf("expected address 105 to be forbidden")
	}
	if di.IsForbidden(50, 2) {
		t.Fatalf("did not expect address 50 to be forbidden")
	}
	if !di.IsReadOnly(205, 2) {
		t.Fatalf("expected address 205 to be read-only")
	}
}
