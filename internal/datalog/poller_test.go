package datalog

import (
	"encoding/binary"
	"testing"

	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/dispatch"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

func setupPoller(t *testing.T) (*dispatch.Dispatcher, *Poller) {
	t.Helper()
	d := dispatch.NewDispatcher(0)
	codec := protocol.NewCodec(protocol.AddressSize32)
	p := New(d, codec, datastore.NewDeviceInfo())

	p.Process()
	record := d.PopNext()
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: []byte{0, 0, 0, 0, 1, 8}}, nil)
	if p.State() != StateWaitForRequest {
		t.Fatalf("expected StateWaitForRequest after GetSetup, got %v", p.State())
	}
	return d, p
}

func simpleConfig() *protocol.AcquisitionConfig {
	return &protocol.AcquisitionConfig{
		SamplingRateID: 1,
		Decimation:     2,
		Signals: []protocol.SignalDef{
			{Name: "A", Source: protocol.SignalSourceAddress, Address: 0x1000, DataType: protocol.DataTypeUint32},
		},
		Trigger:   protocol.TriggerCondition{Source: protocol.SignalSourceAddress, Address: 0x2000, DataType: protocol.DataTypeUint16},
		HoldTimeMs: 200,
		XAxisName:  "measured_time",
	}
}

func driveToRetrieving(t *testing.T, d *dispatch.Dispatcher, p *Poller) {
	t.Helper()
	cfg := simpleConfig()
	var result *Acquisition
	var resultErr error
	if err := p.RequestAcquisition(0, cfg, func(a *Acquisition, err error) { result = a; resultErr = err }); err != nil {
		t.Fatalf("RequestAcquisition failed: %v", err)
	}

	p.Process() // WaitForRequest -> Configuring, dispatches ConfigureDatalog
	record := d.PopNext()
	configIDPayload := make([]byte, 2)
	binary.BigEndian.PutUint16(configIDPayload, p.actualConfigID)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: configIDPayload}, nil)
	if p.State() != StateArming {
		t.Fatalf("expected StateArming, got %v", p.State())
	}

	p.Process()
	record = d.PopNext()
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: []byte{0}}, nil)
	if p.State() != StateWaitForData {
		t.Fatalf("expected StateWaitForData, got %v", p.State())
	}

	p.Process()
	record = d.PopNext()
	statusPayload := make([]byte, 9)
	statusPayload[0] = byte(protocol.DataloggerAcquired)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: statusPayload}, nil)
	if p.State() != StateReadMetadata {
		t.Fatalf("expected StateReadMetadata, got %v", p.State())
	}

	p.Process()
	record = d.PopNext()
	metaPayload := make([]byte, 16)
	binary.BigEndian.PutUint16(metaPayload[0:2], 1) // acquisition id
	binary.BigEndian.PutUint16(metaPayload[2:4], p.actualConfigID)
	binary.BigEndian.PutUint32(metaPayload[4:8], 8) // 2 points * 4 bytes
	binary.BigEndian.PutUint32(metaPayload[8:12], 2)
	binary.BigEndian.PutUint32(metaPayload[12:16], 0)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: metaPayload}, nil)
	if p.State() != StateRetrievingData {
		t.Fatalf("expected StateRetrievingData, got %v", p.State())
	}

	_ = result
	_ = resultErr
}

func TestConfigIDInterlockMismatchAbortsToReset(t *testing.T) {
	d, p := setupPoller(t)
	cfg := simpleConfig()
	var gotErr error
	p.RequestAcquisition(0, cfg, func(a *Acquisition, err error) { gotErr = err })

	p.Process()
	record := d.PopNext()
	// Echo back the wrong config id.
	wrongID := make([]byte, 2)
	binary.BigEndian.PutUint16(wrongID, p.actualConfigID+99)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: wrongID}, nil)

	if p.State() != StateRequestReset {
		t.Fatalf("expected StateRequestReset on config id mismatch, got %v", p.State())
	}
	if gotErr == nil {
		t.Fatalf("expected the completion callback to report failure")
	}
}

func TestAcquisitionHappyPathProducesEqualLengthSeries(t *testing.T) {
	d, p := setupPoller(t)
	cfg := simpleConfig()
	var result *Acquisition
	var resultErr error
	p.RequestAcquisition(0, cfg, func(a *Acquisition, err error) { result = a; resultErr = err })

	p.Process()
	record := d.PopNext()
	configIDPayload := make([]byte, 2)
	binary.BigEndian.PutUint16(configIDPayload, p.actualConfigID)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: configIDPayload}, nil)

	p.Process()
	record = d.PopNext()
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: []byte{0}}, nil)

	p.Process()
	record = d.PopNext()
	statusPayload := make([]byte, 9)
	statusPayload[0] = byte(protocol.DataloggerAcquired)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: statusPayload}, nil)

	p.Process()
	record = d.PopNext()
	metaPayload := make([]byte, 16)
	binary.BigEndian.PutUint16(metaPayload[0:2], 1)
	binary.BigEndian.PutUint16(metaPayload[2:4], p.actualConfigID)
	binary.BigEndian.PutUint32(metaPayload[4:8], 8)
	binary.BigEndian.PutUint32(metaPayload[8:12], 2)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: metaPayload}, nil)

	p.Process()
	record = d.PopNext()
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], 10)
	binary.BigEndian.PutUint32(data[4:8], 20)
	crc := protocol.ChecksumAcquisitionData(data)
	chunk := make([]byte, 4+4+len(data))
	binary.BigEndian.PutUint16(chunk[0:2], 1) // acquisition id
	chunk[2] = 0                              // rolling counter
	chunk[3] = 1                              // finished
	binary.BigEndian.PutUint32(chunk[4:8], crc)
	copy(chunk[8:], data)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: chunk}, nil)

	if p.State() != StateRequestReset {
		t.Fatalf("expected StateRequestReset after success, got %v", p.State())
	}
	if resultErr != nil {
		t.Fatalf("expected success, got error %v", resultErr)
	}
	if len(result.YData) != 1 || len(result.YData[0].Series.Values) != 2 {
		t.Fatalf("expected one series of 2 points, got %+v", result.YData)
	}
	if result.YData[0].Series.Values[0] != 10 || result.YData[0].Series.Values[1] != 20 {
		t.Fatalf("unexpected decoded values: %v", result.YData[0].Series.Values)
	}
	if len(result.XData.Values) != 2 {
		t.Fatalf("expected an X-axis series of 2 points, got %+v", result.XData)
	}
	if result.TriggerIndex == nil {
		t.Fatalf("expected a non-nil trigger index")
	}
}

func TestAcquisitionCRCMismatchFailsCallback(t *testing.T) {
	d, p := setupPoller(t)
	driveToRetrieving(t, d, p)

	var gotErr error
	p.callback = func(a *Acquisition, err error) { gotErr = err }

	p.Process()
	record := d.PopNext()
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], 10)
	binary.BigEndian.PutUint32(data[4:8], 20)
	chunk := make([]byte, 4+4+len(data))
	binary.BigEndian.PutUint16(chunk[0:2], 1)
	chunk[2] = 0
	chunk[3] = 1
	binary.BigEndian.PutUint32(chunk[4:8], 0) // wrong CRC
	copy(chunk[8:], data)
	record.Complete(&protocol.Response{Code: protocol.CodeOK, Payload: chunk}, nil)

	if p.State() != StateRequestReset {
		t.Fatalf("expected StateRequestReset on CRC mismatch, got %v", p.State())
	}
	if gotErr == nil {
		t.Fatalf("expected a failure callback on CRC mismatch")
	}
}

func TestCancellationReturnsToWaitForRequestWithFailureCallback(t *testing.T) {
	d, p := setupPoller(t)
	cfg := simpleConfig()
	var gotErr error
	p.RequestAcquisition(0, cfg, func(a *Acquisition, err error) { gotErr = err })
	p.Process()
	d.PopNext() // ConfigureDatalog in flight

	p.CancelAcquisitionRequest()
	p.Process()
	if p.State() != StateRequestReset {
		t.Fatalf("expected StateRequestReset immediately after cancellation, got %v", p.State())
	}
	if gotErr == nil {
		t.Fatalf("expected the callback to fire with failure on cancellation")
	}

	record := d.PopNext()
	record.Complete(&protocol.Response{Code: protocol.CodeOK}, nil)
	if p.State() != StateWaitForRequest {
		t.Fatalf("expected the poller back in WaitForRequest after reset, got %v", p.State())
	}
}
