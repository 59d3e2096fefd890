package protocol

import (
	"encoding/binary"

	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

// DataloggingSetup is reported by the target once per session (§3).
type DataloggingSetup struct {
	Encoding      uint8
	BufferSize    uint32
	MaxSignalCount uint8
}

func (c *Codec) BuildGetDatalogSetup() *Request {
	return &Request{Command: CmdDatalogControl, Subfunction: SubGetSetup, ExpectedResponseSize: 6}
}

func ParseDatalogSetupResponse(payload []byte) (*DataloggingSetup, error) {
	if len(payload) < 6 {
		return nil, scrutinyerr.ErrMalformedFrame
	}
	return &DataloggingSetup{
		Encoding:       payload[0],
		BufferSize:     binary.BigEndian.Uint32(payload[1:5]),
		MaxSignalCount: payload[5],
	}, nil
}

// DataloggerState mirrors the target's on-board datalogger state machine as
// reported by GetStatus.
type DataloggerState uint8

const (
	DataloggerIdle       DataloggerState = 0
	DataloggerConfigured DataloggerState = 1
	DataloggerArmed      DataloggerState = 2
	DataloggerTriggered  DataloggerState = 3
	DataloggerAcquired   DataloggerState = 4
	DataloggerError      DataloggerState = 5
)

// DatalogStatus is the periodic poll result (§4.11 "Status polling").
type DatalogStatus struct {
	State              DataloggerState
	BytesSinceTrigger  uint32
	BytesRemainingTotal uint32
}

// CompletionRatio computes a value in [0,1] from bytes written since trigger
// against the total byte count still remaining, as the datalogging poller
// does each status tick.
func (s *DatalogStatus) CompletionRatio() float64 {
	total := s.BytesSinceTrigger + s.BytesRemainingTotal
	if total == 0 {
		return 0
	}
	return float64(s.BytesSinceTrigger) / float64(total)
}

func (c *Codec) BuildGetDatalogStatus() *Request {
	return &Request{Command: CmdDatalogControl, Subfunction: SubGetStatus, ExpectedResponseSize: 9}
}

func ParseDatalogStatusResponse(payload []byte) (*DatalogStatus, error) {
	if len(payload) < 9 {
		return nil, scrutinyerr.ErrMalformedFrame
	}
	return &DatalogStatus{
		State:               DataloggerState(payload[0]),
		BytesSinceTrigger:   binary.BigEndian.Uint32(payload[1:5]),
		BytesRemainingTotal: binary.BigEndian.Uint32(payload[5:9]),
	}, nil
}

// SignalSource selects whether a signal samples a Var (by address) or an RPV
// (by id).
type SignalSource uint8

const (
	SignalSourceAddress SignalSource = 0
	SignalSourceRPV     SignalSource = 1
)

// SignalDef is one signal in a datalogging acquisition configuration.
// AxisID/AxisName group signals sharing a Y-axis for display purposes
// (expansion, mirroring the original's AxisDefinition); they are a
// server-local concept and are not sent over the wire.
type SignalDef struct {
	Name     string
	Source   SignalSource
	Address  uint64
	RPVID    uint16
	DataType DataType
	AxisID   uint16
	AxisName string
}

// TriggerCondition is the target's trigger predicate on a watched signal.
type TriggerCondition struct {
	Source    SignalSource
	Address   uint64
	RPVID     uint16
	DataType  DataType
	Threshold uint64 // raw bit pattern of the comparison value
}

// AcquisitionConfig is the user-facing configuration accepted by
// RequestAcquisition (§4.11 "Configuration validation").
type AcquisitionConfig struct {
	SamplingRateID uint8
	Decimation     uint16
	Signals        []SignalDef
	Trigger        TriggerCondition
	HoldTimeMs     uint32
	XAxisName      string
}

func (c *Codec) BuildConfigureDatalog(loopID uint8, configID uint16, cfg *AcquisitionConfig) *Request {
	payload := make([]byte, 0, 32+len(cfg.Signals)*11)
	payload = append(payload, loopID)
	idBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(idBuf, configID)
	payload = append(payload, idBuf...)
	payload = append(payload, cfg.SamplingRateID)
	decBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(decBuf, cfg.Decimation)
	payload = append(payload, decBuf...)
	holdBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(holdBuf, cfg.HoldTimeMs)
	payload = append(payload, holdBuf...)

	payload = append(payload, uint8(cfg.Trigger.Source))
	trigAddrBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(trigAddrBuf, cfg.Trigger.Address)
	payload = append(payload, trigAddrBuf...)
	trigRPVBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(trigRPVBuf, cfg.Trigger.RPVID)
	payload = append(payload, trigRPVBuf...)
	payload = append(payload, uint8(cfg.Trigger.DataType))
	trigThreshBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(trigThreshBuf, cfg.Trigger.Threshold)
	payload = append(payload, trigThreshBuf...)

	payload = append(payload, uint8(len(cfg.Signals)))
	for _, s := range cfg.Signals {
		payload = append(payload, uint8(s.Source))
		addrBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(addrBuf, s.Address)
		payload = append(payload, addrBuf...)
		rpvBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(rpvBuf, s.RPVID)
		payload = append(payload, rpvBuf...)
		payload = append(payload, uint8(s.DataType))
	}
	return &Request{Command: CmdDatalogControl, Subfunction: SubConfigureDatalog, Payload: payload, ExpectedResponseSize: 2}
}

func ParseConfigureDatalogResponse(payload []byte) (acceptedConfigID uint16, err error) {
	if len(payload) < 2 {
		return 0, scrutinyerr.ErrMalformedFrame
	}
	return binary.BigEndian.Uint16(payload), nil
}

func (c *Codec) BuildArmTrigger() *Request {
	return &Request{Command: CmdDatalogControl, Subfunction: SubArmTrigger, ExpectedResponseSize: 1}
}

func (c *Codec) BuildGetAcquisitionMetadata() *Request {
	return &Request{Command: CmdDatalogControl, Subfunction: SubGetAcquisitionMetadata, ExpectedResponseSize: 16}
}

// AcquisitionMetadata is the target's description of what is about to be
// read out (§3).
type AcquisitionMetadata struct {
	AcquisitionID    uint16
	ConfigID         uint16
	DataSizeBytes    uint32
	NumberOfPoints   uint32
	PointsAfterTrigger uint32
}

func ParseAcquisitionMetadataResponse(payload []byte) (*AcquisitionMetadata, error) {
	if len(payload) < 16 {
		return nil, scrutinyerr.ErrMalformedFrame
	}
	return &AcquisitionMetadata{
		AcquisitionID:      binary.BigEndian.Uint16(payload[0:2]),
		ConfigID:           binary.BigEndian.Uint16(payload[2:4]),
		DataSizeBytes:      binary.BigEndian.Uint32(payload[4:8]),
		NumberOfPoints:     binary.BigEndian.Uint32(payload[8:12]),
		PointsAfterTrigger: binary.BigEndian.Uint32(payload[12:16]),
	}, nil
}

func (c *Codec) BuildReadAcquisition(cursor uint32, txBufferSize uint16) *Request {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint32(payload[0:4], cursor)
	binary.BigEndian.PutUint16(payload[4:6], txBufferSize)
	return &Request{Command: CmdDatalogControl, Subfunction: SubReadAcquisition, Payload: payload, ExpectedResponseSize: txBufferSize}
}

// ReadAcquisitionChunk is one decoded READ_ACQUISITION response (§4.11
// "Chunked readout").
type ReadAcquisitionChunk struct {
	AcquisitionID  uint16
	RollingCounter uint8
	Finished       bool
	CRC32          uint32
	HasCRC         bool
	Data           []byte
}

func ParseReadAcquisitionResponse(payload []byte) (*ReadAcquisitionChunk, error) {
	if len(payload) < 4 {
		return nil, scrutinyerr.ErrMalformedFrame
	}
	acqID := binary.BigEndian.Uint16(payload[0:2])
	rolling := payload[2]
	finished := payload[3] != 0
	i := 4
	chunk := &ReadAcquisitionChunk{AcquisitionID: acqID, RollingCounter: rolling, Finished: finished}
	if finished {
		if len(payload) < i+4 {
			return nil, scrutinyerr.ErrMalformedFrame
		}
		chunk.CRC32 = binary.BigEndian.Uint32(payload[i : i+4])
		chunk.HasCRC = true
		i += 4
	}
	chunk.Data = append([]byte(nil), payload[i:]...)
	return chunk, nil
}

func (c *Codec) BuildResetDatalogger() *Request {
	return &Request{Command: CmdDatalogControl, Subfunction: SubResetDatalogger, ExpectedResponseSize: 1}
}
