// Package protocol implements the Scrutiny wire codec (component C1):
// request builders and response parsers for every command the core issues,
// plus the CRC-32 frame format those requests and responses travel in.
//
// The codec is the sole place subfunction enums are named; every state
// machine elsewhere in the core consumes the typed structs this package
// returns.
package protocol

import "fmt"

// Command identifies the top-level request group.
type Command uint8

const (
	CmdGetInfo        Command = 1
	CmdCommControl    Command = 2
	CmdMemoryControl  Command = 3
	CmdDatalogControl Command = 4
	CmdUserCommand    Command = 5
)

func (c Command) String() string {
	switch c {
	case CmdGetInfo:
		return "GetInfo"
	case CmdCommControl:
		return "CommControl"
	case CmdMemoryControl:
		return "MemoryControl"
	case CmdDatalogControl:
		return "DatalogControl"
	case CmdUserCommand:
		return "UserCommand"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Subfunction constants, grouped by the Command they belong to.
const (
	// GetInfo
	SubGetProtocolVersion         uint8 = 1
	SubGetSupportedFeatures       uint8 = 2
	SubGetSpecialMemoryRegionCount uint8 = 3
	SubGetSpecialMemoryRegionLocation uint8 = 4
	SubGetRPVCount                uint8 = 5
	SubGetRPVDefinition           uint8 = 6
	SubGetLoopCount               uint8 = 7
	SubGetLoopDefinition          uint8 = 8

	// CommControl
	SubDiscover   uint8 = 1
	SubConnect    uint8 = 2
	SubHeartbeat  uint8 = 3
	SubGetParams  uint8 = 4
	SubDisconnect uint8 = 5

	// MemoryControl
	SubRead     uint8 = 1
	SubWrite    uint8 = 2
	SubReadRPV  uint8 = 3
	SubWriteRPV uint8 = 4

	// DatalogControl
	SubGetSetup               uint8 = 1
	SubGetStatus              uint8 = 2
	SubConfigureDatalog       uint8 = 3
	SubArmTrigger             uint8 = 4
	SubGetAcquisitionMetadata uint8 = 5
	SubReadAcquisition        uint8 = 6
	SubResetDatalogger        uint8 = 7
)

// ResponseCode is the small refusal enum carried in every response frame.
type ResponseCode uint8

const (
	CodeOK                 ResponseCode = 0
	CodeRefused            ResponseCode = 1
	CodeInvalidRequest     ResponseCode = 2
	CodeUnsupportedFeature ResponseCode = 3
	CodeBusy               ResponseCode = 4
	CodeOverflow           ResponseCode = 5
	CodeFailure            ResponseCode = 6
)

func (c ResponseCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeRefused:
		return "Refused"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeUnsupportedFeature:
		return "UnsupportedFeature"
	case CodeBusy:
		return "Busy"
	case CodeOverflow:
		return "Overflow"
	case CodeFailure:
		return "Failure"
	default:
		return fmt.Sprintf("ResponseCode(%d)", uint8(c))
	}
}

// Request is the codec's output for anything the core sends to the target.
// ExpectedResponseSize is carried alongside the request so the dispatcher
// can enforce the target's advertised TX buffer cap without re-deriving it.
type Request struct {
	Command               Command
	Subfunction           uint8
	Payload               []byte
	ExpectedResponseSize  uint16
}

// Size returns the on-wire payload size used for the dispatcher's
// max-request-payload-size check.
func (r *Request) Size() int {
	return len(r.Payload)
}

// Response is the codec's input: a fully received, CRC-verified frame.
type Response struct {
	Command     Command
	Subfunction uint8
	Code        ResponseCode
	Payload     []byte
}

// DataType enumerates the embedded data types a Var or RPV may hold.
type DataType uint8

const (
	DataTypeSint8 DataType = iota
	DataTypeSint16
	DataTypeSint32
	DataTypeSint64
	DataTypeUint8
	DataTypeUint16
	DataTypeUint32
	DataTypeUint64
	DataTypeFloat32
	DataTypeFloat64
	DataTypeBool
)

// Size returns the storage size in bytes of this data type.
func (d DataType) Size() int {
	switch d {
	case DataTypeSint8, DataTypeUint8, DataTypeBool:
		return 1
	case DataTypeSint16, DataTypeUint16:
		return 2
	case DataTypeSint32, DataTypeUint32, DataTypeFloat32:
		return 4
	case DataTypeSint64, DataTypeUint64, DataTypeFloat64:
		return 8
	default:
		return 0
	}
}

// AddressSize is the target's negotiated address width, in bits.
type AddressSize uint8

const (
	AddressSize8  AddressSize = 8
	AddressSize16 AddressSize = 16
	AddressSize32 AddressSize = 32
	AddressSize64 AddressSize = 64
)

// Bytes returns the address width in bytes.
func (a AddressSize) Bytes() int {
	return int(a) / 8
}

// MemoryBlockRequest describes one (address, length) read request.
type MemoryBlockRequest struct {
	Address uint64
	Length  uint16
}

// MemoryBlockWrite describes one write request; Mask is nil for a full-width
// write and non-nil for a bit-masked write.
type MemoryBlockWrite struct {
	Address uint64
	Data    []byte
	Mask    []byte
}

// MemoryBlockResponse is one decoded block from a READ_MEMORY response.
type MemoryBlockResponse struct {
	Address uint64
	Data    []byte
}

// RPVWrite pairs an RPV id with its new value, pre-encoded on the wire's
// big-endian convention by the caller's DataType.
type RPVWrite struct {
	ID   uint16
	Data []byte
}

// RPVValue is one decoded value from a READ_RPV response.
type RPVValue struct {
	ID   uint16
	Data []byte
}
