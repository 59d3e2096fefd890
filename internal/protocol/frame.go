package protocol

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

// Wire framing: every frame carries {command, subfunction, length, payload,
// CRC32}, per spec §6. Requests and responses share the same trailer and
// length-field convention; responses additionally carry a one-byte response
// code between the subfunction and the length field.
//
// Request frame:  command(1) subfunction(1) length(2 BE) payload(length) crc32(4 BE)
// Response frame: command(1) subfunction(1) code(1) length(2 BE) payload(length) crc32(4 BE)

const (
	requestHeaderSize  = 1 + 1 + 2
	responseHeaderSize = 1 + 1 + 1 + 2
	crcSize            = 4
)

// EncodeRequestFrame serialises a request for transmission over the link.
func EncodeRequestFrame(req *Request) []byte {
	buf := make([]byte, requestHeaderSize+len(req.Payload)+crcSize)
	buf[0] = uint8(req.Command)
	buf[1] = req.Subfunction
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(req.Payload)))
	copy(buf[4:], req.Payload)
	crc := crc32.ChecksumIEEE(buf[:4+len(req.Payload)])
	binary.BigEndian.PutUint32(buf[4+len(req.Payload):], crc)
	return buf
}

// TryDecodeResponseFrame attempts to decode one complete response frame from
// the front of buf. It returns the parsed response, the number of bytes
// consumed from buf, and ok=false if buf does not yet contain a complete
// frame (the caller should wait for more bytes). A non-nil error indicates a
// malformed frame (a CRC mismatch; a short buffer only yields ok=false) that
// the comm handler must treat as a transient failure.
func TryDecodeResponseFrame(buf []byte) (resp *Response, consumed int, ok bool, err error) {
	if len(buf) < responseHeaderSize {
		return nil, 0, false, nil
	}
	length := binary.BigEndian.Uint16(buf[3:5])
	total := responseHeaderSize + int(length) + crcSize
	if len(buf) < total {
		return nil, 0, false, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[responseHeaderSize:responseHeaderSize+int(length)])

	wantCRC := binary.BigEndian.Uint32(buf[responseHeaderSize+int(length) : total])
	gotCRC := crc32.ChecksumIEEE(buf[:responseHeaderSize+int(length)])
	if wantCRC != gotCRC {
		return nil, total, true, scrutinyerr.ErrMalformedFrame
	}

	resp = &Response{
		Command:     Command(buf[0]),
		Subfunction: buf[1],
		Code:        ResponseCode(buf[2]),
		Payload:     payload,
	}
	return resp, total, true, nil
}

// EncodeResponseFrame serialises a response frame. Used by tests that need
// to synthesise target responses, and by in-process fakes of the link.
func EncodeResponseFrame(resp *Response) []byte {
	buf := make([]byte, responseHeaderSize+len(resp.Payload)+crcSize)
	buf[0] = uint8(resp.Command)
	buf[1] = resp.Subfunction
	buf[2] = uint8(resp.Code)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(resp.Payload)))
	copy(buf[5:], resp.Payload)
	crc := crc32.ChecksumIEEE(buf[:5+len(resp.Payload)])
	binary.BigEndian.PutUint32(buf[5+len(resp.Payload):], crc)
	return buf
}

// ChecksumAcquisitionData computes the end-to-end CRC-32/IEEE the datalogging
// poller verifies over the concatenated bytes of a chunked acquisition
// readout (spec §4.1, §8 "Datalogging CRC"). Distinct from the per-frame CRC
// above: this one covers reassembled acquisition payload, not a single frame.
func ChecksumAcquisitionData(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
