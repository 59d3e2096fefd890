package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/scrutinydebugger/scrutiny-core/internal/scrutinyerr"
)

func TestEncodeDecodeResponseFrameRoundTrip(t *testing.T) {
	resp := &Response{
		Command:     CmdCommControl,
		Subfunction: SubDiscover,
		Code:        CodeOK,
		Payload:     []byte{1, 2, 3, 4, 5},
	}
	wire := EncodeResponseFrame(resp)

	got, consumed, ok, err := TryDecodeResponseFrame(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a complete frame")
	}
	if consumed != len(wire) {
		t.Fatalf("consumed = %d, want %d", consumed, len(wire))
	}
	if got.Command != resp.Command || got.Subfunction != resp.Subfunction || got.Code != resp.Code {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, resp.Payload) {
		t.Fatalf("payload mismatch: got %v want %v", got.Payload, resp.Payload)
	}
}

func TestTryDecodeResponseFrameIncomplete(t *testing.T) {
	resp := &Response{Command: CmdGetInfo, Subfunction: SubGetProtocolVersion, Code: CodeOK, Payload: []byte{1, 2}}
	wire := EncodeResponseFrame(resp)

	_, _, ok, err := TryDecodeResponseFrame(wire[:len(wire)-1])
	if err != nil {
		t.Fatalf("unexpected error on partial frame: %v", err)
	}
	if ok {
		t.Fatalf("expected incomplete frame to report not-ok")
	}
}

func TestTryDecodeResponseFrameBadCRC(t *testing.T) {
	resp := &Response{Command: CmdGetInfo, Subfunction: SubGetProtocolVersion, Code: CodeOK, Payload: []byte{1, 2}}
	wire := EncodeResponseFrame(resp)
	wire[len(wire)-1] ^= 0xFF // corrupt the CRC trailer

	_, _, ok, err := TryDecodeResponseFrame(wire)
	if !ok {
		t.Fatalf("a full-length corrupt frame should still be reported complete")
	}
	if !errors.Is(err, scrutinyerr.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeRequestFrame(t *testing.T) {
	req := &Request{Command: CmdMemoryControl, Subfunction: SubRead, Payload: []byte{0xAA, 0xBB}}
	wire := EncodeRequestFrame(req)
	if len(wire) != requestHeaderSize+2+crcSize {
		t.Fatalf("unexpected frame length %d", len(wire))
	}
	if wire[0] != uint8(CmdMemoryControl) || wire[1] != SubRead {
		t.Fatalf("unexpected header bytes: %v", wire[:2])
	}
}

func TestChecksumAcquisitionDataIsNonZero(t *testing.T) {
	data := []byte("acquisition-payload")
	got := ChecksumAcquisitionData(data)
	// A forced-zero CRC (scenario 6) must never collide with the real checksum
	// for non-empty data, otherwise the mismatch check would be vacuous.
	if got == 0 {
		t.Fatalf("checksum unexpectedly zero")
	}
}
