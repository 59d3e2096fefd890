// Package datastore implements the live datastore of watchable values (§3)
// the core mirrors from target memory and runtime-published values. The
// memory/RPV readers and the memory writer (components C9/C10) that keep it
// in sync live in internal/reader and internal/writer.
package datastore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

// Endianness is the byte order used to decode a Var's raw memory bytes.
// Distinct from the wire's always-big-endian integer/float encoding (§4.1):
// this one describes how the *target* lays out its own memory, which may
// differ from the wire convention. The info poller does not report it.
type Endianness uint8

const (
	EndianBig Endianness = iota
	EndianLittle
)

func (e Endianness) byteOrder() binary.ByteOrder {
	if e == EndianLittle {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Var is a target memory address paired with a data type, optional bit
// field, optional enum mapping, and an optional endianness override (§3).
type Var struct {
	Address      uint64
	DataType     protocol.DataType
	HasBitField  bool
	BitOffset    uint8
	BitSize      uint8
	Enum         map[int64]string
	EndianOverride *Endianness
}

// Validate enforces the Watchable invariant: bit fields only appear on
// integer-typed Vars, and bit_offset + bit_size <= 8 * size.
func (v *Var) Validate() error {
	if !v.HasBitField {
		return nil
	}
	switch v.DataType {
	case protocol.DataTypeFloat32, protocol.DataTypeFloat64:
		return fmt.Errorf("datastore: bit fields are not valid on float-typed vars")
	}
	maxBits := uint8(8 * v.DataType.Size())
	if v.BitOffset+v.BitSize > maxBits {
		return fmt.Errorf("datastore: bit_offset(%d)+bit_size(%d) exceeds 8*size(%d)", v.BitOffset, v.BitSize, maxBits)
	}
	return nil
}

// RPV is a target-exported named value read/written by id (§3, GLOSSARY).
type RPV struct {
	ID       uint16
	DataType protocol.DataType
}

// Alias is an affine transform (gain, offset) with an optional clamp over
// another Watchable (§3).
type Alias struct {
	Target    EntryID
	Gain      float64
	Offset    float64
	HasClamp  bool
	ClampMin  float64
	ClampMax  float64
}

// Apply runs the alias's affine transform and clamp over a raw target value.
func (a *Alias) Apply(raw float64) float64 {
	v := raw*a.Gain + a.Offset
	if a.HasClamp {
		if v < a.ClampMin {
			v = a.ClampMin
		}
		if v > a.ClampMax {
			v = a.ClampMax
		}
	}
	return v
}

// Kind tags which variant a Watchable holds.
type Kind uint8

const (
	KindVar Kind = iota
	KindRPV
	KindAlias
)

// Watchable is a named handle the outside world can subscribe to (§3),
// modelled as a tagged variant selected by Kind per §9's design note.
type Watchable struct {
	Kind  Kind
	Var   Var
	RPV   RPV
	Alias Alias
}

// DecodeVarValue decodes raw target-memory bytes into a float64 per the
// Var's data type, endianness, optional bit field, and optional enum label.
// The numeric value is always returned; label is non-empty only when the
// var has an enum mapping with a matching entry.
func DecodeVarValue(v *Var, raw []byte, defaultEndian Endianness) (value float64, label string, err error) {
	endian := defaultEndian
	if v.EndianOverride != nil {
		endian = *v.EndianOverride
	}
	order := endian.byteOrder()

	size := v.DataType.Size()
	if len(raw) < size {
		return 0, "", fmt.Errorf("datastore: raw value too short: got %d bytes, want %d", len(raw), size)
	}
	raw = raw[:size]

	var intVal int64
	var uintVal uint64
	switch v.DataType {
	case protocol.DataTypeBool:
		if raw[0] != 0 {
			value = 1
		}
		return value, "", nil
	case protocol.DataTypeFloat32:
		bits := order.Uint32(raw)
		return float64(math.Float32frombits(bits)), "", nil
	case protocol.DataTypeFloat64:
		bits := order.Uint64(raw)
		return math.Float64frombits(bits), "", nil
	case protocol.DataTypeSint8:
		intVal = int64(int8(raw[0]))
	case protocol.DataTypeSint16:
		intVal = int64(int16(order.Uint16(raw)))
	case protocol.DataTypeSint32:
		intVal = int64(int32(order.Uint32(raw)))
	case protocol.DataTypeSint64:
		intVal = int64(order.Uint64(raw))
	case protocol.DataTypeUint8:
		uintVal = uint64(raw[0])
	case protocol.DataTypeUint16:
		uintVal = uint64(order.Uint16(raw))
	case protocol.DataTypeUint32:
		uintVal = uint64(order.Uint32(raw))
	case protocol.DataTypeUint64:
		uintVal = order.Uint64(raw)
	default:
		return 0, "", fmt.Errorf("datastore: unsupported data type %v", v.DataType)
	}

	var raw64 int64
	if v.DataType == protocol.DataTypeUint8 || v.DataType == protocol.DataTypeUint16 ||
		v.DataType == protocol.DataTypeUint32 || v.DataType == protocol.DataTypeUint64 {
		raw64 = int64(uintVal)
		value = float64(uintVal)
	} else {
		raw64 = intVal
		value = float64(intVal)
	}

	if v.HasBitField {
		mask := uint64(1)<<v.BitSize - 1
		raw64 = int64((uint64(raw64) >> v.BitOffset) & mask)
		value = float64(raw64)
	}

	if v.Enum != nil {
		if l, ok := v.Enum[raw64]; ok {
			label = l
		}
	}
	return value, label, nil
}
