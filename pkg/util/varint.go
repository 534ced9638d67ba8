package util

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WriteVarInt writes a variable-length integer: 1 byte for values below
// 0xfd, then a marker byte followed by 2/4/8 little-endian bytes for
// larger values. Used to length-prefix variable-size fields in the
// canonical transaction/block serialization (§4.3-4.4).
func WriteVarInt(val uint64) []byte {
	switch {
	case val < 0xfd:
		return []byte{byte(val)}
	case val <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(val))
		return b
	case val <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(val))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], val)
		return b
	}
}

// ReadVarInt reads a variable-length integer written by WriteVarInt,
// returning the value and the number of bytes consumed.
func ReadVarInt(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("varint: empty data")
	}
	switch {
	case data[0] < 0xfd:
		return uint64(data[0]), 1, nil
	case data[0] == 0xfd:
		if len(data) < 3 {
			return 0, 0, fmt.Errorf("varint: insufficient data for uint16")
		}
		return uint64(binary.LittleEndian.Uint16(data[1:3])), 3, nil
	case data[0] == 0xfe:
		if len(data) < 5 {
			return 0, 0, fmt.Errorf("varint: insufficient data for uint32")
		}
		return uint64(binary.LittleEndian.Uint32(data[1:5])), 5, nil
	default:
		if len(data) < 9 {
			return 0, 0, fmt.Errorf("varint: insufficient data for uint64")
		}
		return binary.LittleEndian.Uint64(data[1:9]), 9, nil
	}
}

// PutBytes writes a length-prefixed byte slice: a varint length followed
// by the raw bytes. Used for canonical field encoding.
func PutBytes(b []byte) []byte {
	out := WriteVarInt(uint64(len(b)))
	return append(out, b...)
}

// PutString writes a length-prefixed UTF-8 string.
func PutString(s string) []byte {
	return PutBytes([]byte(s))
}

// Uint64ToBytes converts a uint64 to 8-byte little-endian.
func Uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Uint32ToBytes converts a uint32 to 4-byte little-endian.
func Uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// Float64Bytes encodes a float64 as its 8-byte IEEE-754 bit pattern,
// big-endian, for inclusion in canonical serializations that must be
// bit-identical across implementations (§4.5's determinism
// requirement extends to any stored float field).
func Float64Bytes(f float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
	return b
}
