package cdb

import (
	"encoding/binary"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// MessagePack type tags this package needs to decode/encode the two fixed
// record shapes §6 documents — not a general MessagePack implementation.
const (
	mpFixMap1 = 0x81
	mpFixMap3 = 0x83
	mpFixStr1 = 0xa1 // fixstr, length 1 ("r")
	mpBin8    = 0xc4
	mpUint64  = 0xcf
)

// decodeValue decodes a record body into a Value, per the two shapes §6
// documents: `{r: 32B}` (fixmap1) or `{r: 32B, item_offset: u64,
// data_offset: u64}` (fixmap3, keys in that fixed order). Anything else is
// MalformedInput.
func decodeValue(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, errs.New(errs.KindMalformedInput, "cdb: empty value")
	}
	switch b[0] {
	case mpFixMap1:
		pos := 1
		root, next, err := readRField(b, pos)
		if err != nil {
			return Value{}, err
		}
		pos = next
		if pos != len(b) {
			return Value{}, errs.New(errs.KindMalformedInput, "cdb: trailing bytes after simple value")
		}
		return Value{Root: root}, nil
	case mpFixMap3:
		pos := 1
		root, next, err := readRField(b, pos)
		if err != nil {
			return Value{}, err
		}
		pos = next
		itemOffset, next, err := readUint64Field(b, pos, "item_offset")
		if err != nil {
			return Value{}, err
		}
		pos = next
		dataOffset, next, err := readUint64Field(b, pos, "data_offset")
		if err != nil {
			return Value{}, err
		}
		pos = next
		if pos != len(b) {
			return Value{}, errs.New(errs.KindMalformedInput, "cdb: trailing bytes after complete value")
		}
		return Value{Root: root, ItemOffset: &itemOffset, DataOffset: &dataOffset}, nil
	default:
		return Value{}, errs.New(errs.KindMalformedInput, "cdb: unknown map tag byte")
	}
}

func readRField(b []byte, pos int) ([32]byte, int, error) {
	var root [32]byte
	if pos+2 > len(b) || b[pos] != mpFixStr1 || b[pos+1] != 'r' {
		return root, 0, errs.New(errs.KindMalformedInput, "cdb: expected key \"r\"")
	}
	pos += 2
	if pos+2 > len(b) || b[pos] != mpBin8 {
		return root, 0, errs.New(errs.KindMalformedInput, "cdb: expected bin8 value for \"r\"")
	}
	length := int(b[pos+1])
	pos += 2
	if length != 32 || pos+32 > len(b) {
		return root, 0, errs.New(errs.KindMalformedInput, "cdb: \"r\" value must be 32 bytes")
	}
	copy(root[:], b[pos:pos+32])
	return root, pos + 32, nil
}

func readUint64Field(b []byte, pos int, name string) (uint64, int, error) {
	keyLen := len(name)
	if pos+1 > len(b) || b[pos] != byte(0xa0+keyLen) {
		return 0, 0, errs.New(errs.KindMalformedInput, "cdb: expected key \""+name+"\"")
	}
	pos++
	if pos+keyLen > len(b) || string(b[pos:pos+keyLen]) != name {
		return 0, 0, errs.New(errs.KindMalformedInput, "cdb: expected key \""+name+"\"")
	}
	pos += keyLen
	if pos+1 > len(b) || b[pos] != mpUint64 {
		return 0, 0, errs.New(errs.KindMalformedInput, "cdb: expected uint64 value for \""+name+"\"")
	}
	pos++
	if pos+8 > len(b) {
		return 0, 0, errs.New(errs.KindMalformedInput, "cdb: truncated uint64 value for \""+name+"\"")
	}
	v := binary.BigEndian.Uint64(b[pos : pos+8])
	return v, pos + 8, nil
}

// encodeValue is the inverse of decodeValue, used by Write.
func encodeValue(v Value) []byte {
	if !v.IsComplete() {
		out := make([]byte, 0, 1+2+2+32)
		out = append(out, mpFixMap1, mpFixStr1, 'r', mpBin8, 32)
		out = append(out, v.Root[:]...)
		return out
	}
	out := make([]byte, 0, 1+2+2+32+1+11+1+8+1+11+1+8)
	out = append(out, mpFixMap3, mpFixStr1, 'r', mpBin8, 32)
	out = append(out, v.Root[:]...)
	out = appendUint64Field(out, "item_offset", *v.ItemOffset)
	out = appendUint64Field(out, "data_offset", *v.DataOffset)
	return out
}

func appendUint64Field(out []byte, name string, value uint64) []byte {
	out = append(out, byte(0xa0+len(name)))
	out = append(out, name...)
	out = append(out, mpUint64)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	return append(out, buf[:]...)
}
