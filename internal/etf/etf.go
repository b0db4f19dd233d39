// Package etf decodes the weave sync-buckets wire blob (C13): a tiny,
// fixed-shape slice of Erlang's External Term Format. No Erlang-term
// library appears anywhere in the retrieved examples, so this decodes only
// the three documented term shapes (small tuple, small/small-big integer,
// map of int→float) per DESIGN.md, not general ETF.
package etf

import (
	"encoding/binary"
	"math"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

const (
	tagVersion       = 131
	tagSmallTupleExt = 104
	tagSmallIntExt   = 97
	tagSmallBigExt   = 110
	tagMapExt        = 116
	tagNewFloatExt   = 70
)

// ParseSyncBuckets decodes a sync-buckets blob: byte 0 is 131, then a
// 2-tuple of (bucket size in bytes, map[bucket index]→weight). Any
// deviation from this exact shape is ETFParseError.
func ParseSyncBuckets(b []byte) (bucketSize uint64, buckets map[uint64]float64, err error) {
	pos := 0

	if pos >= len(b) || b[pos] != tagVersion {
		return 0, nil, parseErr("missing ETF version byte")
	}
	pos++

	if pos >= len(b) || b[pos] != tagSmallTupleExt {
		return 0, nil, parseErr("expected small tuple")
	}
	pos++
	if pos >= len(b) {
		return 0, nil, parseErr("truncated tuple arity")
	}
	arity := b[pos]
	pos++
	if arity != 2 {
		return 0, nil, parseErr("sync-buckets tuple must have arity 2")
	}

	bucketSize, pos, err = readIntTerm(b, pos)
	if err != nil {
		return 0, nil, err
	}

	if pos >= len(b) || b[pos] != tagMapExt {
		return 0, nil, parseErr("expected map")
	}
	pos++
	if pos+4 > len(b) {
		return 0, nil, parseErr("truncated map arity")
	}
	mapArity := binary.BigEndian.Uint32(b[pos : pos+4])
	pos += 4

	buckets = make(map[uint64]float64, mapArity)
	for i := uint32(0); i < mapArity; i++ {
		var key uint64
		key, pos, err = readIntTerm(b, pos)
		if err != nil {
			return 0, nil, err
		}
		if pos >= len(b) || b[pos] != tagNewFloatExt {
			return 0, nil, parseErr("expected new float value")
		}
		pos++
		if pos+8 > len(b) {
			return 0, nil, parseErr("truncated float value")
		}
		bits := binary.BigEndian.Uint64(b[pos : pos+8])
		buckets[key] = math.Float64frombits(bits)
		pos += 8
	}

	if pos != len(b) {
		return 0, nil, parseErr("trailing bytes after sync-buckets term")
	}
	return bucketSize, buckets, nil
}

// readIntTerm decodes a small_int or small_big_int term at pos, returning
// the decoded value and the position just past it.
func readIntTerm(b []byte, pos int) (uint64, int, error) {
	if pos >= len(b) {
		return 0, 0, parseErr("truncated integer term")
	}
	switch b[pos] {
	case tagSmallIntExt:
		if pos+2 > len(b) {
			return 0, 0, parseErr("truncated small integer")
		}
		return uint64(b[pos+1]), pos + 2, nil
	case tagSmallBigExt:
		if pos+2 > len(b) {
			return 0, 0, parseErr("truncated small big header")
		}
		n := int(b[pos+1])
		if pos+3+n > len(b) {
			return 0, 0, parseErr("truncated small big digits")
		}
		signByte := b[pos+2]
		if signByte != 0 {
			return 0, 0, parseErr("negative bucket index/size unsupported")
		}
		digits := b[pos+3 : pos+3+n]
		var v uint64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(digits[i])
		}
		return v, pos + 3 + n, nil
	default:
		return 0, 0, parseErr("expected small or small-big integer")
	}
}

func parseErr(msg string) error {
	return errs.New(errs.KindMalformedInput, "etf: "+msg)
}
