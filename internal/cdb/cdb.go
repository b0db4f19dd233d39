// Package cdb implements the root-tx-id index (C11): a read-only,
// djb-cdb-style constant database keyed by 32-byte ids, extended to 64-bit
// offsets/lengths ("CDB64") to support the multi-gigabyte index files this
// gateway reads. No MessagePack library appears anywhere in the retrieved
// example repos, so the value codec below is a hand-rolled decoder for the
// two fixed record shapes §6 documents, not a general MessagePack
// implementation — see DESIGN.md.
package cdb

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// numSlots is the number of top-level hash-table slots a CDB64 file is
// partitioned into, mirroring djb's original 256-slot design.
const numSlots = 256

// headerSize is 256 (position, length) uint64 pairs.
const headerSize = numSlots * 16

// Value is a decoded CDB64 record body, per §6's two MessagePack shapes.
type Value struct {
	Root       [32]byte
	ItemOffset *uint64
	DataOffset *uint64
}

// IsComplete reports whether both offsets are present (§6 isCompleteValue).
func (v Value) IsComplete() bool { return v.ItemOffset != nil && v.DataOffset != nil }

// Reader looks up ids in one or more CDB64 shard files. A single-file
// Reader has exactly one shard; a sharded Reader routes by the first byte
// of the id, per §6's "00.cdb … ff.cdb" partitioning.
type Reader struct {
	shards map[byte]*shardReader
	single *shardReader // set when opened with a single, unsharded file
}

// Open opens either one unsharded CDB64 file (single element in paths) or
// a full set of up-to-256 shard files (one per first-key-byte value,
// inferred from each file's own contents rather than its name).
func Open(paths ...string) (*Reader, error) {
	if len(paths) == 0 {
		return nil, errs.New(errs.KindMalformedInput, "cdb: no paths given")
	}
	r := &Reader{shards: make(map[byte]*shardReader)}
	if len(paths) == 1 {
		sr, err := openShard(paths[0])
		if err != nil {
			return nil, err
		}
		r.single = sr
		return r, nil
	}
	for _, p := range paths {
		sr, err := openShard(p)
		if err != nil {
			return nil, err
		}
		r.shards[sr.shardByte] = sr
	}
	return r, nil
}

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	var firstErr error
	closeOne := func(sr *shardReader) {
		if sr == nil {
			return
		}
		if err := sr.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closeOne(r.single)
	for _, sr := range r.shards {
		closeOne(sr)
	}
	return firstErr
}

// Lookup finds id's value. ok is false if id isn't present.
func (r *Reader) Lookup(id [32]byte) (Value, bool, error) {
	if r.single != nil {
		return r.single.lookup(id)
	}
	sr, ok := r.shards[id[0]]
	if !ok {
		return Value{}, false, nil
	}
	return sr.lookup(id)
}

type shardReader struct {
	f         *os.File
	shardByte byte
	slotPos   [numSlots]uint64
	slotLen   [numSlots]uint64
}

func openShard(path string) (*shardReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "cdb: open file", err)
	}
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.KindMalformedInput, "cdb: truncated header", err)
	}
	sr := &shardReader{f: f}
	for i := 0; i < numSlots; i++ {
		sr.slotPos[i] = binary.BigEndian.Uint64(hdr[i*16:])
		sr.slotLen[i] = binary.BigEndian.Uint64(hdr[i*16+8:])
	}
	// The shard byte is read here, at open time, from the first key found in
	// the file's hash tables, so a shard file doesn't need to encode its own
	// byte in its name. Open keys a sharded set by it and Lookup routes on
	// the id's first byte. A file with no records keeps shardByte zero.
	if b, err := sr.firstKeyByte(); err == nil {
		sr.shardByte = b
	}
	return sr, nil
}

// firstKeyByte scans the first non-empty slot's first populated table
// entry to recover which partition byte this shard file serves.
func (sr *shardReader) firstKeyByte() (byte, error) {
	for slot := 0; slot < numSlots; slot++ {
		if sr.slotLen[slot] == 0 {
			continue
		}
		entry := make([]byte, 16)
		if _, err := sr.f.ReadAt(entry, int64(sr.slotPos[slot])); err != nil {
			continue
		}
		recPos := binary.BigEndian.Uint64(entry[8:])
		if recPos == 0 {
			continue
		}
		recHdr := make([]byte, 16)
		if _, err := sr.f.ReadAt(recHdr, int64(recPos)); err != nil {
			continue
		}
		klen := binary.BigEndian.Uint64(recHdr[:8])
		if klen != 32 {
			continue
		}
		keyByte := make([]byte, 1)
		if _, err := sr.f.ReadAt(keyByte, int64(recPos)+16); err != nil {
			continue
		}
		return keyByte[0], nil
	}
	return 0, errors.New("cdb: shard has no records")
}

// lookup walks the hash table for id's djbHash, comparing full keys on
// collision, per the classic cdb probe sequence generalized to 64-bit
// slots.
func (sr *shardReader) lookup(id [32]byte) (Value, bool, error) {
	h := djbHash(id[:])
	slot := h % numSlots
	tableLen := sr.slotLen[slot]
	if tableLen == 0 {
		return Value{}, false, nil
	}
	tablePos := sr.slotPos[slot]
	start := (h / numSlots) % tableLen

	for i := uint64(0); i < tableLen; i++ {
		idx := (start + i) % tableLen
		entry := make([]byte, 16)
		if _, err := sr.f.ReadAt(entry, int64(tablePos+idx*16)); err != nil {
			return Value{}, false, errs.Wrap(errs.KindMalformedInput, "cdb: truncated hash table", err)
		}
		entryHash := binary.BigEndian.Uint64(entry[:8])
		recPos := binary.BigEndian.Uint64(entry[8:])
		if recPos == 0 {
			return Value{}, false, nil // empty slot terminates the probe
		}
		if entryHash != h {
			continue
		}
		recHdr := make([]byte, 16)
		if _, err := sr.f.ReadAt(recHdr, int64(recPos)); err != nil {
			return Value{}, false, errs.Wrap(errs.KindMalformedInput, "cdb: truncated record header", err)
		}
		klen := binary.BigEndian.Uint64(recHdr[:8])
		dlen := binary.BigEndian.Uint64(recHdr[8:])
		if klen != 32 {
			continue
		}
		rec := make([]byte, klen+dlen)
		if _, err := sr.f.ReadAt(rec, int64(recPos)+16); err != nil {
			return Value{}, false, errs.Wrap(errs.KindMalformedInput, "cdb: truncated record", err)
		}
		if string(rec[:32]) != string(id[:]) {
			continue
		}
		v, err := decodeValue(rec[32:])
		if err != nil {
			return Value{}, false, err
		}
		return v, true, nil
	}
	return Value{}, false, nil
}

// djbHash is cdb's classic string hash (h=5381; h = ((h<<5)+h) ^ c),
// carried unmodified to 64 bits.
func djbHash(b []byte) uint64 {
	h := uint64(5381)
	for _, c := range b {
		h = ((h << 5) + h) ^ uint64(c)
	}
	return h
}
