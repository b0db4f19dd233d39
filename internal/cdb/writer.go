package cdb

import (
	"encoding/binary"
	"os"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// Write builds a single immutable CDB64 file at path from entries, using
// the same 256-slot djb-hash table layout shardReader.lookup reads. The
// read path never calls this; only the tests use it.
func Write(path string, entries map[[32]byte]Value) error {
	type record struct {
		id   [32]byte
		hash uint64
		pos  uint64
	}

	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindUnavailable, "cdb: create file", err)
	}
	defer f.Close()

	// Reserve the 4096-byte header; it's filled in and rewritten last once
	// slot positions are known.
	if _, err := f.Write(make([]byte, headerSize)); err != nil {
		return errs.Wrap(errs.KindUnavailable, "cdb: write header placeholder", err)
	}

	records := make([]record, 0, len(entries))
	var offset uint64 = headerSize
	for id, v := range entries {
		body := encodeValue(v)
		recHdr := make([]byte, 16)
		binary.BigEndian.PutUint64(recHdr[:8], 32)
		binary.BigEndian.PutUint64(recHdr[8:], uint64(len(body)))
		if _, err := f.Write(recHdr); err != nil {
			return errs.Wrap(errs.KindUnavailable, "cdb: write record header", err)
		}
		if _, err := f.Write(id[:]); err != nil {
			return errs.Wrap(errs.KindUnavailable, "cdb: write record key", err)
		}
		if _, err := f.Write(body); err != nil {
			return errs.Wrap(errs.KindUnavailable, "cdb: write record body", err)
		}
		records = append(records, record{id: id, hash: djbHash(id[:]), pos: offset})
		offset += 16 + 32 + uint64(len(body))
	}

	bySlot := make([][]record, numSlots)
	for _, r := range records {
		slot := r.hash % numSlots
		bySlot[slot] = append(bySlot[slot], r)
	}

	var slotPos, slotLen [numSlots]uint64
	for slot := 0; slot < numSlots; slot++ {
		recs := bySlot[slot]
		if len(recs) == 0 {
			continue
		}
		tableLen := uint64(len(recs) * 2)
		table := make([][2]uint64, tableLen) // [0]=hash, [1]=pos; pos==0 means empty
		for _, r := range recs {
			start := (r.hash / numSlots) % tableLen
			for i := uint64(0); i < tableLen; i++ {
				idx := (start + i) % tableLen
				if table[idx][1] == 0 {
					table[idx] = [2]uint64{r.hash, r.pos}
					break
				}
			}
		}
		slotPos[slot] = offset
		slotLen[slot] = tableLen
		buf := make([]byte, tableLen*16)
		for i, e := range table {
			binary.BigEndian.PutUint64(buf[i*16:], e[0])
			binary.BigEndian.PutUint64(buf[i*16+8:], e[1])
		}
		if _, err := f.Write(buf); err != nil {
			return errs.Wrap(errs.KindUnavailable, "cdb: write hash table", err)
		}
		offset += tableLen * 16
	}

	header := make([]byte, headerSize)
	for i := 0; i < numSlots; i++ {
		binary.BigEndian.PutUint64(header[i*16:], slotPos[i])
		binary.BigEndian.PutUint64(header[i*16+8:], slotLen[i])
	}
	if _, err := f.WriteAt(header, 0); err != nil {
		return errs.Wrap(errs.KindUnavailable, "cdb: rewrite header", err)
	}
	return nil
}
