package cdb

import (
	"path/filepath"
	"testing"
)

func idFor(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	id[31] = 0x42
	return id
}

func u64(v uint64) *uint64 { return &v }

func TestWriteOpenLookupSimpleValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.cdb")
	id := idFor(0x01)
	entries := map[[32]byte]Value{id: {Root: [32]byte{0xaa, 0xbb}}}
	if err := Write(path, entries); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	v, ok, err := r.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("Lookup: ok = false, want true")
	}
	if v.Root != ([32]byte{0xaa, 0xbb}) {
		t.Errorf("Root = %x, want %x", v.Root, [32]byte{0xaa, 0xbb})
	}
	if v.IsComplete() {
		t.Error("IsComplete() = true for a simple (root-only) value, want false")
	}
}

func TestWriteOpenLookupCompleteValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.cdb")
	id := idFor(0x02)
	entries := map[[32]byte]Value{id: {Root: [32]byte{0x01}, ItemOffset: u64(100), DataOffset: u64(200)}}
	if err := Write(path, entries); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	v, ok, err := r.Lookup(id)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if !v.IsComplete() {
		t.Fatal("IsComplete() = false, want true")
	}
	if *v.ItemOffset != 100 || *v.DataOffset != 200 {
		t.Errorf("ItemOffset/DataOffset = %d/%d, want 100/200", *v.ItemOffset, *v.DataOffset)
	}
}

func TestLookupMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.cdb")
	present := idFor(0x03)
	if err := Write(path, map[[32]byte]Value{present: {Root: [32]byte{0x01}}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	missing := idFor(0x09)
	_, ok, err := r.Lookup(missing)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Error("Lookup for an absent id: ok = true, want false")
	}
}

func TestWriteManyEntriesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.cdb")
	entries := make(map[[32]byte]Value, 300)
	for i := 0; i < 300; i++ {
		var id [32]byte
		id[0] = byte(i)
		id[1] = byte(i >> 8)
		entries[id] = Value{Root: id, ItemOffset: u64(uint64(i)), DataOffset: u64(uint64(i * 2))}
	}
	if err := Write(path, entries); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for id, want := range entries {
		got, ok, err := r.Lookup(id)
		if err != nil || !ok {
			t.Fatalf("Lookup(%x): ok=%v err=%v", id, ok, err)
		}
		if *got.ItemOffset != *want.ItemOffset {
			t.Fatalf("Lookup(%x).ItemOffset = %d, want %d", id, *got.ItemOffset, *want.ItemOffset)
		}
	}
}

func TestOpenShardedSet(t *testing.T) {
	dir := t.TempDir()
	idA := idFor(0x10)
	idB := idFor(0x20)
	pathA := filepath.Join(dir, "a.cdb")
	pathB := filepath.Join(dir, "b.cdb")
	if err := Write(pathA, map[[32]byte]Value{idA: {Root: idA}}); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := Write(pathB, map[[32]byte]Value{idB: {Root: idB}}); err != nil {
		t.Fatalf("Write b: %v", err)
	}

	r, err := Open(pathA, pathB)
	if err != nil {
		t.Fatalf("Open sharded: %v", err)
	}
	defer r.Close()

	if _, ok, err := r.Lookup(idA); err != nil || !ok {
		t.Errorf("Lookup(idA) from sharded set: ok=%v err=%v", ok, err)
	}
	if _, ok, err := r.Lookup(idB); err != nil || !ok {
		t.Errorf("Lookup(idB) from sharded set: ok=%v err=%v", ok, err)
	}
}

func TestOpenNoPaths(t *testing.T) {
	if _, err := Open(); err == nil {
		t.Fatal("Open() with no paths: got nil error")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.cdb")); err == nil {
		t.Fatal("Open on a missing file: got nil error")
	}
}
