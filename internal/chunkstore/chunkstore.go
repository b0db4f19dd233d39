// Package chunkstore implements the Chunk Data Store & Metadata Store
// (C2): content-addressed byte blobs and their Merkle-proof metadata,
// keyed by data_root ‖ relative_offset, layered on top of kvstore.
package chunkstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"

	"github.com/ar-gateway/weave-gateway/internal/errs"
	"github.com/ar-gateway/weave-gateway/internal/kvstore"
)

// checksumSize is the length of the local corruption-check digest appended
// to every stored chunk. This guards the on-disk blob against bitrot/partial
// writes that the kvstore's atomic rename doesn't itself catch; it is
// unrelated to the Arweave data-root hash and never crosses the wire.
const checksumSize = 32

// MaxChunkSize is the invariant bound on a chunk's byte length (§3).
const MaxChunkSize = 256 * 1024

// Key derives the chunk_key = data_root ‖ relative_offset from §3.
func Key(dataRoot [32]byte, relativeOffset uint64) []byte {
	k := make([]byte, 32+8)
	copy(k, dataRoot[:])
	binary.BigEndian.PutUint64(k[32:], relativeOffset)
	return k
}

// Metadata is the Chunk Metadata tuple from §3.
type Metadata struct {
	DataRoot [32]byte `json:"data_root"`
	DataSize uint64   `json:"data_size"`
	DataPath []byte   `json:"data_path"` // Merkle proof bytes
	Hash     []byte   `json:"hash"`
	Offset   uint64   `json:"offset"`
}

// DataStore stores chunk bytes, each ≤ MaxChunkSize.
type DataStore struct {
	backing kvstore.Store
}

func NewDataStore(backing kvstore.Store) *DataStore { return &DataStore{backing: backing} }

func (s *DataStore) Get(ctx context.Context, dataRoot [32]byte, relativeOffset uint64) ([]byte, bool, error) {
	raw, ok, err := s.backing.Get(ctx, Key(dataRoot, relativeOffset))
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(raw) < checksumSize {
		return nil, false, errs.New(errs.KindIntegrityError, "chunkstore: stored chunk too short for checksum")
	}
	data, want := raw[:len(raw)-checksumSize], raw[len(raw)-checksumSize:]
	got := blake3.Sum256(data)
	if !bytes.Equal(got[:], want) {
		return nil, false, errs.New(errs.KindIntegrityError, "chunkstore: local chunk checksum mismatch")
	}
	return data, true, nil
}

func (s *DataStore) Put(ctx context.Context, dataRoot [32]byte, relativeOffset uint64, data []byte) error {
	if len(data) > MaxChunkSize {
		return errs.New(errs.KindMalformedInput, "chunk exceeds 256 KiB bound")
	}
	sum := blake3.Sum256(data)
	stored := make([]byte, 0, len(data)+checksumSize)
	stored = append(stored, data...)
	stored = append(stored, sum[:]...)
	return s.backing.Put(ctx, Key(dataRoot, relativeOffset), stored)
}

// DebugCID mints a CIDv1 raw-codec alias for a stored chunk's content hash,
// for operator-facing housekeeping/debug output only (e.g. cdb-inspect);
// it never crosses the wire and is unrelated to the Arweave data-root id,
// which stays SHA-256 per §4.7.
func (s *DataStore) DebugCID(ctx context.Context, dataRoot [32]byte, relativeOffset uint64) (string, bool, error) {
	data, ok, err := s.Get(ctx, dataRoot, relativeOffset)
	if err != nil || !ok {
		return "", ok, err
	}
	sum := blake3.Sum256(data)
	encoded, err := mh.Encode(sum[:], mh.BLAKE3)
	if err != nil {
		return "", false, fmt.Errorf("chunkstore: encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh.Multihash(encoded)).String(), true, nil
}

// MetadataStore stores Chunk Metadata under the same key shape as
// DataStore, JSON-encoded (the on-disk representation is an
// implementation detail; only the logical tuple in §3 is the contract).
type MetadataStore struct {
	backing kvstore.Store
}

func NewMetadataStore(backing kvstore.Store) *MetadataStore { return &MetadataStore{backing: backing} }

func (s *MetadataStore) Get(ctx context.Context, dataRoot [32]byte, relativeOffset uint64) (*Metadata, bool, error) {
	raw, ok, err := s.backing.Get(ctx, Key(dataRoot, relativeOffset))
	if err != nil || !ok {
		return nil, ok, err
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, errs.Wrap(errs.KindMalformedInput, "chunkstore: corrupt metadata", err)
	}
	return &m, true, nil
}

func (s *MetadataStore) Put(ctx context.Context, m Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return errs.Wrap(errs.KindMalformedInput, "chunkstore: encode metadata", err)
	}
	return s.backing.Put(ctx, Key(m.DataRoot, m.Offset), raw)
}
