package bundles

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

const bundleCountFieldSize = 32 // ANS-104 bundle item_count is a 32-byte LE integer
const bundleEntrySize = 64      // (length:32B, id:32B) per entry

type entryHeader struct {
	length int64
	id     [32]byte
}

// parseBundleHeader reads the item count and per-item (length, id)
// entries from the start of r, per §4.6 step 2.
func parseBundleHeader(r io.ReaderAt) (entries []entryHeader, headerSize int64, err error) {
	countBuf := make([]byte, bundleCountFieldSize)
	if _, err := r.ReadAt(countBuf, 0); err != nil {
		return nil, 0, errs.Wrap(errs.KindMalformedInput, "bundles: header too short", err)
	}
	for i := 8; i < bundleCountFieldSize; i++ {
		if countBuf[i] != 0 {
			return nil, 0, errs.New(errs.KindMalformedInput, "bundles: item_count exceeds supported range")
		}
	}
	itemCount := binary.LittleEndian.Uint64(countBuf[:8])

	entries = make([]entryHeader, itemCount)
	pos := int64(bundleCountFieldSize)
	for i := uint64(0); i < itemCount; i++ {
		buf := make([]byte, bundleEntrySize)
		if _, err := r.ReadAt(buf, pos); err != nil {
			return nil, 0, errs.Wrap(errs.KindMalformedInput, "bundles: truncated entry table", err)
		}
		length := int64(binary.LittleEndian.Uint64(buf[:8]))
		for j := 8; j < 32; j++ {
			if buf[j] != 0 {
				return nil, 0, errs.New(errs.KindMalformedInput, "bundles: entry length exceeds supported range")
			}
		}
		var id [32]byte
		copy(id[:], buf[32:64])
		entries[i] = entryHeader{length: length, id: id}
		pos += bundleEntrySize
	}
	return entries, pos, nil
}

// parsedItem is the intermediate result of parsing one data item's
// sub-header before signature verification / normalization.
type parsedItem struct {
	sigType     SignatureType
	signature   []byte
	sigOffset   int64
	owner       []byte
	ownerOffset int64
	target      []byte
	anchor      []byte
	tagsBytes   []byte
	dataOffset  int64
	dataSize    int64
}

// parseItemHeader reads one data item's sub-header starting at itemStart,
// per §4.6 step 3, bounded by itemLen (the entry's declared total length).
func parseItemHeader(r io.ReaderAt, itemStart, itemLen int64) (*parsedItem, error) {
	pos := itemStart
	end := itemStart + itemLen

	readAt := func(n int64) ([]byte, error) {
		if pos+n > end {
			return nil, errs.New(errs.KindMalformedInput, "bundles: item sub-header exceeds declared length")
		}
		buf := make([]byte, n)
		if _, err := r.ReadAt(buf, pos); err != nil {
			return nil, errs.Wrap(errs.KindMalformedInput, "bundles: truncated item", err)
		}
		pos += n
		return buf, nil
	}

	sigTypeBuf, err := readAt(2)
	if err != nil {
		return nil, err
	}
	sigType := SignatureType(binary.LittleEndian.Uint16(sigTypeBuf))
	scheme, ok := sigSchemes[sigType]
	if !ok {
		return nil, errs.New(errs.KindMalformedInput, fmt.Sprintf("bundles: unknown signature_type %d", sigType))
	}

	sigOffset := pos
	signature, err := readAt(int64(scheme.SigLen))
	if err != nil {
		return nil, err
	}
	ownerOffset := pos
	owner, err := readAt(int64(scheme.PubLen))
	if err != nil {
		return nil, err
	}

	targetPresent, err := readAt(1)
	if err != nil {
		return nil, err
	}
	var target []byte
	if targetPresent[0] != 0 {
		target, err = readAt(32)
		if err != nil {
			return nil, err
		}
	}

	anchorPresent, err := readAt(1)
	if err != nil {
		return nil, err
	}
	var anchor []byte
	if anchorPresent[0] != 0 {
		anchor, err = readAt(32)
		if err != nil {
			return nil, err
		}
	}

	tagsCountBuf, err := readAt(8)
	if err != nil {
		return nil, err
	}
	tagsCount := binary.LittleEndian.Uint64(tagsCountBuf)

	tagsBytesLenBuf, err := readAt(8)
	if err != nil {
		return nil, err
	}
	tagsBytesLen := int64(binary.LittleEndian.Uint64(tagsBytesLenBuf))

	tagsBytes, err := readAt(tagsBytesLen)
	if err != nil {
		return nil, err
	}

	tags, err := decodeTags(tagsBytes)
	if err != nil {
		return nil, err
	}
	if uint64(len(tags)) != tagsCount {
		return nil, errs.New(errs.KindMalformedInput, "bundles: tags count mismatch (MalformedTags)")
	}

	dataOffset := pos
	dataSize := end - pos
	if dataSize < 0 {
		return nil, errs.New(errs.KindMalformedInput, "bundles: item sub-header longer than declared length")
	}

	return &parsedItem{
		sigType:     sigType,
		signature:   signature,
		sigOffset:   sigOffset,
		owner:       owner,
		ownerOffset: ownerOffset,
		target:      target,
		anchor:      anchor,
		tagsBytes:   tagsBytes,
		dataOffset:  dataOffset,
		dataSize:    dataSize,
	}, nil
}

// verifyAndBuildItem runs §4.6 steps 5–6: id == sha256(signature), then
// signature verification over the deep hash, and assembles the final
// DataItem on success.
func verifyAndBuildItem(r io.ReaderAt, pi *parsedItem, wantID [32]byte, index int, parentID [32]byte, rootTxID string) (*DataItem, error) {
	gotID := sha256.Sum256(pi.signature)
	if gotID != wantID {
		return nil, errs.New(errs.KindIntegrityError, "bundles: id != sha256(signature) (IdMismatch)")
	}

	sigTypeStr := fmt.Sprintf("%d", pi.sigType)
	dataReader := io.NewSectionReader(r, pi.dataOffset, pi.dataSize)
	deepHash, err := DeepHash(
		Bytes([]byte("dataitem")),
		Bytes([]byte("1")),
		Bytes([]byte(sigTypeStr)),
		Bytes(pi.owner),
		Bytes(pi.target),
		Bytes(pi.anchor),
		Bytes(pi.tagsBytes),
		Stream(pi.dataSize, dataReader),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "bundles: deep hash computation failed", err)
	}

	if err := verifySignature(pi.sigType, pi.owner, pi.signature, deepHash); err != nil {
		return nil, err
	}

	tags, err := decodeTags(pi.tagsBytes)
	if err != nil {
		return nil, err
	}

	return &DataItem{
		ID:              wantID,
		ParentID:        parentID,
		RootTxID:        rootTxID,
		Index:           index,
		Signature:       pi.signature,
		Owner:           pi.owner,
		OwnerAddress:    sha256.Sum256(pi.owner),
		Target:          pi.target,
		Anchor:          pi.anchor,
		Tags:            tags,
		DataOffset:      pi.dataOffset,
		DataSize:        pi.dataSize,
		SignatureType:   pi.sigType,
		SignatureOffset: pi.sigOffset,
		SignatureSize:   int64(len(pi.signature)),
		OwnerOffset:     pi.ownerOffset,
		OwnerSize:       int64(len(pi.owner)),
	}, nil
}

// UnbundleResult is the outcome of parsing one bundle, matching the
// payload of ANS104_UNBUNDLE_COMPLETE.
type UnbundleResult struct {
	ItemCount    int
	MatchedCount int
}

// Unbundle implements §4.6 Stage B's parse, in index order, emitting
// EventDataItemMatched for each matching item and stopping at the first
// hard error (integrity or malformed-input), per §7's "integrity errors
// are always surfaced, never retried silently".
func Unbundle(r io.ReaderAt, bundleID string, parentID [32]byte, rootTxID string, filter Filter, bypassFilter bool, sink sinkEmitter) (*UnbundleResult, error) {
	entries, headerSize, err := parseBundleHeader(r)
	if err != nil {
		return nil, err
	}

	pos := headerSize
	matched := 0
	for i, e := range entries {
		itemStart := pos
		pos += e.length

		pi, err := parseItemHeader(r, itemStart, e.length)
		if err != nil {
			return nil, fmt.Errorf("item %d (id %x): %w", i, e.id, err)
		}
		item, err := verifyAndBuildItem(r, pi, e.id, i, parentID, rootTxID)
		if err != nil {
			return nil, fmt.Errorf("item %d (id %x): %w", i, e.id, err)
		}
		if bypassFilter || filter.Match(item) {
			matched++
			sink.emit(Event{Kind: EventDataItemMatched, BundleID: bundleID, Item: item})
		}
	}
	return &UnbundleResult{ItemCount: len(entries), MatchedCount: matched}, nil
}

// sinkEmitter is the minimal emit capability Unbundle needs, satisfied by
// Sink via the adaptor in unbundler.go (kept separate so this file has no
// context.Context dependency beyond what parsing itself needs).
type sinkEmitter interface {
	emit(Event)
}
