package upstream

import (
	"context"
	"sync"

	"github.com/ar-gateway/weave-gateway/internal/errs"
	"github.com/ar-gateway/weave-gateway/internal/verify"
)

// DataAttributes mirrors §6's getDataAttributes(id) response.
type DataAttributes struct {
	DataRoot [32]byte
	HasRoot  bool
	DataSize uint64
	Hash     []byte
}

// MemoryDataIndex is an in-memory §6 Data Index, sufficient for tests and
// for cmd/gateway to run standalone without the excluded SQLite indexer
// (production wiring swaps in a real one behind the same interfaces this
// package and internal/verify already define).
type MemoryDataIndex struct {
	mu         sync.Mutex
	attrs      map[string]DataAttributes
	rootTxIDs  map[string]string // id -> root_tx_id
	verifiable map[string]*verify.Record
}

func NewMemoryDataIndex() *MemoryDataIndex {
	return &MemoryDataIndex{
		attrs:      make(map[string]DataAttributes),
		rootTxIDs:  make(map[string]string),
		verifiable: make(map[string]*verify.Record),
	}
}

// PutDataAttributes registers id's attributes and queues it for
// verification if it carries a data root, mirroring an indexer's ingest
// path for this in-memory stand-in.
func (m *MemoryDataIndex) PutDataAttributes(id, rootTxID string, attrs DataAttributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[id] = attrs
	m.rootTxIDs[id] = rootTxID
	if attrs.HasRoot {
		if _, exists := m.verifiable[rootTxID]; !exists {
			m.verifiable[rootTxID] = &verify.Record{ID: id, RootTxID: rootTxID, Status: verify.StatusPending}
		}
	}
}

// GetDataAttributes implements §6's getDataAttributes(id).
func (m *MemoryDataIndex) GetDataAttributes(ctx context.Context, id string) (DataAttributes, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attrs[id]
	return a, ok, nil
}

// RootTxID implements the id → root_tx_id lookup the verifier and the TX
// Data Assembler both need (backed by a CDB64 index in production; see
// internal/cdb).
func (m *MemoryDataIndex) RootTxID(ctx context.Context, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rootTxIDs[id]
	return r, ok, nil
}

// PullVerifiable implements verify.Index.
func (m *MemoryDataIndex) PullVerifiable(ctx context.Context, limit int) ([]verify.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]verify.Record, 0, limit)
	for _, r := range m.verifiable {
		if r.Status != verify.StatusPending {
			continue
		}
		out = append(out, *r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// IndexedRoot implements verify.Index.
func (m *MemoryDataIndex) IndexedRoot(ctx context.Context, rootTxID string) ([32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rtx := range m.rootTxIDs {
		if rtx != rootTxID {
			continue
		}
		if a, ok := m.attrs[id]; ok && a.HasRoot {
			return a.DataRoot, nil
		}
	}
	return [32]byte{}, errs.New(errs.KindNotFound, "upstream: no indexed root for root tx id")
}

// MarkVerified implements verify.Index.
func (m *MemoryDataIndex) MarkVerified(ctx context.Context, rootTxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.verifiable[rootTxID]; ok {
		r.Status = verify.StatusVerified
	}
	return nil
}

// MarkFailed implements verify.Index, incrementing the retry counter per
// §4.7 step 4.
func (m *MemoryDataIndex) MarkFailed(ctx context.Context, rootTxID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.verifiable[rootTxID]
	if !ok {
		return nil
	}
	r.RetryCount++
	if errs.Is(cause, errs.KindIntegrityError) {
		r.Status = verify.StatusFailed
	} else {
		r.Status = verify.StatusPending // transient: eligible for another pull
	}
	return nil
}
