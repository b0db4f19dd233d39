package upstream

import (
	"context"
	"testing"

	"github.com/ar-gateway/weave-gateway/internal/errs"
	"github.com/ar-gateway/weave-gateway/internal/verify"
)

func TestMemoryDataIndexPutGet(t *testing.T) {
	idx := NewMemoryDataIndex()
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{DataSize: 42})

	got, ok, err := idx.GetDataAttributes(context.Background(), "id1")
	if err != nil || !ok {
		t.Fatalf("GetDataAttributes: ok=%v err=%v", ok, err)
	}
	if got.DataSize != 42 {
		t.Errorf("DataSize = %d, want 42", got.DataSize)
	}
}

func TestMemoryDataIndexGetMissing(t *testing.T) {
	idx := NewMemoryDataIndex()
	_, ok, err := idx.GetDataAttributes(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetDataAttributes: %v", err)
	}
	if ok {
		t.Error("GetDataAttributes for an unregistered id: ok = true, want false")
	}
}

func TestMemoryDataIndexRootTxID(t *testing.T) {
	idx := NewMemoryDataIndex()
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{})

	rootTxID, ok, err := idx.RootTxID(context.Background(), "id1")
	if err != nil || !ok {
		t.Fatalf("RootTxID: ok=%v err=%v", ok, err)
	}
	if rootTxID != "root-tx-1" {
		t.Errorf("RootTxID = %q, want %q", rootTxID, "root-tx-1")
	}
}

func TestMemoryDataIndexQueuesVerifiableWhenHasRoot(t *testing.T) {
	idx := NewMemoryDataIndex()
	root := [32]byte{0x01, 0x02}
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{HasRoot: true, DataRoot: root})

	recs, err := idx.PullVerifiable(context.Background(), 10)
	if err != nil {
		t.Fatalf("PullVerifiable: %v", err)
	}
	if len(recs) != 1 || recs[0].RootTxID != "root-tx-1" {
		t.Fatalf("PullVerifiable = %+v, want a single record for root-tx-1", recs)
	}
	if recs[0].Status != verify.StatusPending {
		t.Errorf("initial status = %v, want StatusPending", recs[0].Status)
	}
}

func TestMemoryDataIndexNoRootNotQueued(t *testing.T) {
	idx := NewMemoryDataIndex()
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{HasRoot: false})

	recs, err := idx.PullVerifiable(context.Background(), 10)
	if err != nil {
		t.Fatalf("PullVerifiable: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("PullVerifiable = %+v, want empty for an item with no data root", recs)
	}
}

func TestMemoryDataIndexPullVerifiableRespectsLimit(t *testing.T) {
	idx := NewMemoryDataIndex()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		idx.PutDataAttributes(id, "root-"+id, DataAttributes{HasRoot: true})
	}
	recs, err := idx.PullVerifiable(context.Background(), 2)
	if err != nil {
		t.Fatalf("PullVerifiable: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("PullVerifiable(limit=2) returned %d records, want 2", len(recs))
	}
}

func TestMemoryDataIndexIndexedRoot(t *testing.T) {
	idx := NewMemoryDataIndex()
	root := [32]byte{0xaa, 0xbb}
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{HasRoot: true, DataRoot: root})

	got, err := idx.IndexedRoot(context.Background(), "root-tx-1")
	if err != nil {
		t.Fatalf("IndexedRoot: %v", err)
	}
	if got != root {
		t.Errorf("IndexedRoot = %x, want %x", got, root)
	}
}

func TestMemoryDataIndexIndexedRootMissing(t *testing.T) {
	idx := NewMemoryDataIndex()
	_, err := idx.IndexedRoot(context.Background(), "ghost")
	if err == nil || !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("IndexedRoot for an unknown root tx: err = %v, want NotFound", err)
	}
}

func TestMemoryDataIndexMarkVerified(t *testing.T) {
	idx := NewMemoryDataIndex()
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{HasRoot: true})

	if err := idx.MarkVerified(context.Background(), "root-tx-1"); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	recs, _ := idx.PullVerifiable(context.Background(), 10)
	if len(recs) != 0 {
		t.Error("a verified record should no longer be pulled as pending")
	}
}

func TestMemoryDataIndexMarkFailedIntegrityError(t *testing.T) {
	idx := NewMemoryDataIndex()
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{HasRoot: true})

	cause := errs.New(errs.KindIntegrityError, "root mismatch")
	if err := idx.MarkFailed(context.Background(), "root-tx-1", cause); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	recs, _ := idx.PullVerifiable(context.Background(), 10)
	if len(recs) != 0 {
		t.Error("an integrity-failed record should not be re-pulled as pending")
	}
}

func TestMemoryDataIndexMarkFailedTransientStaysPending(t *testing.T) {
	idx := NewMemoryDataIndex()
	idx.PutDataAttributes("id1", "root-tx-1", DataAttributes{HasRoot: true})

	cause := errs.New(errs.KindUnavailable, "upstream timeout")
	if err := idx.MarkFailed(context.Background(), "root-tx-1", cause); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	recs, err := idx.PullVerifiable(context.Background(), 10)
	if err != nil {
		t.Fatalf("PullVerifiable: %v", err)
	}
	if len(recs) != 1 {
		t.Fatal("a transient failure should leave the record eligible for another pull")
	}
	if recs[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", recs[0].RetryCount)
	}
}

func TestMemoryDataIndexMarkFailedUnknownRootIsNoop(t *testing.T) {
	idx := NewMemoryDataIndex()
	if err := idx.MarkFailed(context.Background(), "ghost", errs.New(errs.KindIntegrityError, "x")); err != nil {
		t.Fatalf("MarkFailed for an unknown root tx id: %v", err)
	}
}
