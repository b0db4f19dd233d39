// Package bundles implements the ANS-104 Unbundler (C8): a bounded
// priority work-queue that downloads bundle data, parses data-item
// headers, verifies signatures and the Merkle data-root, and emits
// matched items to an indexing sink.
//
// Grounded on the bounded-worker-pool shape of the pack's trie/snap-sync
// workers (other_examples trie-sync.go / eth-protocols-snap-sync.go) for
// the two-stage queue discipline, and on the teacher's crypto stack
// (decred secp256k1, golang.org/x/crypto) for the signature-scheme table
// in the Glossary.
package bundles

import "context"

// SignatureType is one of the seven ANS-104 signature schemes (Glossary).
type SignatureType uint16

const (
	SigArweave       SignatureType = 1
	SigEd25519       SignatureType = 2
	SigEthereum      SignatureType = 3
	SigSolana        SignatureType = 4
	SigInjectedAptos SignatureType = 5
	SigMultiAptos    SignatureType = 6
	SigTypedEthereum SignatureType = 7
)

// sigScheme describes the (sig_bytes, pub_bytes) shape for a
// SignatureType, per the Glossary's signature scheme table.
type sigScheme struct {
	Name   string
	SigLen int
	PubLen int
}

var sigSchemes = map[SignatureType]sigScheme{
	SigArweave:       {"arweave", 512, 512},
	SigEd25519:       {"ed25519", 64, 32},
	SigEthereum:      {"ethereum", 65, 65},
	SigSolana:        {"solana", 64, 32},
	SigInjectedAptos: {"injected-aptos", 64, 32},
	SigMultiAptos:    {"multi-aptos", 2052, 1025},
	SigTypedEthereum: {"typed-ethereum", 65, 42},
}

// Tag is a single ANS-104 data item tag.
type Tag struct {
	Name  string
	Value string
}

// DataItem is the ANS-104 Data Item tuple from §3, produced only by a
// parse that has verified id == sha256(signature) and the signature
// itself.
type DataItem struct {
	ID              [32]byte
	ParentID        [32]byte
	RootTxID        string
	Index           int
	Signature       []byte
	Owner           []byte
	OwnerAddress    [32]byte
	Target          []byte
	Anchor          []byte
	Tags            []Tag
	DataOffset      int64
	DataSize        int64
	SignatureType   SignatureType
	SignatureOffset int64
	SignatureSize   int64
	OwnerOffset     int64
	OwnerSize       int64
}

// EventKind distinguishes the events the unbundler pipeline emits.
type EventKind int

const (
	EventDataItemMatched EventKind = iota
	EventUnbundleComplete
	EventUnbundleError
)

// Event is emitted to the configured Sink as bundles and their data items
// are processed.
type Event struct {
	Kind            EventKind
	BundleID        string
	Item            *DataItem // set for EventDataItemMatched
	ItemCount       int       // set for EventUnbundleComplete
	MatchedCount    int       // set for EventUnbundleComplete
	Err             error     // set for EventUnbundleError
}

// Sink receives unbundler events, analogous to the excluded SQLite
// indexer's ingestion surface (§1 — the indexer itself stays out of
// scope; this is the narrow interface it would be driven through).
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Filter decides whether a normalized DataItem should be indexed.
// bypassFilter on Queue skips this check entirely.
type Filter interface {
	Match(item *DataItem) bool
}

// FilterFunc adapts a function to a Filter.
type FilterFunc func(item *DataItem) bool

func (f FilterFunc) Match(item *DataItem) bool { return f(item) }

// MatchAll is a Filter that matches every item.
var MatchAll Filter = FilterFunc(func(*DataItem) bool { return true })
