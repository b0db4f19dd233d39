package main

import (
	"context"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/ar-gateway/weave-gateway/internal/arns"
	"github.com/ar-gateway/weave-gateway/internal/bundles"
	"github.com/ar-gateway/weave-gateway/internal/cache"
	"github.com/ar-gateway/weave-gateway/internal/chunkstore"
	"github.com/ar-gateway/weave-gateway/internal/config"
	"github.com/ar-gateway/weave-gateway/internal/httpapi"
	"github.com/ar-gateway/weave-gateway/internal/kvstore"
	"github.com/ar-gateway/weave-gateway/internal/peer"
	"github.com/ar-gateway/weave-gateway/internal/source"
	"github.com/ar-gateway/weave-gateway/internal/telemetry"
	"github.com/ar-gateway/weave-gateway/internal/txdata"
	"github.com/ar-gateway/weave-gateway/internal/upstream"
	"github.com/ar-gateway/weave-gateway/internal/verify"
)

// app is the set of wired components a running gateway process needs,
// built bottom-up once per process in the style of gateway_node.go's
// gwInit: store tiers first, then the composite source over them, then the
// cache, then the assembler and everything that reads through it.
type app struct {
	cfg     *config.Config
	sink    telemetry.Sink
	index   *upstream.MemoryDataIndex
	chunkDS *chunkstore.DataStore

	chain     *upstream.HTTPChainSource
	assembler *txdata.Assembler
	peers     *peer.Manager
	resolver  *arns.Pipeline
	verifier  *verify.Verifier
	unbundler *bundles.Unbundler
	stageAQ   *bundles.Queue
	httpSrv   *httpapi.Server
}

var (
	gwApp *app
	gwMu  sync.Mutex
)

// configOverrides carries flag-sourced values applied on top of a loaded
// Config, the flag tier of the layered defaults → file → env → flags
// precedence order.
type configOverrides struct {
	ListenAddr string
	LogLevel   string
}

func (o configOverrides) apply(cfg *config.Config) {
	if o.ListenAddr != "" {
		cfg.ListenAddr = o.ListenAddr
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

// gwInit builds the process-wide app exactly once, a PersistentPreRunE-
// guarded singleton construction matching gateway_node.go's gwInit.
func gwInit(cfgPath string, overrides configOverrides) error {
	gwMu.Lock()
	defer gwMu.Unlock()
	if gwApp != nil {
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	overrides.apply(cfg)

	// The CLI layer's own human-readable banners (main.go, gwInit) log
	// through logrus at the level the config names; internal/telemetry's
	// zap sink is a separate leaf-level structured logger built below,
	// mirroring the teacher's logrus/zap split.
	if lv, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lv)
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	gwApp = a
	return nil
}

func currentApp() *app {
	gwMu.Lock()
	defer gwMu.Unlock()
	return gwApp
}

func buildApp(cfg *config.Config) (*app, error) {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	sink := telemetry.New(logger, registry)

	chunkCold, err := kvstore.NewFSStore(cfg.ChunkCacheDir)
	if err != nil {
		return nil, err
	}
	chunkHot, err := kvstore.NewMemoryStore(cfg.MemStoreEntries)
	if err != nil {
		return nil, err
	}
	chunkTiered := kvstore.NewTiered(chunkHot, chunkCold)
	chunkDS := chunkstore.NewDataStore(chunkTiered)
	chunkStore := &absoluteOffsetChunkStore{ds: chunkDS}

	metaCold, err := kvstore.NewFSStore(cfg.MetadataCacheDir)
	if err != nil {
		return nil, err
	}
	metaStore := chunkstore.NewMetadataStore(metaCold)

	chain := upstream.NewHTTPChainSource(cfg.TrustedNodeURL, nil)
	chain.SetMetadataStore(metaStore)

	peers := peer.New(cfg.PeerURLs)

	// chunkSources fans out in the §2 order {trusted node, peer, S3, local
	// store} (the local store sits below as chunkCache's own tier, not a
	// composite member). SelectPeers is asked for every configured peer
	// URL rather than a subset, so the only effect of its weighting is the
	// dispatch ORDER source.Composite tries peers in — a static, startup-
	// time use of the weight table rather than true per-request
	// re-selection, which would need source.Composite itself to support
	// rebuilding its member list per call.
	chunkSources := []source.Source{chain}
	for _, url := range peers.SelectPeers(peer.CategoryChunk, len(cfg.PeerURLs)) {
		chunkSources = append(chunkSources, newPeerOffsetSource(url, peers))
	}
	if cfg.S3Bucket != "" {
		s3, err := upstream.NewS3Source(context.Background(), cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			sink.Logger().Warnw("s3 source unavailable, continuing without it", "error", err)
		} else {
			chunkSources = append(chunkSources, &offsetKeyedS3Source{s3: s3})
		}
	}
	chunkComposite := source.New(chunkSources, cfg.SourceParallelism)
	chunkCache := cache.New(chunkComposite, chunkStore, sink)

	assembler := txdata.New(chain, offsetFetcher(chunkCache))

	resolver := arns.New(arns.Config{
		MaxConcurrent:   cfg.MaxConcurrentRes,
		ResolverTimeout: cfg.ResolverTimeout,
		RateLimit:       cfg.ResolverRateLimit,
		RateBurst:       cfg.ResolverRateBurst,
	})

	index := upstream.NewMemoryDataIndex()

	dataSource := &verifierDataSource{assembler: assembler, chain: chain}
	verifier := verify.New(index, dataSource, verify.Config{
		PollInterval: cfg.VerifierInterval,
	}, sink.Logger())

	if err := os.MkdirAll(cfg.BundleTempDir, 0o755); err != nil {
		return nil, err
	}
	downloader := &assemblerDownloader{assembler: assembler}
	idxSink := &indexSink{log: sink.Logger()}
	unbundler := bundles.New(downloader, idxSink, bundles.MatchAll, cfg.BundleTempDir, bundles.Config{
		Qa: cfg.SourceParallelism,
		Qb: cfg.ParserQueueSize,
	}, sink.Logger())
	stageAQ := bundles.NewQueue(cfg.ImporterQueueSize)

	httpSrv := httpapi.New(cfg.ListenAddr,
		&assemblerFetcher{assembler: assembler, chain: chain},
		resolver, sink, registry, gatewayVersion,
		func() int { return len(peers.Snapshot(peer.CategoryData)) },
		cfg.MaxHops,
	)

	return &app{
		cfg:       cfg,
		sink:      sink,
		index:     index,
		chunkDS:   chunkDS,
		chain:     chain,
		assembler: assembler,
		peers:     peers,
		resolver:  resolver,
		verifier:  verifier,
		unbundler: unbundler,
		stageAQ:   stageAQ,
		httpSrv:   httpSrv,
	}, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lv, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lv = zap.NewAtomicLevel()
	}
	cfg.Level = lv
	return cfg.Build()
}
