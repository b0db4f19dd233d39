// Package httpapi implements the HTTP front door (C14): a minimal,
// narrow server sufficient to exercise the read path end-to-end, grounded
// on the teacher's cmd/explorer/server.go shape (a router, routes()
// wiring middleware, small per-route handlers, writeJSON helper), with
// gorilla/mux swapped for go-chi/chi/v5 since the full HTTP/GraphQL
// surface this front door stands in for is an excluded collaborator, not
// something worth pulling mux's full route-matching machinery for.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ar-gateway/weave-gateway/internal/arns"
	"github.com/ar-gateway/weave-gateway/internal/errs"
	"github.com/ar-gateway/weave-gateway/internal/reqattrs"
	"github.com/ar-gateway/weave-gateway/internal/telemetry"
)

// Fetcher is the narrow read-path capability the front door drives: open a
// resolved tx id's byte stream. Satisfied by an *txdata.Assembler wrapped
// to also report a Content-Length (see cmd/gateway's assemblerFetcher).
type Fetcher interface {
	Open(ctx context.Context, txID string) (stream io.ReadCloser, size uint64, err error)
}

// Resolver resolves an ArNS name, satisfied by *arns.Pipeline.
type Resolver interface {
	Resolve(ctx context.Context, name string) (arns.Resolution, error)
}

// Server is the gateway's HTTP front door.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	fetcher    Fetcher
	resolver   Resolver
	sink       telemetry.Sink
	registry   *prometheus.Registry
	version    string
	startedAt  time.Time
	peerCount  func() int
	maxHops    uint32
}

// New builds the router and HTTP server listening on addr. maxHops bounds
// the ar-io-hops request attribute (§3 C10); zero falls back to
// reqattrs.DefaultMaxHops.
func New(addr string, fetcher Fetcher, resolver Resolver, sink telemetry.Sink, registry *prometheus.Registry, version string, peerCount func() int, maxHops uint32) *Server {
	if sink == nil {
		sink = telemetry.Noop()
	}
	if peerCount == nil {
		peerCount = func() int { return 0 }
	}
	s := &Server{
		fetcher:   fetcher,
		resolver:  resolver,
		sink:      sink,
		registry:  registry,
		version:   version,
		startedAt: time.Now(),
		peerCount: peerCount,
		maxHops:   maxHops,
	}
	s.router = chi.NewRouter()
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.accessLog)
	s.router.Use(s.hopAttributes)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestDuration)

	s.router.Get("/raw/{id}", s.handleRaw)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/info", s.handleInfo)
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

type reqAttrsCtxKey struct{}

// hopAttributes extracts ar-io-* query params into reqattrs.Attributes,
// rejects requests that have already exhausted their hop budget (C10's
// peer-forwarding loop guard), and stashes the original attributes on the
// request context for handleRaw's echo-back. The context value stays the
// inbound (non-incremented) attrs; CheckAndIncrement's only purpose here is
// the validation, since this CLI terminates requests rather than forwarding
// them to a next hop.
func (s *Server) hopAttributes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs, err := reqattrs.FromQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := attrs.CheckAndIncrement(s.maxHops); err != nil {
			writeErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), reqAttrsCtxKey{}, attrs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqID := middleware.GetReqID(r.Context())
		if reqID == "" {
			reqID = uuid.NewString()
		}
		next.ServeHTTP(ww, r)
		s.sink.Logger().Infow("http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) requestDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.sink.Observe("http_request_duration_seconds", time.Since(start).Seconds(),
			telemetry.Tag{Key: "route", Value: chi.RouteContext(r.Context()).RoutePattern()})
	})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if name := r.URL.Query().Get("name"); name != "" && s.resolver != nil {
		res, err := s.resolver.Resolve(ctx, name)
		if err != nil {
			writeErr(w, err)
			return
		}
		if res.ResolvedID == "" {
			http.NotFound(w, r)
			return
		}
		id = res.ResolvedID
	}

	attrs, _ := ctx.Value(reqAttrsCtxKey{}).(reqattrs.Attributes)
	for k, vs := range attrs.QueryParams() {
		for _, v := range vs {
			w.Header().Add("X-"+k, v)
		}
	}

	stream, size, err := s.fetcher.Open(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer stream.Close()

	if size > 0 {
		w.Header().Set("Content-Length", itoa(size))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, 32*1024)
	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if rerr != nil {
			return
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"version":    s.version,
		"uptime_s":   int64(time.Since(s.startedAt).Seconds()),
		"peer_count": s.peerCount(),
	})
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindMalformedInput, errs.KindHopLimitExceeded:
		status = http.StatusBadRequest
	case errs.KindTimeout, errs.KindCanceled:
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
