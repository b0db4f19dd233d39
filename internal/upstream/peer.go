package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ar-gateway/weave-gateway/internal/errs"
	"github.com/ar-gateway/weave-gateway/internal/reqattrs"
)

// PeerParams is the params value HTTPPeerSource.Get expects: the content
// id to fetch, the request attributes to forward, and an optional expected
// digest (base64url SHA-256) to check against the peer's response.
type PeerParams struct {
	ID              string
	Attrs           reqattrs.Attributes
	ExpectedDigest  string
	Range           string // e.g. "bytes=0-1023"; empty means whole object
}

// HTTPPeerSource implements source.Source against one peer gateway's
// /raw/{id} endpoint, per §6's Peer HTTP contract: forwarded ar-io-*
// query params, Accept-Encoding: identity, an optional Range, and the
// X-AR-IO-Verified/Trusted/Digest response contract.
type HTTPPeerSource struct {
	peerURL string
	client  *http.Client
}

func NewHTTPPeerSource(peerURL string, client *http.Client) *HTTPPeerSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPeerSource{peerURL: peerURL, client: client}
}

func (p *HTTPPeerSource) Name() string { return "peer:" + p.peerURL }

func (p *HTTPPeerSource) Get(ctx context.Context, params any) ([]byte, error) {
	pp, ok := params.(PeerParams)
	if !ok {
		return nil, errs.New(errs.KindMalformedInput, "upstream: peer source expects PeerParams")
	}

	u, err := url.Parse(p.peerURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, "upstream: malformed peer url", err)
	}
	u.Path = "/raw/" + url.PathEscape(pp.ID)
	q := pp.Attrs.QueryParams()
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, "upstream: build peer request", err)
	}
	req.Header.Set("Accept-Encoding", "identity")
	if pp.Range != "" {
		req.Header.Set("Range", pp.Range)
	}
	if pp.ExpectedDigest != "" {
		req.Header.Set("X-AR-IO-Expected-Digest", pp.ExpectedDigest)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "upstream: peer request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindUnavailable, fmt.Sprintf("upstream: peer status %d", resp.StatusCode))
	}
	verified := resp.Header.Get("X-AR-IO-Verified") == "true"
	trusted := resp.Header.Get("X-AR-IO-Trusted") == "true"
	if !verified && !trusted {
		return nil, errs.New(errs.KindIntegrityError, "upstream: peer response neither verified nor trusted")
	}
	if digest := resp.Header.Get("X-AR-IO-Digest"); digest != "" && pp.ExpectedDigest != "" && digest != pp.ExpectedDigest {
		return nil, errs.New(errs.KindIntegrityError, "upstream: peer digest mismatch")
	}

	var data []byte
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			data = make([]byte, 0, n)
		}
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, errs.Wrap(errs.KindUnavailable, "upstream: peer body read failed", rerr)
		}
	}
	return data, nil
}

func decodeBase64URL(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, "upstream: malformed base64url", err)
	}
	return b, nil
}
