// Package reqattrs implements the Request Attributes data model (§3):
// hop-count and origin metadata propagated across peer requests, with a
// hard hop-limit invariant that terminates request loops.
package reqattrs

import (
	"net/url"
	"strconv"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// DefaultMaxHops is used when a Config doesn't override it.
const DefaultMaxHops = 3

// Attributes is the Request Attributes tuple from §3.
type Attributes struct {
	Hops             uint32
	Origin           string
	OriginRelease    string
	ArNSName         string
	ArNSBasename     string
	ArNSRecord       string
}

// Root returns the zero-hop attributes for a request originating at this
// gateway (not forwarded from a peer).
func Root() Attributes { return Attributes{} }

// CheckAndIncrement validates hops < maxHops and returns a copy with hops
// incremented by one, ready to attach to an outbound peer request. A
// violation is a hard HopLimitExceeded error, never a silent clamp.
func (a Attributes) CheckAndIncrement(maxHops uint32) (Attributes, error) {
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}
	if a.Hops >= maxHops {
		return Attributes{}, errs.New(errs.KindHopLimitExceeded,
			"hop count "+strconv.FormatUint(uint64(a.Hops), 10)+" reached limit "+strconv.FormatUint(uint64(maxHops), 10))
	}
	next := a
	next.Hops = a.Hops + 1
	return next, nil
}

// QueryParams renders the attributes as the ar-io-* query parameters used
// in the Peer HTTP contract (§6).
func (a Attributes) QueryParams() url.Values {
	q := url.Values{}
	q.Set("ar-io-hops", strconv.FormatUint(uint64(a.Hops), 10))
	if a.Origin != "" {
		q.Set("ar-io-origin", a.Origin)
	}
	if a.OriginRelease != "" {
		q.Set("ar-io-origin-release", a.OriginRelease)
	}
	if a.ArNSRecord != "" {
		q.Set("ar-io-arns-record", a.ArNSRecord)
	}
	if a.ArNSBasename != "" {
		q.Set("ar-io-arns-basename", a.ArNSBasename)
	}
	return q
}

// FromQuery parses inbound ar-io-* query parameters, e.g. when this
// gateway itself receives a forwarded peer request.
func FromQuery(q url.Values) (Attributes, error) {
	var a Attributes
	if raw := q.Get("ar-io-hops"); raw != "" {
		h, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Attributes{}, errs.Wrap(errs.KindMalformedInput, "ar-io-hops not a uint32", err)
		}
		a.Hops = uint32(h)
	}
	a.Origin = q.Get("ar-io-origin")
	a.OriginRelease = q.Get("ar-io-origin-release")
	a.ArNSRecord = q.Get("ar-io-arns-record")
	a.ArNSBasename = q.Get("ar-io-arns-basename")
	return a, nil
}
