// Package ingest implements the write ingress of §4.12: a single
// Ingress.Put entry point reached by three thin listeners (line-
// protocol TCP, HTTP /api/put, optional NATS subscriber). It
// canonicalizes the tag-set, resolves or creates a TSID, and routes
// the sample to the bucket owning its timestamp.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nova-ts/tsdb/pkg/schema"
)

// Code is one of §4.12's write return codes.
type Code int

const (
	Ok Code = iota
	Rejected
	BucketReadOnly
	PageTooSmall
	OutOfMemory
)

// Result reports the outcome of one Put call.
type Result struct {
	Code   Code
	Reason string
}

// Router is the engine-side dependency Ingress needs: canonicalize and
// assign identity, then append to the bucket owning ts. Kept as an
// interface so this package never imports the engine/Tsdb registry
// concretely (mirrors pkg/query's Resolver seam).
type Router interface {
	Route(metric string, tags map[string]string, ts int64, v schema.Float) Result
}

// Ingress is the single write entry point named in §4.12.
type Ingress struct {
	router   Router
	OnResult func(Code)
}

func New(router Router) *Ingress {
	return &Ingress{router: router}
}

// Put accepts one already-parsed sample. If OnResult is set, it is
// called with the outcome of every Put regardless of listener (TCP,
// HTTP, NATS), giving the HTTP API's /metrics a single observation
// point for all three ingress paths.
func (in *Ingress) Put(metric string, tags map[string]string, ts int64, v schema.Float) Result {
	res := in.put(metric, tags, ts, v)
	if in.OnResult != nil {
		in.OnResult(res.Code)
	}
	return res
}

func (in *Ingress) put(metric string, tags map[string]string, ts int64, v schema.Float) Result {
	if metric == "" {
		return Result{Code: Rejected, Reason: "missing metric"}
	}
	for k, val := range tags {
		if !validToken(k) || !validToken(val) {
			return Result{Code: Rejected, Reason: fmt.Sprintf("invalid tag %q=%q", k, val)}
		}
	}
	return in.router.Route(metric, tags, ts, v)
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == ' ' || r == '"' || r == '\'' {
			return false
		}
	}
	return true
}

var errMalformedLine = errors.New("ingest: malformed put line")

// ParseLine parses one `put <metric> <ts> <value> [<k>=<v> ...]` line
// (§6). It does not allocate a map per tag key/value pair beyond the
// single returned map, matching the "no spaces/quotes" token rule the
// teacher's DecodeLine enforces for line-protocol measurement/tag
// tokens.
func ParseLine(line string) (metric string, ts int64, v schema.Float, tags map[string]string, err error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "put" {
		return "", 0, 0, nil, errMalformedLine
	}
	metric = fields[1]

	tsVal, err := parseInt(fields[2])
	if err != nil {
		return "", 0, 0, nil, fmt.Errorf("ingest: bad timestamp %q: %w", fields[2], err)
	}
	ts = tsVal

	fv, err := parseFloat(fields[3])
	if err != nil {
		return "", 0, 0, nil, fmt.Errorf("ingest: bad value %q: %w", fields[3], err)
	}
	v = fv

	if len(fields) > 4 {
		tags = make(map[string]string, len(fields)-4)
		for _, kv := range fields[4:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return "", 0, 0, nil, fmt.Errorf("ingest: bad tag token %q", kv)
			}
			tags[parts[0]] = parts[1]
		}
	}
	return metric, ts, v, tags, nil
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// parseFloat accepts a decimal with optional sign/exponent, or one of
// the NaN/Inf/-Inf tokens (§6).
func parseFloat(s string) (schema.Float, error) {
	switch s {
	case "NaN":
		return schema.NaN, nil
	case "Inf":
		return schema.Float(math.Inf(1)), nil
	case "-Inf":
		return schema.Float(math.Inf(-1)), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return schema.Float(v), nil
}
