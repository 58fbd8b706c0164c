// Package engine wires the Tsdb registry, TagIndex, and MetaLog (no
// RecyclePool) into the single process-wide context struct named in
// the glossary as "Engine": the TSDB's single constructed-once
// context struct, threaded down instead of relying on package-level
// globals (the teacher keeps one such global, config.Keys; everything
// else here is an explicit field, per §9's "global mutable process
// state... express as explicit context structs").
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nova-ts/tsdb/internal/compactor"
	"github.com/nova-ts/tsdb/internal/lifecycle"
	"github.com/nova-ts/tsdb/internal/timeseries"
	"github.com/nova-ts/tsdb/internal/tsdb"
	"github.com/nova-ts/tsdb/pkg/cclog"
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/ingest"
	"github.com/nova-ts/tsdb/pkg/metalog"
	"github.com/nova-ts/tsdb/pkg/query"
	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/nova-ts/tsdb/pkg/tagindex"
)

// Options configures a new Engine. Durations are pre-parsed by the
// caller (internal/config holds the string form read from disk).
type Options struct {
	DataDir           string
	BucketDuration    time.Duration
	PageSize          int
	CompressorVersion compress.Version
	Resolution        compress.Resolution
	ReadOnlyThreshold time.Duration
	ArchiveThreshold  time.Duration
}

// seriesRecord is one TSID's identity, as recorded in the MetaLog.
type seriesRecord struct {
	tsid uint32
	tags []tagindex.Tag
}

// Engine is the process-wide context object: the Tsdb registry keyed
// by bucket start, the TagIndex, the MetaLog, and the TSID catalog
// used to resolve (metric, tag-set) to identity.
type Engine struct {
	opt Options

	tagIndex *tagindex.Index
	metaLog  *metalog.Log

	mu             sync.RWMutex
	buckets        map[int64]*tsdb.Tsdb
	nextTSID       uint32
	seriesByID     map[uint32]seriesRecord
	seriesByMetric map[string][]uint32
}

// Open constructs an Engine rooted at opt.DataDir, opening the MetaLog
// and replaying it to rebuild the TSID catalog (§4.5: "the log is the
// source of truth for identity and placement across restarts").
func Open(opt Options) (*Engine, error) {
	if err := os.MkdirAll(opt.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: mkdir %s: %w", opt.DataDir, err)
	}

	ml, err := metalog.Open(filepath.Join(opt.DataDir, "meta.log"))
	if err != nil {
		return nil, fmt.Errorf("engine: open metalog: %w", err)
	}

	e := &Engine{
		opt:            opt,
		tagIndex:       tagindex.New(),
		metaLog:        ml,
		buckets:        make(map[int64]*tsdb.Tsdb),
		seriesByID:     make(map[uint32]seriesRecord),
		seriesByMetric: make(map[string][]uint32),
	}

	if err := ml.Replay(e.applyRecord); err != nil {
		return nil, fmt.Errorf("engine: replay metalog: %w", err)
	}

	if err := e.discoverBuckets(); err != nil {
		return nil, fmt.Errorf("engine: discover buckets: %w", err)
	}
	return e, nil
}

// discoverBuckets reopens every existing bucket directory under
// DataDir (each named by its bucket-start millisecond timestamp),
// picking up where a prior process left off without replaying sample
// data through MetaLog (§4.7: page placement is recovered from each
// bucket's own header.<k> files, not the MetaLog).
func (e *Engine) discoverBuckets() error {
	entries, err := os.ReadDir(e.opt.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		start, err := strconv.ParseInt(ent.Name(), 10, 64)
		if err != nil {
			continue
		}
		dir := filepath.Join(e.opt.DataDir, ent.Name())
		b, err := tsdb.Open(dir, e.tsdbOptions())
		if err != nil {
			cclog.Warnf("engine: skipping unreadable bucket dir %s: %v", dir, err)
			continue
		}
		e.buckets[start] = b
	}
	return nil
}

func (e *Engine) applyRecord(rec metalog.Record) error {
	switch rec.Kind {
	case metalog.KindNewTSID:
		tags := make([]tagindex.Tag, 0, len(rec.NewTSID.Tags))
		for _, t := range rec.NewTSID.Tags {
			tags = append(tags, tagindex.Tag{
				Key:   e.tagIndex.InternKey(t.Key),
				Value: e.tagIndex.InternValue(t.Value),
			})
		}
		e.seriesByID[rec.NewTSID.TSID] = seriesRecord{tsid: rec.NewTSID.TSID, tags: tags}
		e.seriesByMetric[rec.NewTSID.Metric] = append(e.seriesByMetric[rec.NewTSID.Metric], rec.NewTSID.TSID)
		if rec.NewTSID.TSID >= e.nextTSID {
			e.nextTSID = rec.NewTSID.TSID + 1
		}
	case metalog.KindPagePlacement:
		// Page placement is replayed by Tsdb.Open reading header.<k>
		// files directly; the MetaLog record exists for the case
		// headers are lost or inconsistent; this engine does not
		// reconcile placements against it.
	}
	return nil
}

// Close flushes and closes every open bucket and the MetaLog.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, b := range e.buckets {
		if err := b.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.metaLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) bucketStart(ts int64) int64 {
	d := e.opt.BucketDuration.Milliseconds()
	if d <= 0 {
		d = int64(time.Hour / time.Millisecond)
	}
	return (ts / d) * d
}

func (e *Engine) bucketDir(start int64) string {
	return filepath.Join(e.opt.DataDir, strconv.FormatInt(start, 10))
}

func (e *Engine) tsdbOptions() tsdb.Options {
	return tsdb.Options{
		PageSize:          e.opt.PageSize,
		CompressorVersion: e.opt.CompressorVersion,
		Resolution:        e.opt.Resolution,
		ReadOnlyThreshold: e.opt.ReadOnlyThreshold,
		ArchiveThreshold:  e.opt.ArchiveThreshold,
		MetaLog:           e.metaLog,
	}
}

// bucketFor returns the bucket owning ts, creating it on first write
// into its interval (§4.7's "created on first write").
func (e *Engine) bucketFor(ts int64) (*tsdb.Tsdb, error) {
	start := e.bucketStart(ts)

	e.mu.RLock()
	b, ok := e.buckets[start]
	e.mu.RUnlock()
	if ok {
		return b, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.buckets[start]; ok {
		return b, nil
	}

	dir := e.bucketDir(start)
	d := e.opt.BucketDuration.Milliseconds()
	b, err := tsdb.Create(dir, start, start+d, e.tsdbOptions())
	if err != nil {
		return nil, err
	}
	e.buckets[start] = b
	return b, nil
}

// bucketsInRange returns every bucket whose interval intersects
// [from, to), sorted by bucket start.
func (e *Engine) bucketsInRange(from, to int64) []*tsdb.Tsdb {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*tsdb.Tsdb
	for start, b := range e.buckets {
		d := e.opt.BucketDuration.Milliseconds()
		if start < to && start+d > from {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest().BucketStart < out[j].Manifest().BucketStart })
	return out
}

// resolveOrCreateTSID canonicalizes tags and returns the TSID for
// (metric, tags), creating and logging a new one if this is the first
// time this exact series has been seen (§4.12/§4.4).
func (e *Engine) resolveOrCreateTSID(metric string, tags map[string]string) uint32 {
	canon := e.tagIndex.Canonicalize(tags)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, tsid := range e.seriesByMetric[metric] {
		if rec, ok := e.seriesByID[tsid]; ok && tagindex.Equal(rec.tags, canon) {
			return tsid
		}
	}

	tsid := e.nextTSID
	e.nextTSID++
	e.seriesByID[tsid] = seriesRecord{tsid: tsid, tags: canon}
	e.seriesByMetric[metric] = append(e.seriesByMetric[metric], tsid)

	logTags := make([]metalog.Tag, 0, len(tags))
	for k, v := range tags {
		logTags = append(logTags, metalog.Tag{Key: k, Value: v})
	}
	if err := e.metaLog.AppendNewTSID(metalog.NewTSID{TSID: tsid, Metric: metric, Tags: logTags}); err != nil {
		cclog.Errorf("engine: metalog append new tsid: %v", err)
	}
	return tsid
}

// Route implements ingest.Router.
func (e *Engine) Route(metric string, tags map[string]string, ts int64, v schema.Float) ingest.Result {
	tsid := e.resolveOrCreateTSID(metric, tags)

	b, err := e.bucketFor(ts)
	if err != nil {
		cclog.Errorf("engine: bucket for ts=%d: %v", ts, err)
		return ingest.Result{Code: ingest.Rejected, Reason: err.Error()}
	}

	if err := b.Append(tsid, ts, v); err != nil {
		switch {
		case err == tsdb.ErrReadOnly:
			return ingest.Result{Code: ingest.BucketReadOnly, Reason: err.Error()}
		case err == timeseries.ErrPageTooSmall:
			return ingest.Result{Code: ingest.PageTooSmall, Reason: err.Error()}
		default:
			return ingest.Result{Code: ingest.Rejected, Reason: err.Error()}
		}
	}
	return ingest.Result{Code: ingest.Ok}
}

// ResolveSeries implements query.Resolver. tags are plain exact-match
// constraints; filters are compiled to tagindex predicates (§4.4's
// exact/any-of/wildcard/regex/not- match modes) and evaluated against
// each candidate's id-encoded tag-set, not its decoded strings.
func (e *Engine) ResolveSeries(metric string, tags map[string]string, filters []query.Filter, explicitTags bool) ([]query.SeriesMeta, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []query.SeriesMeta
	for _, tsid := range e.seriesByMetric[metric] {
		rec, ok := e.seriesByID[tsid]
		if !ok {
			continue
		}
		plain := make(map[string]string, len(rec.tags))
		for _, t := range rec.tags {
			k, ok := e.tagIndex.KeyName(t.Key)
			if !ok {
				continue
			}
			v, ok := e.tagIndex.ValueName(t.Value)
			if !ok {
				continue
			}
			plain[k] = v
		}
		if !matchesTags(plain, tags) {
			continue
		}
		if !e.matchesFilters(rec.tags, filters) {
			continue
		}
		out = append(out, query.SeriesMeta{TSID: tsid, Tags: plain})
	}
	return out, nil
}

// matchesTags reports whether series satisfies every exact-match
// constraint in want (empty/absent constraints match everything).
func matchesTags(series, want map[string]string) bool {
	for k, v := range want {
		if series[k] != v {
			return false
		}
	}
	return true
}

// matchesFilters reports whether every filter is satisfied by tags, a
// series' canonical id-encoded tag-set.
func (e *Engine) matchesFilters(tags []tagindex.Tag, filters []query.Filter) bool {
	for _, f := range filters {
		if !e.matchesFilter(tags, f) {
			return false
		}
	}
	return true
}

func (e *Engine) matchesFilter(tags []tagindex.Tag, f query.Filter) bool {
	keyID, ok := e.tagIndex.LookupKey(f.TagKey)
	negated := strings.HasPrefix(f.Type, "not-")
	if !ok {
		return negated
	}

	var valueID tagindex.ID
	found := false
	for _, t := range tags {
		if t.Key == keyID {
			valueID = t.Value
			found = true
			break
		}
	}
	if !found {
		return negated
	}

	pred, ok := e.compilePredicate(f)
	if !ok {
		return false
	}
	return e.tagIndex.Matches(pred, valueID)
}

func (e *Engine) compilePredicate(f query.Filter) (tagindex.Predicate, bool) {
	switch f.Type {
	case "exact":
		return e.tagIndex.CompileExact(f.TagKey, f.FilterExp, false), true
	case "not-exact":
		return e.tagIndex.CompileExact(f.TagKey, f.FilterExp, true), true
	case "any-of":
		return e.tagIndex.CompileAnyOf(f.TagKey, strings.Split(f.FilterExp, "|"), false), true
	case "not-any-of":
		return e.tagIndex.CompileAnyOf(f.TagKey, strings.Split(f.FilterExp, "|"), true), true
	case "wildcard":
		return e.tagIndex.CompileWildcard(f.TagKey, f.FilterExp), true
	case "regex":
		re, err := regexp.Compile(f.FilterExp)
		if err != nil {
			cclog.Warnf("engine: invalid regex filter %q: %v", f.FilterExp, err)
			return tagindex.Predicate{}, false
		}
		return e.tagIndex.CompileRegex(f.TagKey, re), true
	default:
		cclog.Warnf("engine: unknown filter type %q", f.Type)
		return tagindex.Predicate{}, false
	}
}

// QueryRange implements query.Resolver: merges samples for tsid across
// every bucket intersecting [from, to).
func (e *Engine) QueryRange(tsid uint32, from, to int64) ([]compress.Sample, error) {
	var out []compress.Sample
	for _, b := range e.bucketsInRange(from, to) {
		samples, err := b.Query(tsid, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, samples...)
	}
	return out, nil
}

// BucketStates reports the number of buckets currently in each
// lifecycle state, keyed by tsdb.State's String() form, for the
// GET /healthz surface of §6.
func (e *Engine) BucketStates() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, 4)
	for _, b := range e.buckets {
		out[b.State().String()]++
	}
	return out
}

// Buckets implements lifecycle.Registry.
func (e *Engine) Buckets() []lifecycle.Bucket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]lifecycle.Bucket, 0, len(e.buckets))
	for _, b := range e.buckets {
		out = append(out, bucketAdapter{b})
	}
	return out
}

// bucketAdapter adapts *tsdb.Tsdb to lifecycle.Bucket, discarding the
// State return value MaybeTransition reports so the lifecycle package
// never needs to import internal/tsdb's State type.
type bucketAdapter struct{ t *tsdb.Tsdb }

func (a bucketAdapter) Flush() error                    { return a.t.Flush() }
func (a bucketAdapter) MaybeTransition(now time.Time)    { a.t.MaybeTransition(now) }
func (a bucketAdapter) MarkCompacted()                  { a.t.MarkCompacted() }
func (a bucketAdapter) IsArchived() bool                { return a.t.IsArchived() }
func (a bucketAdapter) CompactSource() compactor.Source { return a.t.CompactSource() }
