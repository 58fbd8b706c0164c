package query

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nova-ts/tsdb/pkg/aggregate"
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// SeriesMeta is one matched series' identity as returned by TSID
// resolution: the TSID plus its full tag-set (so the response can
// report which tags were grouped away vs kept).
type SeriesMeta struct {
	TSID uint32
	Tags map[string]string
}

// Resolver resolves a metric+predicate set to the matching series, and
// fetches a resolved TSID's sample stream over a range. The executor
// depends only on this interface, not on the concrete Tsdb
// registry/TagIndex types, so pkg/query stays free of an import on
// internal/engine.
type Resolver interface {
	ResolveSeries(metric string, tags map[string]string, filters []Filter, explicitTags bool) ([]SeriesMeta, error)
	QueryRange(tsid uint32, from, to int64) ([]compress.Sample, error)
}

// Executor runs §4.10's plan: TSID resolution -> per-series fetch ->
// downsample -> aggregate -> rate.
type Executor struct {
	resolver Resolver
}

func NewExecutor(r Resolver) *Executor {
	return &Executor{resolver: r}
}

// Run executes req against [from, to) and returns one ResponseSeries
// per distinct grouping key (the grouping tags not folded away by the
// aggregator).
func (e *Executor) Run(req Request, now time.Time) ([]ResponseSeries, error) {
	from, err := ParseTimestamp(req.Start, now)
	if err != nil {
		return nil, fmt.Errorf("query: start: %w", err)
	}
	to := now.UnixMilli()
	if req.End != nil {
		to, err = ParseTimestamp(req.End, now)
		if err != nil {
			return nil, fmt.Errorf("query: end: %w", err)
		}
	}

	var out []ResponseSeries
	for _, sq := range req.Queries {
		series, err := e.runSubQuery(sq, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, series...)
	}
	return out, nil
}

func (e *Executor) runSubQuery(sq SubQuery, from, to int64) ([]ResponseSeries, error) {
	exactTags, wildcardFilters := normalizeTags(sq.Tags)
	sq.Tags = exactTags
	sq.Filters = append(sq.Filters, wildcardFilters...)

	matched, err := e.resolver.ResolveSeries(sq.Metric, sq.Tags, sq.Filters, sq.ExplicitTags)
	if err != nil {
		return nil, fmt.Errorf("query: resolve %q: %w", sq.Metric, err)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	groups := groupSeries(matched, sq)

	fn := aggregate.Func(sq.Aggregator)
	type fetched struct {
		key     string
		tags    map[string]string
		aggTags []string
		series  []aggregate.Series
	}

	fetchedGroups := make([]fetched, 0, len(groups))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for key, g := range groups {
		wg.Add(1)
		go func(key string, g seriesGroup) {
			defer wg.Done()
			perSeries := make([]aggregate.Series, 0, len(g.members))
			for _, m := range g.members {
				samples, err := e.resolver.QueryRange(m.TSID, from, to)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("query: fetch tsid %d: %w", m.TSID, err)
					}
					mu.Unlock()
					return
				}
				if sq.Downsample != "" {
					samples = downsample(samples, sq.Downsample, to)
				}
				perSeries = append(perSeries, aggregate.Series{Label: seriesLabel(m), Samples: samples})
			}
			mu.Lock()
			fetchedGroups = append(fetchedGroups, fetched{key: key, tags: g.tags, aggTags: g.aggTags, series: perSeries})
			mu.Unlock()
		}(key, g)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(fetchedGroups, func(i, j int) bool { return fetchedGroups[i].key < fetchedGroups[j].key })

	out := make([]ResponseSeries, 0, len(fetchedGroups))
	for _, fg := range fetchedGroups {
		merged := applyAggregatorFunction(fn, fg.series, sq)
		if sq.Rate {
			for i := range merged {
				merged[i].Samples = aggregate.Rate(merged[i].Samples, sq.RateOptions.toAggregate())
			}
		}
		out = append(out, ResponseSeries{
			Metric:        sq.Metric,
			Tags:          fg.tags,
			AggregateTags: fg.aggTags,
			DataPoints:    mergeDPS(merged),
		})
	}
	return out, nil
}

func applyAggregatorFunction(fn aggregate.Func, series []aggregate.Series, sq SubQuery) []aggregate.Series {
	if sq.TopN > 0 {
		return aggregate.TopN(series, sq.TopN, 10)
	}
	if sq.BottomN > 0 {
		return aggregate.BottomN(series, sq.BottomN, 10)
	}
	merged := aggregate.Aggregate(fn, series)
	return []aggregate.Series{{Samples: merged}}
}

func mergeDPS(series []aggregate.Series) map[int64]schema.Float {
	dps := make(map[int64]schema.Float)
	for _, s := range series {
		for _, sample := range s.Samples {
			dps[sample.TS] = sample.Value
		}
	}
	return dps
}

// downsample buckets samples into interval-wide windows and fills gaps
// up to the query's actual range end, not just the last observed
// sample, so a trailing empty bucket at the query boundary still
// emits a filled point (spec.md §8 Scenario 4: query end=3240000 with
// interval 60000ms must still produce a {3240000:0} fill point, which
// requires Finish's exclusive end to sit one interval past to).
func downsample(samples []compress.Sample, spec string, to int64) []compress.Sample {
	interval, fn, fill, err := aggregate.ParseDownsample(spec)
	if err != nil {
		return samples
	}
	d := aggregate.NewDownsampler(interval, fn, fill)
	for _, s := range samples {
		d.Feed(s.TS, s.Value)
	}
	return d.Finish(to + interval)
}

// normalizeTags splits sq.Tags into plain exact-match constraints and
// wildcard/any-of Filters with GroupBy set. A literal "*" or a
// pipe-joined value list ("web01|web02") sent through the tags map
// (§6's `tags:{"host":"*"}` / GET `{host=*}` shapes) previously hit
// matchesTags' strict string equality and matched nothing; routing it
// through TagIndex's predicate machinery instead makes it match, and
// GroupBy:true keeps the key a grouping dimension in groupSeries
// (spec.md §8 Scenario 5: tags={host:*} -> one result group per host,
// aggregateTags=[]).
func normalizeTags(tags map[string]string) (map[string]string, []Filter) {
	if len(tags) == 0 {
		return tags, nil
	}
	exact := make(map[string]string, len(tags))
	var filters []Filter
	for k, v := range tags {
		switch {
		case v == "*":
			filters = append(filters, Filter{Type: "wildcard", TagKey: k, FilterExp: "*", GroupBy: true})
		case strings.Contains(v, "|"):
			filters = append(filters, Filter{Type: "any-of", TagKey: k, FilterExp: v, GroupBy: true})
		case strings.Contains(v, "*"):
			filters = append(filters, Filter{Type: "wildcard", TagKey: k, FilterExp: v, GroupBy: true})
		default:
			exact[k] = v
		}
	}
	return exact, filters
}

func seriesLabel(m SeriesMeta) string {
	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	label := ""
	for _, k := range keys {
		label += k + "=" + m.Tags[k] + ","
	}
	return label
}

// seriesGroup is one result-series grouping key's member series plus
// its surviving (non-aggregated) tags and the list of tag keys folded
// away into aggregateTags.
type seriesGroup struct {
	tags    map[string]string
	aggTags []string
	members []SeriesMeta
}

// groupSeries splits matched series into result groups. A tag key is
// kept as a distinguishing (non-aggregated) field when explicitTags is
// set, when a GroupBy filter names it explicitly (even if its value is
// a wildcard or any-of predicate, per spec.md §8 Scenario 5), or when
// every matched series shares the same value for it; otherwise it is
// folded into aggregateTags and all matching series with equal
// non-aggregated tags merge into one group.
func groupSeries(matched []SeriesMeta, sq SubQuery) map[string]seriesGroup {
	if sq.ExplicitTags {
		groups := make(map[string]seriesGroup)
		for _, m := range matched {
			key := seriesLabel(m)
			g := groups[key]
			g.tags = m.Tags
			g.members = append(g.members, m)
			groups[key] = g
		}
		return groups
	}

	forced := map[string]bool{}
	for _, f := range sq.Filters {
		if f.GroupBy {
			forced[f.TagKey] = true
		}
	}

	varying := map[string]bool{}
	first := true
	var common map[string]string
	for _, m := range matched {
		if first {
			common = cloneTags(m.Tags)
			first = false
			continue
		}
		for k, v := range common {
			if m.Tags[k] != v {
				varying[k] = true
			}
		}
		for k := range m.Tags {
			if _, ok := common[k]; !ok {
				varying[k] = true
			}
		}
	}

	aggTags := make([]string, 0)
	splitByValue := false
	for k := range varying {
		if forced[k] {
			splitByValue = true
			continue
		}
		aggTags = append(aggTags, k)
	}
	sort.Strings(aggTags)

	if len(varying) == 0 || !splitByValue {
		return map[string]seriesGroup{"": {tags: common, aggTags: aggTags, members: matched}}
	}

	groups := make(map[string]seriesGroup)
	for _, m := range matched {
		keyTags := make(map[string]string)
		for k, v := range m.Tags {
			if !varying[k] || forced[k] {
				keyTags[k] = v
			}
		}
		key := seriesLabel(SeriesMeta{Tags: keyTags})
		g := groups[key]
		g.tags = keyTags
		g.aggTags = aggTags
		g.members = append(g.members, m)
		groups[key] = g
	}
	return groups
}

func cloneTags(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
