// Package query implements the QueryExecutor of §4.10: planning and
// running a query (TSID resolution -> per-series fetch -> downsample
// -> aggregate -> rate) and the OpenTSDB-modeled JSON request/response
// shapes of §6. The request/response field shapes are grounded on
// other_examples' gofr OpenTSDB query datasource
// (pkg/gofr/datasource/opentsdb: QueryParam/SubQuery/Filter/
// QueryResponse), adapted from OpenTSDB's TSUID-oriented fields to this
// TSDB's tag-id-oriented TagIndex.
package query

import (
	"github.com/nova-ts/tsdb/pkg/aggregate"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// Request is the top-level /api/query POST body (§6).
type Request struct {
	Start   any      `json:"start"`
	End     any      `json:"end,omitempty"`
	Queries []SubQuery `json:"queries"`
}

// SubQuery selects one metric's time series and how to fold them.
type SubQuery struct {
	Aggregator    string            `json:"aggregator"`
	Metric        string            `json:"metric"`
	Rate          bool              `json:"rate,omitempty"`
	RateOptions   *RateOptions      `json:"rateOptions,omitempty"`
	Downsample    string            `json:"downsample,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Filters       []Filter          `json:"filters,omitempty"`
	ExplicitTags  bool              `json:"explicit_tags,omitempty"`
	TopN          int               `json:"top,omitempty"`
	BottomN       int               `json:"bottom,omitempty"`
}

// RateOptions mirrors the POST body shape (§6, canonical per
// SPEC_FULL.md's Open Question decision: GET positional args map onto
// this POST shape).
type RateOptions struct {
	Counter    bool    `json:"counter,omitempty"`
	CounterMax float64 `json:"counterMax,omitempty"`
	DropResets bool    `json:"dropResets,omitempty"`
	ResetValue float64 `json:"resetValue,omitempty"`
}

func (r *RateOptions) toAggregate() aggregate.RateOptions {
	if r == nil {
		return aggregate.RateOptions{}
	}
	return aggregate.RateOptions{
		Counter: r.Counter, CounterMax: r.CounterMax,
		DropResets: r.DropResets, ResetValue: r.ResetValue,
	}
}

// Filter is one tag predicate, mirroring the gofr OpenTSDB Filter
// shape's type/tagk/filter/groupBy fields.
type Filter struct {
	Type      string `json:"type"`
	TagKey    string `json:"tagk"`
	FilterExp string `json:"filter"`
	GroupBy   bool   `json:"groupBy"`
}

// ResponseSeries is one result series in the /api/query response.
// DataPoints uses schema.Float, not a plain float64, so a NaN/Inf
// value in the series (e.g. a counter reset with no prior sample)
// marshals to the quoted "NaN"/"Inf" tokens of §6 instead of failing
// encoding/json's float64 marshaler outright.
type ResponseSeries struct {
	Metric        string             `json:"metric"`
	Tags          map[string]string  `json:"tags"`
	AggregateTags []string           `json:"aggregateTags"`
	DataPoints    map[int64]schema.Float `json:"dps"`
}
