package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp resolves start/end values that may be a relative
// spec ("5m-ago"), an absolute Unix timestamp (seconds or
// milliseconds), or an RFC3339 string (§6).
func ParseTimestamp(v any, now time.Time) (int64, error) {
	switch t := v.(type) {
	case nil:
		return now.UnixMilli(), nil
	case float64:
		return normalizeEpoch(int64(t)), nil
	case int64:
		return normalizeEpoch(t), nil
	case string:
		return parseTimestampString(t, now)
	default:
		return 0, fmt.Errorf("query: unsupported timestamp type %T", v)
	}
}

func normalizeEpoch(v int64) int64 {
	// Heuristic shared with OpenTSDB-style APIs: 13-digit values are
	// already milliseconds, 10-digit values are seconds.
	if v > 1_000_000_000_000 {
		return v
	}
	return v * 1000
}

func parseTimestampString(s string, now time.Time) (int64, error) {
	if strings.HasSuffix(s, "-ago") {
		dur, err := parseRelativeDuration(strings.TrimSuffix(s, "-ago"))
		if err != nil {
			return 0, err
		}
		return now.Add(-dur).UnixMilli(), nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return normalizeEpoch(v), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("query: unparseable timestamp %q", s)
}

// parseRelativeDuration parses OpenTSDB-style "<N><unit>" specs where
// unit is one of ms, s, m, h, d, w, n (30 days), y (§6's "<N><unit>-ago").
func parseRelativeDuration(s string) (time.Duration, error) {
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
		{"w", 7 * 24 * time.Hour},
		{"n", 30 * 24 * time.Hour},
		{"y", 365 * 24 * time.Hour},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseInt(strings.TrimSuffix(s, u.suffix), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("query: bad relative duration %q: %w", s, err)
			}
			return time.Duration(n) * u.unit, nil
		}
	}
	return 0, fmt.Errorf("query: unknown relative duration unit in %q", s)
}

// ParseGetSpec parses the GET /api/query?m=<spec> shorthand (§6):
// "<agg>:[rate{...}:][<downsample>:][explicit_tags:]<metric>{k=v,k=v}[{ngk=ngv}]".
// ngk/ngv (the second brace group) are "no-group" filter tags: matched
// but not split into separate result series.
func ParseGetSpec(spec string) (SubQuery, error) {
	var sq SubQuery

	// Tag groups follow the metric: the segment after the last ':' outside braces.
	metricStart, depth := 0, 0
	for i, c := range spec {
		switch {
		case c == '{':
			depth++
		case c == '}':
			depth--
		case c == ':' && depth == 0:
			metricStart = i + 1
		}
	}
	braceStart := strings.Index(spec[metricStart:], "{")
	if braceStart >= 0 {
		braceStart += metricStart
	}
	head := spec
	var tagsPart, noGroupPart string
	if braceStart >= 0 {
		head = spec[:braceStart]
		rest := spec[braceStart:]
		groups := splitBraceGroups(rest)
		if len(groups) > 0 {
			tagsPart = groups[0]
		}
		if len(groups) > 1 {
			noGroupPart = groups[1]
		}
	}

	segments := strings.Split(head, ":")
	if len(segments) < 2 {
		return sq, fmt.Errorf("query: malformed GET spec %q", spec)
	}
	sq.Aggregator = segments[0]
	sq.Metric = segments[len(segments)-1]

	for _, seg := range segments[1 : len(segments)-1] {
		switch {
		case strings.HasPrefix(seg, "rate"):
			sq.Rate = true
			sq.RateOptions = parseRateBrace(seg)
		case seg == "explicit_tags":
			sq.ExplicitTags = true
		default:
			sq.Downsample = seg
		}
	}

	if tagsPart != "" {
		sq.Tags = parseTagList(tagsPart)
	}
	if noGroupPart != "" {
		if sq.Tags == nil {
			sq.Tags = map[string]string{}
		}
		for k, v := range parseTagList(noGroupPart) {
			sq.Tags[k] = v
		}
	}
	return sq, nil
}

func splitBraceGroups(s string) []string {
	var groups []string
	for len(s) > 0 {
		if s[0] != '{' {
			break
		}
		end := strings.Index(s, "}")
		if end < 0 {
			break
		}
		groups = append(groups, s[1:end])
		s = s[end+1:]
	}
	return groups
}

func parseTagList(s string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		tags[kv[0]] = kv[1]
	}
	return tags
}

// parseRateBrace parses "rate{counter,100,0}" positional GET rate
// options into the canonical POST RateOptions shape.
func parseRateBrace(seg string) *RateOptions {
	start := strings.Index(seg, "{")
	if start < 0 {
		return &RateOptions{}
	}
	end := strings.Index(seg, "}")
	if end < 0 {
		end = len(seg)
	}
	parts := strings.Split(seg[start+1:end], ",")
	opt := &RateOptions{}
	if len(parts) > 0 {
		opt.Counter = parts[0] == "counter" || parts[0] == "true"
	}
	if len(parts) > 1 {
		if n, err := strconv.ParseFloat(parts[1], 64); err == nil {
			opt.CounterMax = n
		}
	}
	if len(parts) > 2 {
		if n, err := strconv.ParseFloat(parts[2], 64); err == nil {
			opt.ResetValue = n
		}
	}
	return opt
}
