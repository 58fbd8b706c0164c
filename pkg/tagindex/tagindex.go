// Package tagindex implements the TagIndex of §4.4: interning tag keys
// and tag values into dense 32-bit ids under a read-write lock, modeled
// on the double-checked-locking idiom the teacher uses for its Level
// tree (pkg/metricstore/level.go) but flattened to two plain intern
// tables instead of a recursive tree.
package tagindex

import (
	"cmp"
	"regexp"
	"sort"
	"sync"
)

// ID is a dense 32-bit intern id for either a tag key or a tag value.
// Keys and values use separate id spaces (DESIGN.md Open Questions).
type ID uint32

// table is one intern namespace (used once for keys, once for values).
type table struct {
	mu     sync.RWMutex
	byName map[string]ID
	byID   []string // byID[id] == name
}

func newTable() *table {
	return &table{byName: make(map[string]ID)}
}

// intern returns name's id, assigning a fresh one if unseen. Assignment
// is monotonic and idempotent.
func (t *table) intern(name string) ID {
	t.mu.RLock()
	if id, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := ID(len(t.byID))
	t.byName[name] = id
	t.byID = append(t.byID, name)
	return id
}

func (t *table) lookup(name string) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[name]
	return id, ok
}

func (t *table) nameOf(id ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.byID) {
		return "", false
	}
	return t.byID[id], true
}

// Index interns tag keys and values and stores TSID tag-sets as packed
// id arrays in canonical (lexicographic by key) order.
type Index struct {
	keys   *table
	values *table
}

func New() *Index {
	return &Index{keys: newTable(), values: newTable()}
}

func (x *Index) InternKey(name string) ID   { return x.keys.intern(name) }
func (x *Index) InternValue(name string) ID { return x.values.intern(name) }

func (x *Index) LookupKey(name string) (ID, bool)   { return x.keys.lookup(name) }
func (x *Index) LookupValue(name string) (ID, bool) { return x.values.lookup(name) }

func (x *Index) KeyName(id ID) (string, bool)   { return x.keys.nameOf(id) }
func (x *Index) ValueName(id ID) (string, bool) { return x.values.nameOf(id) }

// Tag is one (key-id, value-id) pair of an interned tag-set.
type Tag struct {
	Key   ID
	Value ID
}

// Canonicalize interns and sorts a raw string tag-set into canonical
// (lexicographic by key) id-array order (§3, §4.4).
func (x *Index) Canonicalize(tags map[string]string) []Tag {
	out := make([]Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, Tag{Key: x.InternKey(k), Value: x.InternValue(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		ni, _ := x.KeyName(out[i].Key)
		nj, _ := x.KeyName(out[j].Key)
		return ni < nj
	})
	return out
}

// Equal compares two canonical tag-sets by id, not by string.
func Equal(a, b []Tag) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MatchMode is the predicate kind a compiled query tag filter uses.
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchAnyOf
	MatchWildcard
	MatchRegex
	MatchNotExact
	MatchNotAnyOf
)

// Predicate is a compiled tag filter: a key-id, a match mode, and either
// pre-resolved value-ids (exact/any-of) or a compiled matcher
// (wildcard/regex) that operates on raw value strings for ids not yet
// interned (a predicate must still match values that existed before the
// predicate's own value string was interned).
type Predicate struct {
	Key       ID
	Mode      MatchMode
	ValueIDs  map[ID]bool
	wildcard  *regexp.Regexp
	rawRegex  *regexp.Regexp
	grouping  bool // whether this key's value should split result series (wildcard/any-of without explicit value -> grouping)
}

func (p *Predicate) Grouping() bool { return p.grouping }

// CompileExact builds a Predicate that matches a single value.
func (x *Index) CompileExact(key, value string, negate bool) Predicate {
	mode := MatchExact
	if negate {
		mode = MatchNotExact
	}
	vid := x.InternValue(value)
	return Predicate{Key: x.InternKey(key), Mode: mode, ValueIDs: map[ID]bool{vid: true}}
}

// CompileAnyOf builds a Predicate matching any of several values
// (grouping: each matched value becomes its own result series unless
// the query explicitly aggregates).
func (x *Index) CompileAnyOf(key string, values []string, negate bool) Predicate {
	mode := MatchAnyOf
	if negate {
		mode = MatchNotAnyOf
	}
	ids := make(map[ID]bool, len(values))
	for _, v := range values {
		ids[x.InternValue(v)] = true
	}
	return Predicate{Key: x.InternKey(key), Mode: mode, ValueIDs: ids, grouping: len(values) > 1 || values[0] == "*"}
}

// CompileWildcard builds a glob-style ("web*", "*") predicate. "*" alone
// is the grouping wildcard used by queries like tags={host:*} (§8
// scenario 5).
func (x *Index) CompileWildcard(key, pattern string) Predicate {
	re := wildcardToRegexp(pattern)
	return Predicate{Key: x.InternKey(key), Mode: MatchWildcard, wildcard: re, grouping: true}
}

// CompileRegex builds a regex predicate from an already-compiled
// expression supplied by the caller (ingress validates the pattern
// compiles before reaching here).
func (x *Index) CompileRegex(key string, re *regexp.Regexp) Predicate {
	return Predicate{Key: x.InternKey(key), Mode: MatchRegex, rawRegex: re}
}

func wildcardToRegexp(pattern string) *regexp.Regexp {
	// "web*" -> "^web.*$"; "web01|web02" stays literal-alternation.
	var b []byte
	b = append(b, '^')
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b = append(b, '.', '*')
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '\\':
			b = append(b, '\\', c)
		case '|':
			b = append(b, '|')
		default:
			b = append(b, c)
		}
	}
	b = append(b, '$')
	re, err := regexp.Compile(string(b))
	if err != nil {
		// Fall back to a pattern that matches nothing rather than
		// panicking on a malformed wildcard from a client request.
		return regexp.MustCompile(`$.^`)
	}
	return re
}

// Matches reports whether a candidate value-id (and, for
// wildcard/regex, its resolved string) satisfies the predicate.
func (x *Index) Matches(p Predicate, valueID ID) bool {
	switch p.Mode {
	case MatchExact:
		return p.ValueIDs[valueID]
	case MatchNotExact:
		return !p.ValueIDs[valueID]
	case MatchAnyOf:
		return p.ValueIDs[valueID]
	case MatchNotAnyOf:
		return !p.ValueIDs[valueID]
	case MatchWildcard:
		name, ok := x.ValueName(valueID)
		return ok && p.wildcard.MatchString(name)
	case MatchRegex:
		name, ok := x.ValueName(valueID)
		return ok && p.rawRegex.MatchString(name)
	default:
		return false
	}
}

// MergeSortedIDs merges two ascending slices of ID into one ascending,
// de-duplicated slice (grounded on the teacher's generic mergeList
// helper in pkg/metricstore/healthcheck.go).
func MergeSortedIDs[T cmp.Ordered](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
