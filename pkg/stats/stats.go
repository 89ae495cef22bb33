// Package stats implements the bounded, LRU-backed statistics collector
// from spec.md §4.3: per-(target, rule_key, data_dimension) counters with
// size-triggered reports and mergeable aggregation. Grounded on
// _examples/original_source's wp-stats collector (MIN_CACHE_SIZE=5,
// TOP_N_MULTIPLIER=2, LRU eviction, collect/filter/sort/truncate/reset).
// No example repo in the retrieval pack demonstrates a third-party LRU
// cache choice (a grep hit for "lru" was a false positive against
// mailru/easyjson), so the cache itself is hand-rolled on
// container/list+map; see DESIGN.md.
package stats

import (
	"container/list"
	"sort"
	"sync"

	"github.com/user/fluxgate/pkg/record"
)

// MinCacheSize is the floor under which a configured cache capacity is
// never allowed to fall.
const MinCacheSize = 5

// TopNMultiplier bounds a Collect report to at most capacity*TopNMultiplier
// rows.
const TopNMultiplier = 2

// TargetKind selects which sink/rule targets a Collect call includes.
type TargetKind int

const (
	TargetAll TargetKind = iota
	TargetIgnore
	TargetItem
)

// Target is a Collect filter: All passes every entry, Ignore passes
// none, Item(expected) requires an exact target-string match.
type Target struct {
	Kind     TargetKind
	Expected string
}

func All() Target              { return Target{Kind: TargetAll} }
func Ignore() Target           { return Target{Kind: TargetIgnore} }
func Item(expected string) Target { return Target{Kind: TargetItem, Expected: expected} }

func (t Target) matches(target string) bool {
	switch t.Kind {
	case TargetAll:
		return true
	case TargetIgnore:
		return false
	case TargetItem:
		return target == t.Expected
	default:
		return false
	}
}

// Key identifies one tracked counter within a Collector's cache.
type Key struct {
	Target    string
	RuleKey   string
	Dimension string
}

// Entry is the pair of counters tracked per Key: Total (every begin/task)
// and Success (every end/task/task_n).
type Entry struct {
	Total   int64
	Success int64
}

type node struct {
	key   Key
	entry Entry
}

// Collector is a bounded LRU cache of (Key -> Entry), scoped to one
// (stage, name) pair — e.g. one sink runtime's stats. Safe for
// concurrent use.
type Collector struct {
	Stage string
	Name  string

	mu          sync.Mutex
	capacity    int // post-floor capacity currently in effect
	configured  int // raw configured max, pre-floor, re-floored on every reset
	ll          *list.List
	index       map[Key]*list.Element
}

// New returns a Collector for (stage, name) with cache capacity
// max(configuredMax, MinCacheSize).
func New(stage, name string, configuredMax int) *Collector {
	c := &Collector{Stage: stage, Name: name, configured: configuredMax}
	c.reset(capacityFloor(configuredMax))
	return c
}

func capacityFloor(configured int) int {
	if configured < MinCacheSize {
		return MinCacheSize
	}
	return configured
}

func (c *Collector) reset(capacity int) {
	c.capacity = capacity
	c.ll = list.New()
	c.index = make(map[Key]*list.Element, capacity)
}

// touch moves key's element to the front (most-recently-used), creating
// it with zero Entry if absent, evicting the least-recently-used entry
// if the cache is at capacity and key is new.
func (c *Collector) touch(key Key) *node {
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*node)
	}
	if c.ll.Len() >= c.capacity && c.capacity > 0 {
		back := c.ll.Back()
		if back != nil {
			c.ll.Remove(back)
			delete(c.index, back.Value.(*node).key)
		}
	}
	n := &node{key: key}
	el := c.ll.PushFront(n)
	c.index[key] = el
	return n
}

// Begin increments Total for key.
func (c *Collector) Begin(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(key).entry.Total++
}

// End increments Success for key.
func (c *Collector) End(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(key).entry.Success++
}

// Task increments both Total and Success for key (a single-shot
// begin+end for work that does not straddle an async boundary).
func (c *Collector) Task(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.touch(key)
	n.entry.Total++
	n.entry.Success++
}

// TaskN adds n occurrences to Success at once (a completed batch of n
// items), per spec.md §4.3's "task_n variant adds n occurrences at once
// for success" — literally, Success only; Total is left untouched here
// (the caller is expected to have Begin'd the batch, or not to care about
// a Total/Success split for this bulk path).
func (c *Collector) TaskN(key Key, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(key).entry.Success += n
}

// ReportRow is one flattened row of a Report.
type ReportRow struct {
	Stage, Name         string
	Target, RuleKey, Dimension string
	Total, Success      int64
}

// Report is the result of a Collect call: every tracked row matching the
// filter, sorted by Total descending and truncated to capacity*TopNMultiplier.
type Report struct {
	Rows []ReportRow
}

// Collect copies every entry whose target matches filter, sorts by Total
// descending, truncates to capacity*TopNMultiplier, and resets the cache
// to a fresh one of capacity max(configured max, MinCacheSize), the same
// floor New applies.
func (c *Collector) Collect(filter Target) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]ReportRow, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node)
		if !filter.matches(n.key.Target) {
			continue
		}
		rows = append(rows, ReportRow{
			Stage: c.Stage, Name: c.Name,
			Target: n.key.Target, RuleKey: n.key.RuleKey, Dimension: n.key.Dimension,
			Total: n.entry.Total, Success: n.entry.Success,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Total > rows[j].Total })

	limit := c.capacity * TopNMultiplier
	if len(rows) > limit {
		rows = rows[:limit]
	}

	c.reset(capacityFloor(c.configured))
	return Report{Rows: rows}
}

type mergeKey struct{ Stage, Name, Target string }

// MergeReports combines a and b, summing Total/Success for rows that
// share an equal (stage, name, target) key (per spec.md §4.3's merge
// description — a coarser key than Collect's own per-(target,rule_key,
// dimension) bucketing), then sorts by Total descending
// and truncates to capacity*TopNMultiplier.
func MergeReports(a, b Report, capacity int) Report {
	merged := make(map[mergeKey]*ReportRow)
	order := make([]mergeKey, 0, len(a.Rows)+len(b.Rows))
	add := func(rows []ReportRow) {
		for _, r := range rows {
			k := mergeKey{r.Stage, r.Name, r.Target}
			if existing, ok := merged[k]; ok {
				existing.Total += r.Total
				existing.Success += r.Success
				continue
			}
			cp := r
			merged[k] = &cp
			order = append(order, k)
		}
	}
	add(a.Rows)
	add(b.Rows)

	out := make([]ReportRow, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })

	limit := capacity * TopNMultiplier
	if len(out) > limit {
		out = out[:limit]
	}
	return Report{Rows: out}
}

// ToRecords flattens the report into one record.Record per row: fields
// "stage", "name", "target" plus the statistic's own fields
// (rule_key, dimension, total, success), per spec.md §4.3.
func (r Report) ToRecords() []*record.Record {
	out := make([]*record.Record, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := record.New(7)
		rec.AppendNamed("stage", record.Chars(row.Stage))
		rec.AppendNamed("name", record.Chars(row.Name))
		rec.AppendNamed("target", record.Chars(row.Target))
		rec.AppendNamed("rule_key", record.Chars(row.RuleKey))
		rec.AppendNamed("dimension", record.Chars(row.Dimension))
		rec.AppendNamed("total", record.Digit(row.Total))
		rec.AppendNamed("success", record.Digit(row.Success))
		out = append(out, rec)
	}
	return out
}
