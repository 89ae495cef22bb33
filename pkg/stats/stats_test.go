package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginEndTask(t *testing.T) {
	c := New("sink", "s1", 10)
	k := Key{Target: "s1", RuleKey: "/a", Dimension: "d1"}
	c.Begin(k)
	c.Begin(k)
	c.End(k)
	c.Task(k)

	rep := c.Collect(All())
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, int64(3), rep.Rows[0].Total)
	assert.Equal(t, int64(2), rep.Rows[0].Success)
}

func TestTaskN(t *testing.T) {
	c := New("sink", "s1", 10)
	k := Key{Target: "s1"}
	c.TaskN(k, 5)
	rep := c.Collect(All())
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, int64(5), rep.Rows[0].Success)
}

func TestCapacityFloor(t *testing.T) {
	c := New("sink", "s1", 1)
	assert.Equal(t, MinCacheSize, c.capacity)
}

func TestCollectFilterSort(t *testing.T) {
	c := New("sink", "s1", 2) // capacity floors to 5
	for i := 0; i < 4; i++ {
		k := Key{Target: "a", Dimension: string(rune('0' + i))}
		for n := 0; n < i+1; n++ {
			c.Begin(k)
		}
	}
	c.Begin(Key{Target: "ignored-target"})

	rep := c.Collect(Item("a"))
	require.Len(t, rep.Rows, 4)
	for i := 1; i < len(rep.Rows); i++ {
		assert.GreaterOrEqual(t, rep.Rows[i-1].Total, rep.Rows[i].Total)
	}
}

func TestCollectResets(t *testing.T) {
	c := New("sink", "s1", 10)
	k := Key{Target: "a"}
	c.Begin(k)
	first := c.Collect(All())
	require.Len(t, first.Rows, 1)

	second := c.Collect(All())
	assert.Empty(t, second.Rows)
}

func TestLRUEviction(t *testing.T) {
	c := New("sink", "s1", 5)
	for i := 0; i < 6; i++ {
		c.Begin(Key{Target: "a", Dimension: string(rune('a' + i))})
	}
	rep := c.Collect(All())
	// 6 inserts into a 5-capacity cache: the oldest (dimension "a") was evicted.
	assert.Len(t, rep.Rows, 5)
	for _, row := range rep.Rows {
		assert.NotEqual(t, "a", row.Dimension)
	}
}

func TestMergeReports(t *testing.T) {
	a := Report{Rows: []ReportRow{
		{Stage: "sink", Name: "s1", Target: "t1", Total: 3, Success: 2},
		{Stage: "sink", Name: "s1", Target: "t2", Total: 1, Success: 1},
	}}
	b := Report{Rows: []ReportRow{
		{Stage: "sink", Name: "s1", Target: "t1", Total: 4, Success: 4},
		{Stage: "sink", Name: "s1", Target: "t3", Total: 9, Success: 9},
	}}
	merged := MergeReports(a, b, 2)
	require.Len(t, merged.Rows, 3)
	byTarget := map[string]ReportRow{}
	for _, r := range merged.Rows {
		byTarget[r.Target] = r
	}
	assert.Equal(t, int64(7), byTarget["t1"].Total)
	assert.Equal(t, int64(6), byTarget["t1"].Success)
}

func TestMergeReportsTruncates(t *testing.T) {
	var rows []ReportRow
	for i := 0; i < 10; i++ {
		rows = append(rows, ReportRow{Stage: "sink", Name: "s1", Target: string(rune('a' + i)), Total: int64(i)})
	}
	merged := MergeReports(Report{Rows: rows}, Report{}, 2)
	assert.LessOrEqual(t, len(merged.Rows), 2*TopNMultiplier)
}

func TestToRecords(t *testing.T) {
	rep := Report{Rows: []ReportRow{{Stage: "sink", Name: "s1", Target: "t1", RuleKey: "/a", Dimension: "d", Total: 2, Success: 1}}}
	recs := rep.ToRecords()
	require.Len(t, recs, 1)
	v, ok := recs[0].Get("stage")
	require.True(t, ok)
	assert.Equal(t, "sink", v.Any())
}
