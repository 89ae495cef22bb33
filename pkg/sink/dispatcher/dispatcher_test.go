package dispatcher

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/evaluator"
	"github.com/user/fluxgate/pkg/ferr"
	"github.com/user/fluxgate/pkg/oml"
	"github.com/user/fluxgate/pkg/record"
	"github.com/user/fluxgate/pkg/sink/runtime"
)

// capturingBackend records every batch it receives, for fanout assertions.
type capturingBackend struct {
	mu    sync.Mutex
	batches [][]fluxgate.Rec
}

func (c *capturingBackend) SinkRecord(ctx context.Context, rec fluxgate.Rec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, []fluxgate.Rec{rec})
	return nil
}
func (c *capturingBackend) SinkRecords(ctx context.Context, recs []fluxgate.Rec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]fluxgate.Rec, len(recs))
	copy(cp, recs)
	c.batches = append(c.batches, cp)
	return nil
}
func (c *capturingBackend) Ping(ctx context.Context) error      { return nil }
func (c *capturingBackend) Close() error                        { return nil }
func (c *capturingBackend) Reconnect(ctx context.Context) error { return nil }

func (c *capturingBackend) records() []*record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*record.Record
	for _, batch := range c.batches {
		for _, rec := range batch {
			out = append(out, rec.(*record.Record))
		}
	}
	return out
}

func newSink(t *testing.T, name string, filter evaluator.Expr, filterExpect bool, tags []string) (*runtime.Runtime, *capturingBackend) {
	t.Helper()
	backend := &capturingBackend{}
	cfg := runtime.InstanceConfig{
		Group:      "biz",
		Name:       name,
		Mode:       ferr.ModeThrow,
		RescueRoot: t.TempDir(),
		TagStrings: tags,
		StatMax:    10,
	}
	rt := runtime.New(cfg, backend, filter, filterExpect, nil, nil)
	return rt, backend
}

func newUnit(pkgID record.PkgID, meta record.ProcMeta, fields ...record.Field) record.SinkRecUnit {
	r := record.New(len(fields))
	for _, f := range fields {
		r.Append(f)
	}
	return record.SinkRecUnit{PkgID: pkgID, Meta: meta, Data: r}
}

// TestFastPathFanoutWithTags covers spec scenario S4: sink A has no
// filter/no tags, sink B has no filter but a "cluster: b" tag; a
// dispatch of one record must put it on both, with B's copy having the
// extra field and A's copy being the shared original.
func TestFastPathFanoutWithTags(t *testing.T) {
	a, backendA := newSink(t, "a-0", nil, true, nil)
	b, backendB := newSink(t, "b-0", nil, true, []string{"cluster:b"})

	d := New("biz", []*runtime.Runtime{a, b}, nil)

	unit := newUnit(1, record.Null(), record.Field{Name: "k", Value: record.Chars("v")})
	err := d.GroupSinkPackage(context.Background(), record.SinkPackage{unit}, InfraSinks{})
	require.NoError(t, err)

	aRecs := backendA.records()
	require.Len(t, aRecs, 1)
	_, hasCluster := aRecs[0].Get("cluster")
	require.False(t, hasCluster)

	bRecs := backendB.records()
	require.Len(t, bRecs, 1)
	clusterVal, ok := bRecs[0].Get("cluster")
	require.True(t, ok)
	require.Equal(t, "b", clusterVal.Chars)
}

// TestFilterMatrixRouting covers spec scenario S5: sink T matches
// flag==yes, sink F matches flag!=yes (filter_expect=false); a record
// with flag=yes routes only to T, flag=no routes only to F.
func TestFilterMatrixRouting(t *testing.T) {
	filter := evaluator.Compare("flag", evaluator.Eq, evaluator.Str("yes"))
	tSink, tBackend := newSink(t, "t-0", filter, true, nil)
	fSink, fBackend := newSink(t, "f-0", filter, false, nil)

	d := New("biz", []*runtime.Runtime{tSink, fSink}, nil)

	yes := newUnit(1, record.Null(), record.Field{Name: "flag", Value: record.Chars("yes")})
	require.NoError(t, d.GroupSinkPackage(context.Background(), record.SinkPackage{yes}, InfraSinks{}))
	require.Len(t, tBackend.records(), 1)
	require.Len(t, fBackend.records(), 0)

	no := newUnit(2, record.Null(), record.Field{Name: "flag", Value: record.Chars("no")})
	require.NoError(t, d.GroupSinkPackage(context.Background(), record.SinkPackage{no}, InfraSinks{}))
	require.Len(t, tBackend.records(), 1)
	require.Len(t, fBackend.records(), 1)
}

// TestEmptyTransformRoutesToErrorSink exercises the OML-transform path:
// a model that drops every record must route originals, with
// diagnostic fields attached, to the infra error sink instead of any
// configured sink.
func TestEmptyTransformRoutesToErrorSink(t *testing.T) {
	sink, sinkBackend := newSink(t, "out-0", nil, true, nil)
	errSink, errBackend := newSink(t, "error-0", nil, true, nil)

	dropAll := oml.ModelFunc(func(in *record.Record) (*record.Record, error) {
		return record.New(0), nil
	})
	models := map[string]oml.Model{"r1": dropAll}
	d := New("biz", []*runtime.Runtime{sink}, models)

	unit := newUnit(1, record.Rule("r1"), record.Field{Name: "k", Value: record.Chars("v")})
	err := d.GroupSinkPackage(context.Background(), record.SinkPackage{unit}, InfraSinks{Error: errSink})
	require.NoError(t, err)

	require.Len(t, sinkBackend.records(), 0)
	errRecs := errBackend.records()
	require.Len(t, errRecs, 1)
	kind, ok := errRecs[0].Get("__err_kind")
	require.True(t, ok)
	require.Equal(t, "empty_output", kind.Chars)
}

// TestMoveLastCloneRest verifies that of two matching sinks, only the
// non-last recipient's record is a distinct clone; the fields are equal
// but the underlying records must not alias each other once tagged.
func TestMoveLastCloneRest(t *testing.T) {
	always := evaluator.Compare("k", evaluator.Eq, evaluator.Str("v"))
	a, backendA := newSink(t, "a-0", always, true, []string{"x:1"})
	b, backendB := newSink(t, "b-0", always, true, []string{"x:2"})

	d := New("biz", []*runtime.Runtime{a, b}, nil)
	unit := newUnit(1, record.Null(), record.Field{Name: "k", Value: record.Chars("v")})
	require.NoError(t, d.GroupSinkPackage(context.Background(), record.SinkPackage{unit}, InfraSinks{}))

	aRecs := backendA.records()
	bRecs := backendB.records()
	require.Len(t, aRecs, 1)
	require.Len(t, bRecs, 1)

	xa, _ := aRecs[0].Get("x")
	xb, _ := bRecs[0].Get("x")
	require.Equal(t, "1", xa.Chars)
	require.Equal(t, "2", xb.Chars)
}
