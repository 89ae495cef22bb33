// Package runtime implements the per-sink worker from spec.md §4.6: a
// primary backend plus failover to an on-disk rescue sink, per-sink
// stats, an optional boolean filter, and periodic stat flushing.
// Grounded on the teacher's pkg/sink/failover/failover.go
// (primary+fallback swapping, rewritten here around the exact
// SwapBackSink/RecoverSink handle exchange spec.md §4.6 names instead of
// a flat fallback list) and the engine's ticker-driven status loop in
// pkg/engine/engine.go for the periodic send-stat pattern.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/evaluator"
	"github.com/user/fluxgate/pkg/ferr"
	"github.com/user/fluxgate/pkg/record"
	"github.com/user/fluxgate/pkg/sink/file"
	"github.com/user/fluxgate/pkg/stats"
)

// StatIntervalMS is the periodic stat-flush interval.
const StatIntervalMS = 500

// Backend is the capability set a sink runtime's primary must satisfy:
// the base write contract plus Reconnect, which the maintainer (C11)
// invokes to bring a failed backend back into service.
type Backend interface {
	fluxgate.Sink
	Reconnect(ctx context.Context) error
}

// BatchBackend is a Backend that can also accept a pre-batched slice of
// records in one call.
type BatchBackend interface {
	Backend
	fluxgate.BatchSink
}

// RawBackend is a Backend that can also accept raw strings/bytes (used
// by the FFV/str send paths).
type RawBackend interface {
	Backend
	fluxgate.RawSink
}

// Handle is a failed (or recovered) backend handed between a Runtime and
// the maintainer over the bad/fix channels.
type Handle struct {
	Name    string
	Backend Backend
}

// InstanceConfig is the subset of a sink instance's resolved
// configuration a Runtime needs.
type InstanceConfig struct {
	Group             string
	Name              string // replica-qualified sink name, e.g. "biz-alerts/file-0"
	Mode              ferr.Mode
	RescueRoot        string
	RescueRotateBytes int64 // 0 disables size-triggered rescue file rotation
	RescueCompress    bool     // zstd-compress a rotated-off rescue file
	TagStrings        []string // "k:v" / "k=v" / "flag" forms, last-wins on duplicate keys
	StatMax           int
}

// ParseTags parses the configured tag strings into deduplicated,
// last-wins record fields, per spec.md §4.6's "pre-compiled tag fields
// (deduped last-wins from the config's tag strings k:v / k=v / flag)".
func ParseTags(tagStrings []string) []record.Field {
	order := make([]string, 0, len(tagStrings))
	values := make(map[string]string, len(tagStrings))
	for _, raw := range tagStrings {
		k, v := splitTag(raw)
		if _, seen := values[k]; !seen {
			order = append(order, k)
		}
		values[k] = v
	}
	out := make([]record.Field, 0, len(order))
	for _, k := range order {
		out = append(out, record.Field{Name: k, Value: record.Chars(values[k])})
	}
	return out
}

func splitTag(raw string) (key, value string) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' || raw[i] == '=' {
			return raw[:i], raw[i+1:]
		}
	}
	return raw, "true" // a bare "flag" entry
}

// MonSender delivers flushed statistics records to the infra "moni" sink
// group; the dispatcher wiring (C7/C12) supplies the concrete
// implementation.
type MonSender func(ctx context.Context, recs []*record.Record) error

// Runtime is one sink group's per-replica worker.
type Runtime struct {
	cfg     InstanceConfig
	preTags []record.Field
	filter  evaluator.Expr
	filterExpect bool

	badCh chan<- Handle
	mon   MonSender

	mu      sync.Mutex
	primary Backend
	stats   *stats.Collector
	backupStats *stats.Collector

	stopOnce sync.Once
	stopCh   chan struct{}
	terminated bool
}

// New builds a Runtime wrapping primary. filter may be nil (no
// filtering; every record is accepted before dispatch-level routing
// applies, which is the dispatcher's own concern — a Runtime's filter
// mirrors spec.md's per-sink condition used during fanout, kept here too
// so a Runtime can be driven directly in tests without a dispatcher).
func New(cfg InstanceConfig, primary Backend, filter evaluator.Expr, filterExpect bool, badCh chan<- Handle, mon MonSender) *Runtime {
	r := &Runtime{
		cfg:          cfg,
		preTags:      ParseTags(cfg.TagStrings),
		filter:       filter,
		filterExpect: filterExpect,
		badCh:        badCh,
		mon:          mon,
		primary:      primary,
		stats:        stats.New("sink", cfg.Name, cfg.StatMax),
		backupStats:  stats.New("sink_backup", cfg.Name, cfg.StatMax),
		stopCh:       make(chan struct{}),
	}
	return r
}

// Name returns the runtime's replica-qualified sink name.
func (r *Runtime) Name() string { return r.cfg.Name }

// PreTags returns the runtime's pre-declared per-sink tag fields.
func (r *Runtime) PreTags() []record.Field { return r.preTags }

// Matches reports whether rec satisfies this runtime's configured
// filter. A nil filter always matches.
func (r *Runtime) Matches(rec *record.Record) bool {
	if r.filter == nil {
		return true
	}
	return evaluator.Evaluate(r.filter, rec.Getter()) == r.filterExpect
}

// HasFilter reports whether this runtime was configured with a filter
// condition — the dispatcher uses this to decide whether a rule group
// qualifies for the no-transform, no-filter fast path.
func (r *Runtime) HasFilter() bool { return r.filter != nil }

// IsStop reports whether Terminate has fired.
func (r *Runtime) IsStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

func (r *Runtime) key(dimension string) stats.Key {
	return stats.Key{Target: r.cfg.Name, RuleKey: r.cfg.Group, Dimension: dimension}
}

// handleWriteError applies spec.md §4.6/§7's error-policy dispatch for a
// single failed write: FixRetry swaps to a rescue sink and retries
// against it; Throw propagates; Tolerant/Ignore swallow; Terminate stops
// the runtime loop.
func (r *Runtime) handleWriteError(ctx context.Context, err error, retry func(Backend) error) error {
	switch ferr.Strategy(err, r.cfg.Mode) {
	case ferr.ModeFixRetry:
		if _, swapErr := r.SwapBackSink(ctx); swapErr != nil {
			return swapErr
		}
		r.mu.Lock()
		rescue := r.primary
		r.mu.Unlock()
		return retry(rescue)
	case ferr.ModeThrow:
		return err
	case ferr.ModeTolerant, ferr.ModeIgnore:
		return nil
	case ferr.ModeTerminate:
		r.mu.Lock()
		r.terminated = true
		r.mu.Unlock()
		r.stopOnce.Do(func() { close(r.stopCh) })
		return err
	default:
		return err
	}
}

// SendToSink writes one record through the primary, recording
// begin/end stats and applying the error policy on failure.
func (r *Runtime) SendToSink(ctx context.Context, rec *record.Record) error {
	r.stats.Begin(r.key("record"))
	r.mu.Lock()
	primary := r.primary
	r.mu.Unlock()

	if err := primary.SinkRecord(ctx, rec); err != nil {
		return r.handleWriteError(ctx, err, func(b Backend) error {
			if werr := b.SinkRecord(ctx, rec); werr != nil {
				return werr
			}
			r.stats.End(r.key("record"))
			return nil
		})
	}
	r.stats.End(r.key("record"))
	return nil
}

// SendPackageToSink writes a batch of SinkRecUnits through the primary's
// BatchSink path in one call, recording per-unit begin stats up front
// and end stats on overall success.
func (r *Runtime) SendPackageToSink(ctx context.Context, pkg record.SinkPackage) error {
	for range pkg {
		r.stats.Begin(r.key("package"))
	}
	recs := make([]fluxgate.Rec, len(pkg))
	for i, u := range pkg {
		recs[i] = u.Data
	}
	return r.sendBatch(ctx, recs, "package")
}

// SendFFVPackageToSink writes a batch of already-unwrapped records
// (no SinkRecUnit envelope) through the primary's batch path — the
// specialized path spec.md §4.6 names for flattened field-value records.
func (r *Runtime) SendFFVPackageToSink(ctx context.Context, recs []*record.Record) error {
	for range recs {
		r.stats.Begin(r.key("ffv"))
	}
	wrapped := make([]fluxgate.Rec, len(recs))
	for i, rec := range recs {
		wrapped[i] = rec
	}
	return r.sendBatch(ctx, wrapped, "ffv")
}

func (r *Runtime) sendBatch(ctx context.Context, recs []fluxgate.Rec, dimension string) error {
	r.mu.Lock()
	primary := r.primary
	r.mu.Unlock()

	bb, ok := primary.(fluxgate.BatchSink)
	var err error
	if ok {
		err = bb.SinkRecords(ctx, recs)
	} else {
		for _, rec := range recs {
			if werr := primary.SinkRecord(ctx, rec); werr != nil {
				err = werr
				break
			}
		}
	}
	if err != nil {
		return r.handleWriteError(ctx, err, func(b Backend) error {
			if bb, ok := b.(fluxgate.BatchSink); ok {
				return bb.SinkRecords(ctx, recs)
			}
			for _, rec := range recs {
				if werr := b.SinkRecord(ctx, rec); werr != nil {
					return werr
				}
			}
			return nil
		})
	}
	for range recs {
		r.stats.End(r.key(dimension))
	}
	return nil
}

// SendStrPackageToSink writes a batch of raw pre-serialized lines
// through the primary's RawSink path, one SinkString call per line.
func (r *Runtime) SendStrPackageToSink(ctx context.Context, lines []string) error {
	for range lines {
		r.stats.Begin(r.key("str"))
	}
	r.mu.Lock()
	primary := r.primary
	r.mu.Unlock()

	rs, ok := primary.(fluxgate.RawSink)
	if !ok {
		return ferr.Sinkf(ferr.ReasonSink, "sink %s does not accept raw strings", r.cfg.Name)
	}
	for _, line := range lines {
		if err := rs.SinkString(ctx, line); err != nil {
			return r.handleWriteError(ctx, err, func(b Backend) error {
				rb, ok := b.(fluxgate.RawSink)
				if !ok {
					return ferr.Sinkf(ferr.ReasonSink, "rescue sink does not accept raw strings")
				}
				return rb.SinkString(ctx, line)
			})
		}
		r.stats.End(r.key("str"))
	}
	return nil
}

// SwapBackSink constructs a rescue file path
// <rescue_root>/<group>/<name>-<UTC timestamp>.dat.lock, opens it, and
// atomically swaps it in as the primary, returning the displaced backend
// as a Handle for the maintainer. The displaced backend is also pushed
// onto badCh if one was configured.
func (r *Runtime) SwapBackSink(ctx context.Context) (Handle, error) {
	rescuePath := fmt.Sprintf("%s/%s", r.cfg.RescueRoot, r.cfg.Group)
	rotate := file.RotateConfig{
		ThresholdBytes:   r.cfg.RescueRotateBytes,
		CompressOnRotate: r.cfg.RescueCompress,
	}
	rescue, err := file.NewRescueSink(rescuePath, r.cfg.Name, rotate)
	if err != nil {
		return Handle{}, err
	}

	r.mu.Lock()
	old := r.primary
	r.primary = rescue
	r.mu.Unlock()

	handle := Handle{Name: r.cfg.Name, Backend: old}
	if r.badCh != nil {
		select {
		case r.badCh <- handle:
		default:
		}
	}
	return handle, nil
}

// RecoverSink restores a reconnected backend as primary if h.Name
// matches this runtime, stopping the rescue sink and returning true. A
// name mismatch returns false without consuming the handle.
func (r *Runtime) RecoverSink(ctx context.Context, h Handle) bool {
	if h.Name != r.cfg.Name {
		return false
	}
	r.mu.Lock()
	oldRescue := r.primary
	r.primary = h.Backend
	r.mu.Unlock()

	if rescue, ok := oldRescue.(*file.RescueSink); ok {
		rescue.Stop(ctx)
	} else {
		oldRescue.Close()
	}
	return true
}

// RunStatLoop flushes stats to the mon sink every StatIntervalMS until
// ctx is done or Terminate fires. Intended to run in its own goroutine.
func (r *Runtime) RunStatLoop(ctx context.Context) {
	if r.mon == nil {
		return
	}
	ticker := time.NewTicker(StatIntervalMS * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			rep := stats.MergeReports(r.stats.Collect(stats.All()), r.backupStats.Collect(stats.All()), r.cfg.StatMax)
			if len(rep.Rows) == 0 {
				continue
			}
			_ = r.mon(ctx, rep.ToRecords())
		}
	}
}

// Stop stops the stat loop and the current primary backend.
func (r *Runtime) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.mu.Lock()
	primary := r.primary
	r.mu.Unlock()
	return primary.Close()
}
