// Package dispatcher implements the sink group router from spec.md
// §4.7: one dispatcher per sink group, bucketing a SinkPackage by parser
// rule, applying an optional OML model per rule, evaluating a per-sink
// filter matrix, and fanning out with minimal cloning — the last sink
// matched for a record receives the original, every other match gets a
// clone. Grounded on the teacher's pkg/transformer/transformer.go Chain
// (sequential transform application) and pkg/engine/engine.go's
// writeBatchToSink fanout-with-clone-on-non-last logic, re-targeted at
// this package's ProcMeta/filter-matrix algorithm instead of a fixed CDC
// transform chain.
package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/fluxgate/pkg/oml"
	"github.com/user/fluxgate/pkg/record"
	"github.com/user/fluxgate/pkg/sink/runtime"
)

// InfraSinks names the five fixed single-replica bookkeeping sinks
// spec.md §9 describes (default/miss/residue/monitor/error); any may be
// nil if the deployment does not wire one.
type InfraSinks struct {
	Default, Miss, Residue, Monitor, Error *runtime.Runtime
}

// Dispatcher routes one sink group's packages across its configured
// sink replicas.
type Dispatcher struct {
	group      string
	byBaseName map[string][]*runtime.Runtime
	baseOrder  []string
	models     map[string]oml.Model // keyed by parser rule (wpl_path); "" is the null/no-rule bucket
}

// New builds a Dispatcher for group, fanning out across sinks (which may
// include multiple replicas per base sink name, distinguished by a
// "-<index>" suffix) and applying models by rule.
func New(group string, sinks []*runtime.Runtime, models map[string]oml.Model) *Dispatcher {
	d := &Dispatcher{group: group, byBaseName: make(map[string][]*runtime.Runtime), models: models}
	for _, rt := range sinks {
		base := baseName(rt.Name())
		if _, ok := d.byBaseName[base]; !ok {
			d.baseOrder = append(d.baseOrder, base)
		}
		d.byBaseName[base] = append(d.byBaseName[base], rt)
	}
	return d
}

// baseName strips a trailing "-<digits>" replica suffix from a
// runtime's replica-qualified name.
func baseName(name string) string {
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 || idx == len(name)-1 {
		return name
	}
	for _, c := range name[idx+1:] {
		if c < '0' || c > '9' {
			return name
		}
	}
	return name[:idx]
}

func (d *Dispatcher) anyFilter() bool {
	for _, base := range d.baseOrder {
		for _, rt := range d.byBaseName[base] {
			if rt.HasFilter() {
				return true
			}
		}
	}
	return false
}

// selectReplica hash-routes pkgID over the ready (not stopped) replicas
// sharing base, returning nil if none are ready — consistent hashing
// by pkg_id % ready_replica_count, per spec.md §3's sharing invariant.
func (d *Dispatcher) selectReplica(base string, pkgID record.PkgID) *runtime.Runtime {
	replicas := d.byBaseName[base]
	ready := make([]*runtime.Runtime, 0, len(replicas))
	for _, rt := range replicas {
		if !rt.IsStop() {
			ready = append(ready, rt)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	return ready[uint64(pkgID)%uint64(len(ready))]
}

func ruleKey(meta record.ProcMeta) string {
	if rule, ok := meta.IsRule(); ok {
		return rule
	}
	return ""
}

// GroupSinkPackage implements the bucket-by-rule / fast-path /
// per-record-transform / per-sink-filter-matrix / move-last-clone-rest
// algorithm of spec.md §4.7, then forwards every sink's accumulated
// output as one SinkPackage via SendPackageToSink.
func (d *Dispatcher) GroupSinkPackage(ctx context.Context, pkg record.SinkPackage, infra InfraSinks) error {
	buckets := make(map[string][]record.SinkRecUnit)
	var order []string
	for _, u := range pkg {
		key := ruleKey(u.Meta)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], u)
	}

	outputs := make(map[*runtime.Runtime][]record.SinkRecUnit)
	for _, key := range order {
		d.procBatch(key, buckets[key], infra, outputs)
	}

	for rt, units := range outputs {
		out := make(record.SinkPackage, len(units))
		copy(out, units)
		if err := rt.SendPackageToSink(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) procBatch(rule string, units []record.SinkRecUnit, infra InfraSinks, outputs map[*runtime.Runtime][]record.SinkRecUnit) {
	model := d.models[rule]
	if model == nil && !d.anyFilter() {
		d.fastPath(units, outputs)
		return
	}
	for _, u := range units {
		d.transformAndDistribute(u, rule, model, infra, outputs)
	}
}

// fastPath replicates each unit's shared record to every configured
// sink's hash-selected replica, cloning once per sink only when that
// sink declares pre_tags.
func (d *Dispatcher) fastPath(units []record.SinkRecUnit, outputs map[*runtime.Runtime][]record.SinkRecUnit) {
	for _, u := range units {
		for _, base := range d.baseOrder {
			rt := d.selectReplica(base, u.PkgID)
			if rt == nil {
				continue
			}
			data := u.Data
			if tags := rt.PreTags(); len(tags) > 0 {
				data = data.Clone()
				for _, f := range tags {
					data.Append(f)
				}
			}
			outputs[rt] = append(outputs[rt], record.SinkRecUnit{PkgID: u.PkgID, Meta: u.Meta, Data: data})
		}
	}
}

func (d *Dispatcher) transformAndDistribute(u record.SinkRecUnit, rule string, model oml.Model, infra InfraSinks, outputs map[*runtime.Runtime][]record.SinkRecUnit) {
	out := u.Data
	var err error
	if model != nil {
		out, err = model.Apply(u.Data)
	}
	if err != nil || out == nil || out.Len() == 0 {
		d.routeToError(u, rule, model, err, infra, outputs)
		return
	}

	var matched []*runtime.Runtime
	for _, base := range d.baseOrder {
		rt := d.selectReplica(base, u.PkgID)
		if rt != nil && rt.Matches(out) {
			matched = append(matched, rt)
		}
	}

	for i, rt := range matched {
		last := i == len(matched)-1
		data := out
		if !last {
			data = out.Clone()
		}
		// When last, data is the moved original: no other consumer holds
		// it, so appending pre_tags in place is safe.
		for _, f := range rt.PreTags() {
			data.Append(f)
		}
		outputs[rt] = append(outputs[rt], record.SinkRecUnit{PkgID: u.PkgID, Meta: u.Meta, Data: data})
	}
}

func (d *Dispatcher) routeToError(u record.SinkRecUnit, rule string, model oml.Model, transformErr error, infra InfraSinks, outputs map[*runtime.Runtime][]record.SinkRecUnit) {
	if infra.Error == nil {
		return
	}
	diag := u.Data.Clone()
	errKind := "empty_output"
	if transformErr != nil {
		errKind = "transform_error"
	}
	modelName := "none"
	if model != nil {
		modelName = fmt.Sprintf("%T", model)
	}
	diag.AppendNamed("__err_kind", record.Chars(errKind))
	diag.AppendNamed("__wpl_rule", record.Chars(rule))
	diag.AppendNamed("__sink_group", record.Chars(d.group))
	diag.AppendNamed("__oml_model", record.Chars(modelName))
	diag.AppendNamed("__field_count", record.Digit(int64(u.Data.Len())))
	hint := "oml transform produced no output"
	if transformErr != nil {
		hint = transformErr.Error()
	}
	diag.AppendNamed("__hint", record.Chars(hint))

	outputs[infra.Error] = append(outputs[infra.Error], record.SinkRecUnit{PkgID: u.PkgID, Meta: u.Meta, Data: diag})
}

// SendDirect implements the direct (non-batch) path for infra groups:
// a single record arrives, and the dispatcher hashes pkgID over ready
// replicas sharing each configured sink base name to pick exactly one
// replica per name, per spec.md §4.7.
func (d *Dispatcher) SendDirect(ctx context.Context, rec *record.Record, pkgID record.PkgID) error {
	for _, base := range d.baseOrder {
		rt := d.selectReplica(base, pkgID)
		if rt == nil {
			continue
		}
		if err := rt.SendToSink(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// ProcFix delegates a recovered backend handle to whichever sink
// runtime owns its name, per spec.md §4.7's proc_fix.
func (d *Dispatcher) ProcFix(ctx context.Context, h runtime.Handle) bool {
	for _, base := range d.baseOrder {
		for _, rt := range d.byBaseName[base] {
			if rt.RecoverSink(ctx, h) {
				return true
			}
		}
	}
	return false
}

// ProcEnd stops every sink runtime in the group.
func (d *Dispatcher) ProcEnd(ctx context.Context) error {
	var first error
	for _, base := range d.baseOrder {
		for _, rt := range d.byBaseName[base] {
			if err := rt.Stop(ctx); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
