package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/user/fluxgate/internal/registry"
	"github.com/user/fluxgate/pkg/evaluator"
	"github.com/user/fluxgate/pkg/ferr"
	sourcefile "github.com/user/fluxgate/pkg/source/file"
)

// mergeParams layers entryParams over a connector's defaults: a key
// absent from defaults is always adopted (it is a kind-specific param
// the connector never claimed); a key present in defaults is only
// overridden when it is named in allowOverride, matching spec.md §6's
// "allow_override (list of keys)" description of the connector file
// shape. A nil connector (no "connect" reference) passes entryParams
// through unchanged.
func mergeParams(defaults map[string]string, allowOverride []string, entryParams map[string]string) map[string]string {
	allowed := make(map[string]bool, len(allowOverride))
	for _, k := range allowOverride {
		allowed[k] = true
	}
	out := make(map[string]string, len(defaults)+len(entryParams))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range entryParams {
		if _, isDefault := defaults[k]; !isDefault || allowed[k] {
			out[k] = v
		}
	}
	return out
}

// ResolveSources turns a SourcesFile into fully-resolved specs, ready
// for registry.BuildSource. A file source whose merged params carry
// "instances" > 1 is expanded into that many range-split specs via
// sourcefile.SplitRanges, each named "<key>-<idx>", mirroring how
// spec.md §4.10 describes a multi-instance file source being divided at
// config-resolution time rather than inside the factory itself (the
// factory only ever builds one already-ranged instance, the same
// division of labor tcpSourceFactory uses for its own instances param).
func ResolveSources(f *SourcesFile, connectors map[string]ConnectorEntry) ([]registry.ResolvedSpec, error) {
	var out []registry.ResolvedSpec
	for _, e := range f.Sources {
		if !e.enabled() {
			continue
		}
		kind := ""
		params := e.Params
		if e.Connect != "" {
			conn, ok := connectors[e.Connect]
			if !ok {
				return nil, fmt.Errorf("config: source %s: unknown connector %q", e.Key, e.Connect)
			}
			kind = conn.Type
			params = mergeParams(conn.Params, conn.AllowOverride, e.Params)
		}
		if kind == "" {
			return nil, fmt.Errorf("config: source %s: no connector resolved a kind", e.Key)
		}

		specs, err := expandSourceInstances(e.Key, kind, params, e.Tags)
		if err != nil {
			return nil, err
		}
		out = append(out, specs...)
	}
	return out, nil
}

func expandSourceInstances(key, kind string, params map[string]string, tags []string) ([]registry.ResolvedSpec, error) {
	if kind != "file" {
		return []registry.ResolvedSpec{{Kind: kind, Name: key, Params: params, TagStrings: tags}}, nil
	}

	n := 1
	if v := params["instances"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: source %s: bad instances %q: %w", key, v, err)
		}
		n = parsed
	}
	if n <= 1 {
		return []registry.ResolvedSpec{{Kind: kind, Name: key, Params: params, TagStrings: tags}}, nil
	}

	path := params["path"]
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: source %s: open %s: %w", key, path, err)
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: source %s: stat %s: %w", key, path, err)
	}
	ranges, err := sourcefile.SplitRanges(fh, info.Size(), n, key)
	if err != nil {
		return nil, fmt.Errorf("config: source %s: split ranges: %w", key, err)
	}

	specs := make([]registry.ResolvedSpec, 0, len(ranges))
	for _, r := range ranges {
		instParams := make(map[string]string, len(params))
		for k, v := range params {
			instParams[k] = v
		}
		instParams["range_start"] = strconv.FormatInt(r.Start, 10)
		instParams["range_end"] = strconv.FormatInt(r.End, 10)
		specs = append(specs, registry.ResolvedSpec{Kind: kind, Name: r.Name, Params: instParams, TagStrings: tags})
	}
	return specs, nil
}

// ResolvedGroup is one sink group's name plus its fully-resolved
// per-replica specs, ready for registry.BuildSink.
type ResolvedGroup struct {
	Name  string
	Specs []registry.ResolvedSpec
}

// ResolveSinkGroup turns a SinkGroupFile into a ResolvedGroup. rescueRoot
// and statMax are process-wide defaults applied to every sink in the
// group (spec.md §6 names no per-sink override for either). mode is the
// group's configured robustness mode (spec.md §7); sink entries do not
// carry their own mode in the route file shape, so one mode applies to
// the whole group.
func ResolveSinkGroup(f *SinkGroupFile, connectors map[string]ConnectorEntry, rescueRoot string, statMax int, mode ferr.Mode) (ResolvedGroup, error) {
	group := f.SinkGroup.Name
	replicaIdx := make(map[string]int)

	var specs []registry.ResolvedSpec
	for _, e := range f.SinkGroup.Sinks {
		kind := e.Use
		params := e.Params
		if e.Connect != "" {
			conn, ok := connectors[e.Connect]
			if !ok {
				return ResolvedGroup{}, fmt.Errorf("config: sink group %s: unknown connector %q", group, e.Connect)
			}
			kind = conn.Type
			params = mergeParams(conn.Params, conn.AllowOverride, e.Params)
		}
		if kind == "" {
			return ResolvedGroup{}, fmt.Errorf("config: sink group %s: sink entry has neither use nor connect", group)
		}

		name := e.Name
		if name == "" {
			name = kind
		}

		var filterExpr evaluator.Expr
		if e.Filter != "" {
			expr, err := evaluator.ParseFilterFile(e.Filter)
			if err != nil {
				return ResolvedGroup{}, fmt.Errorf("config: sink group %s: %w", group, err)
			}
			filterExpr = expr
		}

		rotateBytes, compress, err := rescueRotateParams(name, params)
		if err != nil {
			return ResolvedGroup{}, err
		}

		instSpecs, err := expandSinkReplicas(name, kind, params, e.Tags, replicaIdx)
		if err != nil {
			return ResolvedGroup{}, err
		}
		for i := range instSpecs {
			instSpecs[i].Group = group
			instSpecs[i].Filter = filterExpr
			instSpecs[i].FilterExpect = e.filterExpect()
			instSpecs[i].Mode = mode
			instSpecs[i].RescueRoot = rescueRoot
			instSpecs[i].RescueRotateBytes = rotateBytes
			instSpecs[i].RescueCompress = compress
			instSpecs[i].StatMax = statMax
		}
		specs = append(specs, instSpecs...)
	}

	return ResolvedGroup{Name: group, Specs: specs}, nil
}

// rescueRotateParams reads a sink entry's optional "rescue_rotate_bytes"
// (size-triggered rotation threshold, 0/absent disables rotation) and
// "rescue_compress" (zstd-compress a rotated-off rescue file) params, so
// a sink route file can actually exercise pkg/sink/file's rotation path
// instead of it sitting permanently disabled behind a zero RotateConfig.
func rescueRotateParams(name string, params map[string]string) (int64, bool, error) {
	var rotateBytes int64
	if v := params["rescue_rotate_bytes"]; v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("config: sink %s: bad rescue_rotate_bytes %q: %w", name, v, err)
		}
		rotateBytes = parsed
	}
	compress := params["rescue_compress"] == "true"
	return rotateBytes, compress, nil
}

// expandSinkReplicas honors a sink entry's "replicas" param (consistent
// hashing by pkg_id across same-named sinks, per spec.md §5) by
// producing N specs named "<name>-<idx>"; a bare name with no replicas
// param stays unsuffixed, matching pkg/sink/dispatcher's baseName
// convention that treats a trailing "-<digits>" as a replica index.
func expandSinkReplicas(name, kind string, params map[string]string, tags []string, replicaIdx map[string]int) ([]registry.ResolvedSpec, error) {
	n := 1
	if v := params["replicas"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: sink %s: bad replicas %q: %w", name, v, err)
		}
		n = parsed
	}
	if n <= 1 {
		return []registry.ResolvedSpec{{Kind: kind, Name: name, Params: params, TagStrings: tags}}, nil
	}

	specs := make([]registry.ResolvedSpec, 0, n)
	for i := 0; i < n; i++ {
		idx := replicaIdx[name]
		replicaIdx[name]++
		instParams := make(map[string]string, len(params))
		for k, v := range params {
			instParams[k] = v
		}
		specs = append(specs, registry.ResolvedSpec{
			Kind:       kind,
			Name:       fmt.Sprintf("%s-%d", name, idx),
			Params:     instParams,
			TagStrings: tags,
		})
	}
	return specs, nil
}
