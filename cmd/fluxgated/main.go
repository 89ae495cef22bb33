// Command fluxgated is a minimal wiring binary, not a CLI tool (no
// cobra, no pretty-printing, no project init/check): it loads the
// explicit config file list named on the flags below, builds every
// resolved source and sink through internal/registry, wires each sink
// group's dispatcher and maintainer loop, and forwards source batches
// to their sink group until an interrupt signal arrives. Flag parsing
// plus environment-variable fallback follows the teacher's
// cmd/hermod/main.go convention.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/internal/config"
	"github.com/user/fluxgate/internal/logging"
	"github.com/user/fluxgate/internal/registry" // its init() registers the built-in source/sink kinds
	"github.com/user/fluxgate/internal/supervisor"
	"github.com/user/fluxgate/internal/telemetry"
	"github.com/user/fluxgate/pkg/ferr"
	"github.com/user/fluxgate/pkg/record"
	"github.com/user/fluxgate/pkg/sink/dispatcher"
	"github.com/user/fluxgate/pkg/sink/runtime"

	"github.com/user/fluxgate/pkg/maintainer"
)

func csvFlag(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	sourcesPath := flag.String("sources", "", "path to a wpsrc.toml-shaped source list")
	sinkGroups := flag.String("sink-groups", "", "comma-separated sink route file paths")
	connectors := flag.String("connectors", "", "comma-separated connector default files")
	rescueRoot := flag.String("rescue-root", "./rescue", "directory rescue files are written under")
	statMax := flag.Int("stat-max", 0, "per-sink stats cache ceiling (0 uses pkg/stats's floor)")
	mode := flag.String("mode", "fix_retry", "robustness mode: fix_retry|throw|tolerant|ignore|terminate")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	if v := os.Getenv("FLUXGATE_SOURCES"); v != "" && *sourcesPath == "" {
		*sourcesPath = v
	}
	if v := os.Getenv("FLUXGATE_SINK_GROUPS"); v != "" && *sinkGroups == "" {
		*sinkGroups = v
	}
	if v := os.Getenv("FLUXGATE_CONNECTORS"); v != "" && *connectors == "" {
		*connectors = v
	}
	if v := os.Getenv("FLUXGATE_RESCUE_ROOT"); v != "" {
		*rescueRoot = v
	}
	if v := os.Getenv("FLUXGATE_LOG_LEVEL"); v != "" {
		*logLevel = v
	}
	if v := os.Getenv("FLUXGATE_METRICS_ADDR"); v != "" && *metricsAddr == "" {
		*metricsAddr = v
	}

	log := logging.New(os.Stdout, *logLevel)
	metrics := telemetry.New(prometheus.DefaultRegisterer)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server exited", "err", err)
			}
		}()
	}

	if err := run(log, metrics, *sourcesPath, csvFlag(*sinkGroups), csvFlag(*connectors), *rescueRoot, *statMax, parseMode(*mode)); err != nil {
		log.Error("fluxgated exiting", "err", err)
		os.Exit(1)
	}
}

func parseMode(s string) ferr.Mode {
	switch s {
	case "throw":
		return ferr.ModeThrow
	case "tolerant":
		return ferr.ModeTolerant
	case "ignore":
		return ferr.ModeIgnore
	case "terminate":
		return ferr.ModeTerminate
	default:
		return ferr.ModeFixRetry
	}
}

// sourceTask adapts a fluxgate.Source into the supervisor's Stoppable
// contract: Go has no per-task native lifecycle beyond the interfaces a
// type already implements, so this one small wrapper is how a Source
// (Receive/Close only) becomes a Task (Stop/IsStop).
type sourceTask struct {
	src     fluxgate.Source
	stopped bool
}

func (t *sourceTask) Stop(ctx context.Context) error {
	t.stopped = true
	return t.src.Close()
}

func (t *sourceTask) IsStop() bool { return t.stopped }

// groupRuntime bundles one sink group's built dispatcher with the
// maintenance channels its runtimes were constructed with, so the
// per-group forwarding and fix-consumer goroutines can reach it.
type groupRuntime struct {
	name       string
	dispatcher *dispatcher.Dispatcher
	badCh      chan runtime.Handle
	fixCh      chan runtime.Handle
}

func run(log fluxgate.Logger, metrics *telemetry.Metrics, sourcesPath string, sinkGroupPaths, connectorPaths []string, rescueRoot string, statMax int, mode ferr.Mode) error {
	if sourcesPath == "" || len(sinkGroupPaths) == 0 {
		return fmt.Errorf("fluxgated: -sources and -sink-groups are required")
	}

	connectorSet, err := config.LoadConnectors(connectorPaths)
	if err != nil {
		return err
	}

	sourcesFile, err := config.LoadSourcesFile(sourcesPath)
	if err != nil {
		return err
	}
	sourceSpecs, err := config.ResolveSources(sourcesFile, connectorSet)
	if err != nil {
		return err
	}

	sup := supervisor.New(16)
	buildCtx := registry.BuildContext{Log: log}

	groups := make(map[string]*groupRuntime)
	var maintainerTriplets []maintainer.Triplet

	for _, gp := range sinkGroupPaths {
		gf, err := config.LoadSinkGroupFile(gp)
		if err != nil {
			return err
		}
		resolved, err := config.ResolveSinkGroup(gf, connectorSet, rescueRoot, statMax, mode)
		if err != nil {
			return err
		}

		badCh := make(chan runtime.Handle, 16)
		fixCh := make(chan runtime.Handle, 16)

		var runtimes []*runtime.Runtime
		for _, spec := range resolved.Specs {
			handle, err := registry.BuildSink(spec, buildCtx)
			if err != nil {
				return fmt.Errorf("fluxgated: build sink %s/%s: %w", resolved.Name, spec.Name, err)
			}
			cfg := runtime.InstanceConfig{
				Group:             spec.Group,
				Name:              spec.Name,
				Mode:              spec.Mode,
				RescueRoot:        spec.RescueRoot,
				RescueRotateBytes: spec.RescueRotateBytes,
				RescueCompress:    spec.RescueCompress,
				TagStrings:        spec.TagStrings,
				StatMax:           spec.StatMax,
			}
			rt := runtime.New(cfg, handle.Backend, spec.Filter, spec.FilterExpect, badCh, nil)
			runtimes = append(runtimes, rt)
			go rt.RunStatLoop(context.Background())
		}

		d := dispatcher.New(resolved.Name, runtimes, nil)
		gr := &groupRuntime{name: resolved.Name, dispatcher: d, badCh: badCh, fixCh: fixCh}
		groups[resolved.Name] = gr
		sup.Register("dispatcher:"+resolved.Name, dispatcherTask{d})

		maintainerTriplets = append(maintainerTriplets, maintainer.Triplet{
			Name:  resolved.Name,
			BadRx: badCh,
			FixTx: fixCh,
			BadTx: badCh,
		})
	}

	maint := maintainer.New(maintainerTriplets)
	sup.Register("maintainer", maint)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go maint.Run(ctx)
	for _, gr := range groups {
		go consumeFixes(ctx, gr)
	}

	targetGroup := firstGroupName(groups)
	for i, spec := range sourceSpecs {
		src, err := registry.BuildSource(spec, buildCtx)
		if err != nil {
			return fmt.Errorf("fluxgated: build source %s: %w", spec.Name, err)
		}
		sup.Register(fmt.Sprintf("source:%s:%d", spec.Name, i), &sourceTask{src: src})

		go forwardSource(ctx, log, metrics, spec.Name, src, groups[targetGroup])
	}

	<-ctx.Done()
	log.Info("fluxgated shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return sup.StopAll(stopCtx)
}

func firstGroupName(groups map[string]*groupRuntime) string {
	for name := range groups {
		return name
	}
	return ""
}

// dispatcherTask adapts a *dispatcher.Dispatcher into Stoppable via its
// ProcEnd operation, which stops every sink runtime the group owns.
type dispatcherTask struct{ d *dispatcher.Dispatcher }

func (t dispatcherTask) Stop(ctx context.Context) error { return t.d.ProcEnd(ctx) }
func (t dispatcherTask) IsStop() bool                   { return false }

// consumeFixes drains a group's fix channel, handing every recovered
// backend to the owning dispatcher's ProcFix, per spec.md §4.7/§4.11's
// maintainer-to-dispatcher handoff.
func consumeFixes(ctx context.Context, gr *groupRuntime) {
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-gr.fixCh:
			gr.dispatcher.ProcFix(ctx, h)
		}
	}
}

// forwardSource pulls batches from src and turns each event into a
// record with a "payload" field carrying the raw, already-framed
// payload (no OML/parse stage is in scope) followed by one chars field
// per event tag, wrapped in a null-rule
// SinkRecUnit and handed to the target group's dispatcher.
func forwardSource(ctx context.Context, log fluxgate.Logger, metrics *telemetry.Metrics, name string, src fluxgate.Source, gr *groupRuntime) {
	var pkgID uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		batch, err := src.Receive(ctx)
		if err != nil {
			log.Warn("source receive failed", "source", name, "err", err)
			return
		}
		if len(batch) == 0 {
			continue
		}
		metrics.RecordsRead.WithLabelValues(name).Add(float64(len(batch)))
		pkg := make(record.SinkPackage, 0, len(batch))
		for _, ev := range batch {
			rec := record.New(1 + len(ev.Tags))
			rec.AppendNamed("payload", record.Chars(string(ev.Payload)))
			for k, v := range ev.Tags {
				rec.AppendNamed(k, record.Chars(v))
			}
			pkgID++
			pkg = append(pkg, record.SinkRecUnit{PkgID: record.PkgID(pkgID), Meta: record.Null(), Data: rec})
		}
		if gr == nil {
			continue
		}
		if err := gr.dispatcher.GroupSinkPackage(ctx, pkg, dispatcher.InfraSinks{}); err != nil {
			log.Warn("dispatch failed", "group", gr.name, "err", err)
			continue
		}
		metrics.RecordsDispatched.WithLabelValues(gr.name, "*").Add(float64(len(pkg)))
	}
}
