package registry

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/ferr"
	"github.com/user/fluxgate/pkg/netio"
	"github.com/user/fluxgate/pkg/sink/file"
	"github.com/user/fluxgate/pkg/sink/runtime"
	sinksyslog "github.com/user/fluxgate/pkg/sink/syslog"
	sinktcp "github.com/user/fluxgate/pkg/sink/tcp"
	sourcefile "github.com/user/fluxgate/pkg/source/file"
	"github.com/user/fluxgate/pkg/source/syslog"
	sourcetcp "github.com/user/fluxgate/pkg/source/tcp"
	"github.com/user/fluxgate/pkg/framing"
)

func init() {
	RegisterSink("blackhole", blackholeFactory{})
	RegisterSink("file", fileSinkFactory{})
	RegisterSink("test_rescue", testRescueFactory{})
	RegisterSink("syslog", syslogSinkFactory{})
	RegisterSink("tcp", tcpSinkFactory{})

	RegisterSource("file", fileSourceFactory{})
	RegisterSource("syslog", syslogSourceFactory{})
	RegisterSource("tcp", tcpSourceFactory{})
}

func toHandle(name string, b runtime.Backend) runtime.Handle {
	return runtime.Handle{Name: name, Backend: b}
}

// --- blackhole --------------------------------------------------------

// blackholeSink discards every record; used for throughput testing and
// as the zero-configuration default infra sink.
type blackholeSink struct{}

func (blackholeSink) SinkRecord(ctx context.Context, rec fluxgate.Rec) error  { return nil }
func (blackholeSink) SinkRecords(ctx context.Context, recs []fluxgate.Rec) error { return nil }
func (blackholeSink) Ping(ctx context.Context) error                         { return nil }
func (blackholeSink) Close() error                                           { return nil }
func (blackholeSink) Reconnect(ctx context.Context) error                    { return nil }

type blackholeFactory struct{}

func (blackholeFactory) ValidateSpec(spec ResolvedSpec) error { return nil }
func (blackholeFactory) Build(spec ResolvedSpec, ctx BuildContext) (runtime.Handle, error) {
	return toHandle(spec.Name, blackholeSink{}), nil
}

// --- file sink ----------------------------------------------------------

type fileSinkFactory struct{}

func (fileSinkFactory) ValidateSpec(spec ResolvedSpec) error {
	if spec.Params["path"] == "" {
		return ferr.Sinkf(ferr.ReasonConfig, "file sink %s: missing path", spec.Name)
	}
	return nil
}

func (fileSinkFactory) Build(spec ResolvedSpec, ctx BuildContext) (runtime.Handle, error) {
	s, err := file.New(spec.Params["path"], nil)
	if err != nil {
		return runtime.Handle{}, err
	}
	return toHandle(spec.Name, s), nil
}

// --- test_rescue sink -----------------------------------------------------

// HealthController flips between ready and failed on a fixed schedule,
// so integration tests can drive the maintainer's failover/recovery loop
// (spec scenario S6) without real backend flakiness.
type HealthController struct {
	mu    sync.Mutex
	ready bool

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHealthController starts a controller that begins ready and flips
// its state every interval.
func NewHealthController(interval time.Duration) *HealthController {
	h := &HealthController{ready: true, interval: interval, stopCh: make(chan struct{})}
	go h.run()
	return h
}

func (h *HealthController) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.mu.Lock()
			h.ready = !h.ready
			h.mu.Unlock()
		}
	}
}

// Ready reports the controller's current simulated health state.
func (h *HealthController) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Stop halts the toggle schedule.
func (h *HealthController) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// testRescueSink is a file.Sink whose Ping/Reconnect outcomes are driven
// by an injected HealthController rather than real I/O health.
type testRescueSink struct {
	*file.Sink
	health *HealthController
}

func (s *testRescueSink) Ping(ctx context.Context) error {
	if !s.health.Ready() {
		return ferr.Sinkf(ferr.ReasonDisconnect, "test_rescue sink simulated failure")
	}
	return s.Sink.Ping(ctx)
}

func (s *testRescueSink) Reconnect(ctx context.Context) error {
	if !s.health.Ready() {
		return ferr.Sinkf(ferr.ReasonDisconnect, "test_rescue sink still unhealthy")
	}
	return nil
}

type testRescueFactory struct{}

func (testRescueFactory) ValidateSpec(spec ResolvedSpec) error {
	if spec.Params["path"] == "" {
		return ferr.Sinkf(ferr.ReasonConfig, "test_rescue sink %s: missing path", spec.Name)
	}
	return nil
}

func (testRescueFactory) Build(spec ResolvedSpec, ctx BuildContext) (runtime.Handle, error) {
	s, err := file.New(spec.Params["path"], nil)
	if err != nil {
		return runtime.Handle{}, err
	}
	interval := 2 * time.Second
	if v := spec.Params["toggle_interval"]; v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}
	return toHandle(spec.Name, &testRescueSink{Sink: s, health: NewHealthController(interval)}), nil
}

// --- syslog sink --------------------------------------------------------

type syslogSinkFactory struct{}

func (syslogSinkFactory) ValidateSpec(spec ResolvedSpec) error {
	if spec.Params["addr"] == "" {
		return ferr.Sinkf(ferr.ReasonConfig, "syslog sink %s: missing addr", spec.Name)
	}
	return nil
}

func (syslogSinkFactory) Build(spec ResolvedSpec, ctx BuildContext) (runtime.Handle, error) {
	udp := spec.Params["proto"] != "tcp"
	facility := atoiDefault(spec.Params["facility"], 1)
	severity := atoiDefault(spec.Params["severity"], 6)
	s, err := sinksyslog.New(spec.Params["addr"], udp, facility, severity, nil, netio.BackoffPolicy{})
	if err != nil {
		return runtime.Handle{}, err
	}
	return toHandle(spec.Name, s), nil
}

// --- tcp sink -------------------------------------------------------------

type tcpSinkFactory struct{}

func (tcpSinkFactory) ValidateSpec(spec ResolvedSpec) error {
	if spec.Params["addr"] == "" {
		return ferr.Sinkf(ferr.ReasonConfig, "tcp sink %s: missing addr", spec.Name)
	}
	return nil
}

func (tcpSinkFactory) Build(spec ResolvedSpec, ctx BuildContext) (runtime.Handle, error) {
	rps := float64(0)
	if v := spec.Params["rate_limit_rps"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rps = f
		}
	}
	s, err := sinktcp.New(spec.Params["addr"], nil, netio.BackoffPolicy{}, rps)
	if err != nil {
		return runtime.Handle{}, err
	}
	return toHandle(spec.Name, s), nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// --- file source ----------------------------------------------------------

type fileSourceFactory struct{}

func (fileSourceFactory) ValidateSpec(spec ResolvedSpec) error {
	if spec.Params["path"] == "" {
		return ferr.Sinkf(ferr.ReasonConfig, "file source %s: missing path", spec.Name)
	}
	return nil
}

func (fileSourceFactory) Build(spec ResolvedSpec, ctx BuildContext) (fluxgate.Source, error) {
	path := spec.Params["path"]
	var start, end int64
	if v := spec.Params["range_start"]; v != "" {
		start, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := spec.Params["range_end"]; v != "" {
		end, _ = strconv.ParseInt(v, 10, 64)
	} else if info, err := statSize(path); err == nil {
		end = info
	}
	enc := sourcefile.Text
	switch spec.Params["encoding"] {
	case "base64":
		enc = sourcefile.Base64
	case "hex":
		enc = sourcefile.Hex
	}
	return sourcefile.New(spec.Name, path, start, end, enc, tagMap(spec.TagStrings))
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func tagMap(tagStrings []string) map[string]string {
	if len(tagStrings) == 0 {
		return nil
	}
	out := make(map[string]string, len(tagStrings))
	for _, raw := range tagStrings {
		for i := 0; i < len(raw); i++ {
			if raw[i] == ':' || raw[i] == '=' {
				out[raw[:i]] = raw[i+1:]
				goto next
			}
		}
		out[raw] = "true"
	next:
	}
	return out
}

// --- syslog source --------------------------------------------------------

type syslogSourceFactory struct{}

func (syslogSourceFactory) ValidateSpec(spec ResolvedSpec) error {
	if spec.Params["bind"] == "" {
		return ferr.Sinkf(ferr.ReasonConfig, "syslog source %s: missing bind", spec.Name)
	}
	return nil
}

func headerMode(s string) syslog.HeaderMode {
	switch s {
	case "strip":
		return syslog.Strip
	case "parse":
		return syslog.Parse
	default:
		return syslog.Keep
	}
}

func (syslogSourceFactory) Build(spec ResolvedSpec, ctx BuildContext) (fluxgate.Source, error) {
	mode := headerMode(spec.Params["header_mode"])
	if spec.Params["proto"] == "tcp" {
		ln, err := net.Listen("tcp", spec.Params["bind"])
		if err != nil {
			return nil, ferr.Sourcef(ferr.ReasonSystem, "syslog source listen %s: %v", spec.Params["bind"], err)
		}
		acc := sourcetcp.NewAcceptor(ln, 1, framing.ModeLine, ctx.Log)
		reader := sourcetcp.NewReader(spec.Name, tagMap(spec.TagStrings), acc.Registry(), acc.RegistrationChannel(0), 200*time.Millisecond)
		go acc.Run(context.Background())
		return syslog.NewTCPSource(reader, mode), nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", spec.Params["bind"])
	if err != nil {
		return nil, ferr.Sourcef(ferr.ReasonConfig, "syslog source bind %s: %v", spec.Params["bind"], err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, ferr.Sourcef(ferr.ReasonSystem, "syslog source listen %s: %v", spec.Params["bind"], err)
	}
	return syslog.NewUDPSource(spec.Name, conn, mode, tagMap(spec.TagStrings)), nil
}

// --- tcp source -------------------------------------------------------------

// tcpListeners caches one Acceptor per bind address so a multi-instance
// tcp source family (N readers sharing one listener, per spec.md §4.8)
// can be built across N separate Build calls, one per instance index.
var (
	tcpListenersMu sync.Mutex
	tcpListeners   = map[string]*sourcetcp.Acceptor{}
)

type tcpSourceFactory struct{}

func (tcpSourceFactory) ValidateSpec(spec ResolvedSpec) error {
	if spec.Params["bind"] == "" {
		return ferr.Sinkf(ferr.ReasonConfig, "tcp source %s: missing bind", spec.Name)
	}
	return nil
}

func (tcpSourceFactory) Build(spec ResolvedSpec, ctx BuildContext) (fluxgate.Source, error) {
	bind := spec.Params["bind"]
	instances := atoiDefault(spec.Params["instances"], 1)
	idx := atoiDefault(spec.Params["instance_index"], 0)
	mode := framing.ModeAuto
	switch spec.Params["framing"] {
	case "line":
		mode = framing.ModeLine
	case "len":
		mode = framing.ModeLen
	}

	tcpListenersMu.Lock()
	acc, ok := tcpListeners[bind]
	if !ok {
		ln, err := net.Listen("tcp", bind)
		if err != nil {
			tcpListenersMu.Unlock()
			return nil, ferr.Sourcef(ferr.ReasonSystem, "tcp source listen %s: %v", bind, err)
		}
		acc = sourcetcp.NewAcceptor(ln, instances, mode, ctx.Log)
		tcpListeners[bind] = acc
		go acc.Run(context.Background())
	}
	tcpListenersMu.Unlock()

	if idx >= acc.Instances() {
		idx = idx % acc.Instances()
	}
	reader := sourcetcp.NewReader(spec.Name, tagMap(spec.TagStrings), acc.Registry(), acc.RegistrationChannel(idx), 200*time.Millisecond)
	return reader, nil
}
