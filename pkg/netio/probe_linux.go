//go:build linux

package netio

import (
	"net"

	"golang.org/x/sys/unix"
)

// LinuxTCPInfoProbe reads the kernel's TCP_INFO socket option to report
// the not-yet-sent send-queue bytes (tcpi_notsent_bytes) against
// SO_SNDBUF capacity, a
// best-effort OS probe as spec.md §4.4 describes. Returns ok=false for
// any non-TCP conn or on syscall failure.
func LinuxTCPInfoProbe(conn net.Conn) (occupancy, capacity int, ok bool) {
	tc, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return 0, 0, false
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}
	var info *unix.TCPInfo
	var sndbuf int
	cerr := raw.Control(func(fd uintptr) {
		if ti, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO); err == nil {
			info = ti
		}
		if sb, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF); err == nil {
			sndbuf = sb
		}
	})
	if cerr != nil || info == nil || sndbuf <= 0 {
		return 0, 0, false
	}
	return int(info.Notsent_bytes), sndbuf, true
}

// DefaultProbe is the best-effort send-queue probe wired into sink
// backends that don't configure their own: on Linux it's backed by
// TCP_INFO; on other platforms (probe_other.go) it always reports
// ok=false, which callers treat as "backoff is a no-op, drain returns
// immediately" per spec.md §4.4.
var DefaultProbe SendQueueProbe = LinuxTCPInfoProbe
