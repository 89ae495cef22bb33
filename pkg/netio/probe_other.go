//go:build !linux

package netio

import "net"

// DefaultProbe has no kernel send-queue probe available outside Linux;
// it always reports ok=false, matching spec.md §4.4's "falls back to
// immediate return when unsupported".
var DefaultProbe SendQueueProbe = func(conn net.Conn) (occupancy, capacity int, ok bool) {
	return 0, 0, false
}
