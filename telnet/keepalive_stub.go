//go:build !linux

package telnet

import (
	"net"

	"github.com/bauer-group/hargassner/log2"
)

// Probe interval/count knobs are linux-only; elsewhere the
// SetKeepAlivePeriod call in tuneKeepalive is all we get.
func setKeepaliveProbes(_ *net.TCPConn, _ *log2.Log) {}
