//go:build linux

package telnet

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bauer-group/hargassner/log2"
)

// setKeepaliveProbes tunes probe interval and count. SetKeepAlivePeriod
// already covered TCP_KEEPIDLE.
func setKeepaliveProbes(tcp *net.TCPConn, log *log2.Log) {
	raw, err := tcp.SyscallConn()
	if err != nil {
		log.Debugf("keepalive rawconn err=%v", err)
		return
	}
	cerr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(keepaliveInterval/time.Second)); err != nil {
			log.Debugf("keepalive intvl err=%v", err)
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepaliveCount); err != nil {
			log.Debugf("keepalive cnt err=%v", err)
		}
	})
	if cerr != nil {
		log.Debugf("keepalive control err=%v", cerr)
	}
}
