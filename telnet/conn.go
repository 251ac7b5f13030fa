package telnet

import (
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/bauer-group/hargassner/log2"
)

// TCP keepalive tuning. The protocol has no application handshake, so
// half-open connections produce nothing but silence; keepalive probes
// put an upper bound on how long the kernel believes such a socket.
const (
	keepaliveIdle     = 30 * time.Second
	keepaliveInterval = 10 * time.Second
	keepaliveCount    = 3
)

// dial establishes the raw TCP connection and applies keepalive tuning.
// Timeout errors satisfy errors.IsTimeout; everything else is annotated
// with the address.
func dial(host string, port int, timeout time.Duration, log *log2.Log) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, errors.Timeoutf("connect %s", addr)
		}
		return nil, errors.Annotatef(err, "connect %s", addr)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tuneKeepalive(tcp, log)
	}
	return conn, nil
}

// tuneKeepalive is best-effort: a platform refusing a knob is logged,
// never an error.
func tuneKeepalive(tcp *net.TCPConn, log *log2.Log) {
	if err := tcp.SetKeepAlive(true); err != nil {
		log.Debugf("keepalive enable err=%v", err)
		return
	}
	if err := tcp.SetKeepAlivePeriod(keepaliveIdle); err != nil {
		log.Debugf("keepalive period err=%v", err)
	}
	setKeepaliveProbes(tcp, log)
	log.Debugf("tcp keepalive enabled")
}

func isTimeout(err error) bool {
	nerr, ok := err.(net.Error)
	return ok && nerr.Timeout()
}
