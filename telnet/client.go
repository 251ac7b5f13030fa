// Package telnet keeps a continuous telemetry feed from a Hargassner
// pellet boiler alive. The controller speaks a line-oriented ASCII
// protocol over a raw TCP socket with no handshake: every few seconds
// it emits a status record, the client never writes.
//
// TCP alone under-reports failures for this kind of protocol, so the
// receive loop runs three independent failure detectors:
// - a per-read timeout with a consecutive-timeout threshold (a flaky
//   link times out sporadically, a dead one times out repeatedly)
// - a data staleness watchdog (a half-open connection delivers neither
//   EOF nor RST, only silence)
// - plain read errors and EOF
// Every detected failure is handled locally by reconnecting, with
// exponential backoff where the failure suggests the peer needs time.
package telnet

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/bauer-group/hargassner/frame"
	"github.com/bauer-group/hargassner/helpers"
	"github.com/bauer-group/hargassner/log2"
	"github.com/bauer-group/hargassner/parser"
)

const (
	DefaultPort                   = 23
	DefaultReadBufferSize         = 4096
	DefaultConnectTimeout         = 10 * time.Second
	DefaultReadTimeout            = 10 * time.Second
	DefaultStalenessTimeout       = 120 * time.Second
	DefaultMaxConsecutiveTimeouts = 3
	DefaultReconnectDelay         = 5 * time.Second
	DefaultReconnectDelayMax      = 300 * time.Second
	DefaultStartupWait            = 5 * time.Second
)

var ErrClosed = errors.New("telnet client is stopped")

type Options struct {
	Host     string // required
	Port     int
	Firmware string // selects parser variant; ignored when Parser is set
	Parser   parser.Parser
	Log      *log2.Log

	ReadBufferSize         int
	ConnectTimeout         time.Duration
	ReadTimeout            time.Duration
	StalenessTimeout       time.Duration
	MaxConsecutiveTimeouts int
	ReconnectDelay         time.Duration
	ReconnectDelayMax      time.Duration
	StartupWait            time.Duration
}

func (o *Options) normalize() {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.StalenessTimeout == 0 {
		o.StalenessTimeout = DefaultStalenessTimeout
	}
	if o.MaxConsecutiveTimeouts == 0 {
		o.MaxConsecutiveTimeouts = DefaultMaxConsecutiveTimeouts
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.ReconnectDelayMax == 0 {
		o.ReconnectDelayMax = DefaultReconnectDelayMax
	}
	if o.StartupWait == 0 {
		o.StartupWait = DefaultStartupWait
	}
}

// Client owns the connection and the background receive loop. The loop
// is the sole writer of connection state and backoff state; the
// latest-value store is the only cross-goroutine structure.
type Client struct {
	alive     *alive.Alive
	opt       Options
	log       *log2.Log
	parser    parser.Parser
	dec       *frame.Decoder
	backoff   helpers.Backoff // receive loop only
	store     store
	callbacks dispatcher

	// connMu guards only the conn handle: Stop() must be able to abort
	// an in-flight read by closing the socket out-of-band.
	connMu sync.Mutex
	conn   net.Conn

	connected   int32     // atomic; loop is sole writer
	connectedAt time.Time // loop only
	started     int32
	ready       chan struct{} // closed on first successful connect
	readyOnce   sync.Once
}

func NewClient(opt Options) (*Client, error) {
	if opt.Host == "" {
		return nil, errors.NotValidf("telnet host empty")
	}
	opt.normalize()
	p := opt.Parser
	if p == nil {
		var err error
		if p, err = parser.New(opt.Firmware); err != nil {
			return nil, errors.Annotate(err, "telnet parser")
		}
	}
	c := &Client{
		alive:  alive.NewAlive(),
		opt:    opt,
		log:    opt.Log,
		parser: p,
		dec:    frame.NewDecoder(),
		backoff: helpers.Backoff{
			Min: opt.ReconnectDelay,
			Max: opt.ReconnectDelayMax,
			K:   2,
		},
		ready: make(chan struct{}),
	}
	return c, nil
}

// Start spawns the receive loop and returns once the connection is
// established or StartupWait elapsed, whichever first. Not connecting
// in time is logged, not an error: the loop keeps retrying.
func (c *Client) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		c.log.Infof("telnet client already running")
		return nil
	}
	if !c.alive.Add(1) {
		return ErrClosed
	}
	go c.run()

	t := time.NewTimer(c.opt.StartupWait)
	defer t.Stop()
	select {
	case <-c.ready:
		c.log.Debugf("initial connection established")
	case <-t.C:
		c.log.Infof("initial connection not established within %s, retrying in background", c.opt.StartupWait)
	case <-c.alive.StopChan():
	}
	return nil
}

// Stop is idempotent and safe without a prior Start. It cancels the
// loop, aborts an in-flight read and waits for orderly termination.
func (c *Client) Stop() {
	c.alive.Stop()
	c.closeConn()
	c.alive.Wait()
}

func (c *Client) Connected() bool { return atomic.LoadInt32(&c.connected) == 1 }

// LastUpdate is zero until the first successful parse.
func (c *Client) LastUpdate() time.Time { return c.store.lastUpdate() }

func (c *Client) Stats() Stats { return c.store.snapshot() }

// Latest returns a copy of the most recent parsed record; nil until the
// first successful parse. On-demand fallback for hosts that missed the
// push, e.g. right after their own restart.
func (c *Client) Latest() parser.Params { return c.store.latest() }

func (c *Client) ExpectedLength() int { return c.parser.ExpectedLength() }

func (c *Client) RegisterDataFunc(fn DataFunc)   { c.callbacks.addData(fn) }
func (c *Client) UnregisterDataFunc(fn DataFunc) { c.callbacks.removeData(fn) }
func (c *Client) RegisterConnFunc(fn ConnFunc)   { c.callbacks.addConn(fn) }
func (c *Client) UnregisterConnFunc(fn ConnFunc) { c.callbacks.removeConn(fn) }

func (c *Client) run() {
	defer c.alive.Done()
	defer c.closeConn()

	buf := make([]byte, c.opt.ReadBufferSize)
	timeouts := 0
	for c.alive.IsRunning() {
		conn := c.getConn()
		if conn == nil {
			if err := c.connect(); err != nil {
				if !c.alive.IsRunning() {
					return
				}
				c.log.Errorf("connect: %v", err)
				c.store.setLastError(err.Error())
				if !c.sleep(c.backoff.Next()) {
					return
				}
				continue
			}
			timeouts = 0
			conn = c.getConn()
			if conn == nil { // Stop() raced the connect
				return
			}
		}

		// A fresh connection gets a full staleness window before the
		// watchdog may kill it, otherwise stale history from before a
		// reconnect would kill every new connection unread.
		if since, ok := c.store.sinceUpdate(); ok && since > c.opt.StalenessTimeout &&
			time.Since(c.connectedAt) > c.opt.StalenessTimeout {
			c.log.Infof("no parsed data for %s, reconnecting", since)
			c.store.setLastError(fmt.Sprintf("data stale for %s", since))
			c.disconnect()
			// stale peer still accepts connections, retry without delay
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.opt.ReadTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			c.process(buf[:n])
			c.backoff.Reset()
			timeouts = 0
		}
		if err == nil {
			continue
		}

		switch {
		case isTimeout(err):
			timeouts++
			c.log.Debugf("read timeout %d/%d", timeouts, c.opt.MaxConsecutiveTimeouts)
			if timeouts >= c.opt.MaxConsecutiveTimeouts {
				c.log.Infof("connection dead after %d consecutive timeouts, reconnecting", timeouts)
				c.store.setLastError(fmt.Sprintf("dead connection (%d timeouts)", timeouts))
				timeouts = 0
				c.disconnect()
				// no backoff: keepalive says the link is gone, the peer may be fine
			}

		case err == io.EOF:
			c.log.Infof("connection closed by boiler")
			timeouts = 0
			c.disconnect()
			// no backoff: orderly close, peer restart reconnects fast

		default:
			if !c.alive.IsRunning() {
				return
			}
			c.log.Errorf("receive: %v", err)
			c.store.setLastError(err.Error())
			timeouts = 0
			c.disconnect()
			if !c.sleep(c.backoff.Next()) {
				return
			}
		}
	}
}

func (c *Client) connect() error {
	c.log.Debugf("connecting to %s:%d", c.opt.Host, c.opt.Port)
	conn, err := dial(c.opt.Host, c.opt.Port, c.opt.ConnectTimeout, c.log)
	if err != nil {
		return err
	}
	c.setConn(conn)
	if !c.alive.IsRunning() {
		c.closeConn()
		return ErrClosed
	}
	c.store.addReconnection()
	c.connectedAt = time.Now()
	c.setConnected(true)
	c.readyOnce.Do(func() { close(c.ready) })
	c.log.Debugf("connected to boiler")
	return nil
}

// process handles one read's worth of bytes. One snapshot per chunk is
// enough: candidates after the first parsed one are older buffered
// copies of the same periodic record.
func (c *Client) process(chunk []byte) {
	c.store.addReceived()
	for _, line := range c.dec.Candidates(chunk) {
		params, err := c.parser.Parse(line)
		if err != nil {
			c.log.Infof("parse failed: %v", err)
			c.store.addParseError()
			continue
		}
		if params == nil {
			continue
		}
		c.store.set(params)
		c.callbacks.sendData(c.log, params.Clone())
		break
	}
}

func (c *Client) setConnected(connected bool) {
	var v int32
	if connected {
		v = 1
	}
	if atomic.SwapInt32(&c.connected, v) == v {
		return
	}
	c.callbacks.sendConn(c.log, connected)
}

func (c *Client) disconnect() {
	c.setConnected(false)
	c.closeConn()
}

func (c *Client) getConn() net.Conn {
	var conn net.Conn
	helpers.WithLock(&c.connMu, func() { conn = c.conn })
	return conn
}

func (c *Client) setConn(conn net.Conn) {
	helpers.WithLock(&c.connMu, func() { c.conn = conn })
}

// closeConn is idempotent, swallows close errors and unconditionally
// marks the client disconnected.
func (c *Client) closeConn() {
	var conn net.Conn
	helpers.WithLock(&c.connMu, func() {
		conn = c.conn
		c.conn = nil
	})
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Debugf("close: %v", err)
		}
	}
	c.setConnected(false)
}

// sleep is cancellable; returns false when the client is stopping.
func (c *Client) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.alive.IsRunning()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.alive.StopChan():
		return false
	}
}
