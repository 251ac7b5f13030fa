package telnet_test

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bauer-group/hargassner/log2"
	"github.com/bauer-group/hargassner/parser"
	"github.com/bauer-group/hargassner/telnet"
)

const testRecord = "pm 001 023.4"

// testParser records every line it sees; behavior is pluggable.
type testParser struct {
	mu    sync.Mutex
	lines []string
	fn    func(line string) (parser.Params, error)
}

func (p *testParser) Parse(line string) (parser.Params, error) {
	p.mu.Lock()
	p.lines = append(p.lines, line)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(line)
	}
	return parser.Params{"temp": 23.4}, nil
}

func (p *testParser) ExpectedLength() int { return 13 }

func (p *testParser) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.lines))
	copy(out, p.lines)
	return out
}

// mockBoiler accepts up to count connections and runs handler on each.
// Accepted connections are also announced on the returned channel.
func mockBoiler(t testing.TB, count int, handler func(conn net.Conn)) (net.Listener, <-chan net.Conn) {
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepts := make(chan net.Conn, count)
	go func() {
		for i := 0; i < count; i++ {
			conn, err := ll.Accept()
			if err != nil {
				return
			}
			accepts <- conn
			if handler != nil {
				go handler(conn)
			}
		}
	}()
	return ll, accepts
}

func listenerOptions(t testing.TB, ll net.Listener, p parser.Parser) telnet.Options {
	host, portstr, err := net.SplitHostPort(ll.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portstr)
	require.NoError(t, err)
	return telnet.Options{
		Host:           host,
		Port:           port,
		Parser:         p,
		Log:            log2.NewTest(t, log2.LDebug),
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		StartupWait:    2 * time.Second,
	}
}

func waitConn(t testing.TB, ch <-chan net.Conn, timeout time.Duration) net.Conn {
	select {
	case conn := <-ch:
		return conn
	case <-time.After(timeout):
		t.Fatal("timeout waiting for connection")
		return nil
	}
}

func waitBool(t testing.TB, ch <-chan bool, expect bool, timeout time.Duration) {
	select {
	case got := <-ch:
		require.Equal(t, expect, got)
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for connection state %t", expect)
	}
}

func TestClientNominal(t *testing.T) {
	t.Parallel()

	ll, accepts := mockBoiler(t, 1, func(conn net.Conn) {
		_, _ = conn.Write([]byte(testRecord + "\r\n"))
	})
	defer ll.Close()

	p := &testParser{}
	c, err := telnet.NewClient(listenerOptions(t, ll, p))
	require.NoError(t, err)

	dataCh := make(chan parser.Params, 8)
	connCh := make(chan bool, 8)
	c.RegisterDataFunc(func(data parser.Params) { dataCh <- data })
	c.RegisterConnFunc(func(ok bool) { connCh <- ok })

	require.NoError(t, c.Start())
	waitConn(t, accepts, time.Second)
	waitBool(t, connCh, true, time.Second)
	assert.True(t, c.Connected())

	select {
	case data := <-dataCh:
		assert.Equal(t, parser.Params{"temp": 23.4}, data)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for data callback")
	}

	// parser saw exactly the trimmed record
	require.Equal(t, []string{testRecord}, p.calls())
	// pull path observes the same snapshot as the push path
	assert.Equal(t, parser.Params{"temp": 23.4}, c.Latest())
	assert.False(t, c.LastUpdate().IsZero())
	assert.Equal(t, 13, c.ExpectedLength())

	stats := c.Stats()
	assert.Equal(t, uint32(1), stats.MessagesParsed)
	assert.Equal(t, uint32(1), stats.MessagesReceived)
	assert.Equal(t, uint32(1), stats.Reconnections)
	assert.Equal(t, uint32(0), stats.ParseErrors)

	c.Stop()
	waitBool(t, connCh, false, time.Second)
	assert.False(t, c.Connected())
}

func TestFirstParsedCandidateWins(t *testing.T) {
	t.Parallel()

	ll, accepts := mockBoiler(t, 1, func(conn net.Conn) {
		// two complete records in one chunk
		_, _ = conn.Write([]byte("pm 1 1\npm 2 2\n"))
	})
	defer ll.Close()

	p := &testParser{fn: func(line string) (parser.Params, error) {
		return parser.Params{"line": line}, nil
	}}
	c, err := telnet.NewClient(listenerOptions(t, ll, p))
	require.NoError(t, err)
	dataCh := make(chan parser.Params, 8)
	c.RegisterDataFunc(func(data parser.Params) { dataCh <- data })
	require.NoError(t, c.Start())
	defer c.Stop()
	waitConn(t, accepts, time.Second)

	select {
	case data := <-dataCh:
		assert.Equal(t, parser.Params{"line": "pm 1 1"}, data)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for data callback")
	}
	// rest of the chunk is discarded without side effects
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"pm 1 1"}, p.calls())
	assert.Equal(t, uint32(1), c.Stats().MessagesParsed)
	assert.Len(t, dataCh, 0)
}

func TestFirstCandidateFailsSecondWins(t *testing.T) {
	t.Parallel()

	ll, accepts := mockBoiler(t, 1, func(conn net.Conn) {
		_, _ = conn.Write([]byte("pm bad\npm good\n"))
	})
	defer ll.Close()

	p := &testParser{fn: func(line string) (parser.Params, error) {
		if line == "pm bad" {
			return nil, assert.AnError
		}
		return parser.Params{"line": line}, nil
	}}
	c, err := telnet.NewClient(listenerOptions(t, ll, p))
	require.NoError(t, err)
	dataCh := make(chan parser.Params, 8)
	c.RegisterDataFunc(func(data parser.Params) { dataCh <- data })
	require.NoError(t, c.Start())
	defer c.Stop()
	waitConn(t, accepts, time.Second)

	select {
	case data := <-dataCh:
		assert.Equal(t, parser.Params{"line": "pm good"}, data)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for data callback")
	}
	stats := c.Stats()
	assert.Equal(t, uint32(1), stats.ParseErrors)
	assert.Equal(t, uint32(1), stats.MessagesParsed)
}

func TestPeerCloseReconnectsWithoutBackoff(t *testing.T) {
	t.Parallel()

	ll, accepts := mockBoiler(t, 2, func(conn net.Conn) {
		_, _ = conn.Write([]byte(testRecord + "\n"))
		_ = conn.Close()
	})
	defer ll.Close()

	p := &testParser{}
	opt := listenerOptions(t, ll, p)
	opt.ReconnectDelay = 5 * time.Second // would be noticeable if applied
	c, err := telnet.NewClient(opt)
	require.NoError(t, err)
	connCh := make(chan bool, 8)
	c.RegisterConnFunc(func(ok bool) { connCh <- ok })
	require.NoError(t, c.Start())
	defer c.Stop()

	waitConn(t, accepts, time.Second)
	waitBool(t, connCh, true, time.Second)
	waitBool(t, connCh, false, 2*time.Second)
	// orderly peer close reconnects immediately, no backoff sleep
	waitConn(t, accepts, time.Second)
	waitBool(t, connCh, true, time.Second)
	assert.True(t, c.Stats().Reconnections >= 2)
}

func TestConsecutiveTimeoutsKillConnection(t *testing.T) {
	t.Parallel()

	// server accepts and stays silent
	ll, accepts := mockBoiler(t, 2, nil)
	defer ll.Close()

	p := &testParser{}
	opt := listenerOptions(t, ll, p)
	opt.ReadTimeout = 100 * time.Millisecond
	opt.MaxConsecutiveTimeouts = 2
	opt.ReconnectDelay = 5 * time.Second
	c, err := telnet.NewClient(opt)
	require.NoError(t, err)
	connCh := make(chan bool, 8)
	c.RegisterConnFunc(func(ok bool) { connCh <- ok })
	require.NoError(t, c.Start())
	defer c.Stop()

	waitConn(t, accepts, time.Second)
	waitBool(t, connCh, true, time.Second)
	// death after MaxConsecutiveTimeouts * ReadTimeout, then immediate redial
	waitBool(t, connCh, false, 2*time.Second)
	waitConn(t, accepts, time.Second)
	waitBool(t, connCh, true, time.Second)
	assert.Contains(t, c.Stats().LastError, "dead connection")
}

func TestStalenessDisconnectsDespiteTraffic(t *testing.T) {
	t.Parallel()

	handler := func(conn net.Conn) {
		// one good record, then only foreign lines
		_, _ = conn.Write([]byte(testRecord + "\n"))
		for {
			if _, err := conn.Write([]byte("zK 7 noise\n")); err != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	ll, accepts := mockBoiler(t, 2, handler)
	defer ll.Close()

	p := &testParser{}
	opt := listenerOptions(t, ll, p)
	opt.ReadTimeout = 100 * time.Millisecond
	opt.StalenessTimeout = 300 * time.Millisecond
	opt.ReconnectDelay = 5 * time.Second
	c, err := telnet.NewClient(opt)
	require.NoError(t, err)
	connCh := make(chan bool, 8)
	c.RegisterConnFunc(func(ok bool) { connCh <- ok })
	require.NoError(t, c.Start())
	defer c.Stop()

	waitConn(t, accepts, time.Second)
	waitBool(t, connCh, true, time.Second)
	// reads keep succeeding but nothing parses: watchdog must fire
	waitBool(t, connCh, false, 3*time.Second)
	assert.Contains(t, c.Stats().LastError, "stale")
	// and the loop recovers on the next connection
	waitConn(t, accepts, 2*time.Second)
	waitBool(t, connCh, true, 2*time.Second)
}

func TestStartWithoutServer(t *testing.T) {
	t.Parallel()

	// grab an address nobody listens on
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ll.Addr().String()
	require.NoError(t, ll.Close())
	host, portstr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portstr)

	c, err := telnet.NewClient(telnet.Options{
		Host:           host,
		Port:           port,
		Parser:         &testParser{},
		Log:            log2.NewTest(t, log2.LDebug),
		ConnectTimeout: 200 * time.Millisecond,
		ReconnectDelay: 100 * time.Millisecond,
		StartupWait:    300 * time.Millisecond,
	})
	require.NoError(t, err)

	begin := time.Now()
	require.NoError(t, c.Start()) // not connecting is not a startup error
	assert.True(t, time.Since(begin) < 2*time.Second)
	assert.False(t, c.Connected())

	time.Sleep(300 * time.Millisecond)
	assert.NotEmpty(t, c.Stats().LastError)
	c.Stop()
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	c, err := telnet.NewClient(telnet.Options{
		Host:   "127.0.0.1",
		Parser: &testParser{},
		Log:    log2.NewTest(t, log2.LDebug),
	})
	require.NoError(t, err)
	c.Stop() // never started
	c.Stop()
	assert.Equal(t, telnet.ErrClosed, c.Start())
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := telnet.NewClient(telnet.Options{})
	assert.Error(t, err)

	// unknown firmware and no explicit parser
	_, err = telnet.NewClient(telnet.Options{Host: "127.0.0.1", Firmware: "V0_UNKNOWN"})
	assert.Error(t, err)

	// known firmware selects the table parser
	c, err := telnet.NewClient(telnet.Options{Host: "127.0.0.1", Firmware: "V14_0"})
	require.NoError(t, err)
	assert.Equal(t, 13, c.ExpectedLength())
}
