package telnet

import (
	"sync"
	"time"

	"github.com/bauer-group/hargassner/helpers/atomic_clock"
	"github.com/bauer-group/hargassner/parser"
)

// Stats counters are monotonic except LastError which is overwritten.
// Never reset while the process lives.
type Stats struct {
	MessagesReceived uint32
	MessagesParsed   uint32
	ParseErrors      uint32
	Reconnections    uint32
	LastError        string
}

// store is the single-slot cache of the most recent parsed record.
// The receive loop writes; any goroutine reads. This is the only shared
// mutable state of the client, everything else is owned by the loop.
type store struct {
	mu     sync.Mutex
	params parser.Params
	update atomic_clock.Clock
	stats  Stats
}

// set replaces the snapshot and its timestamp together.
func (s *store) set(p parser.Params) {
	s.mu.Lock()
	s.params = p
	s.update.SetNow()
	s.stats.MessagesParsed++
	s.mu.Unlock()
}

// latest returns an independent copy, callers cannot race the loop.
func (s *store) latest() parser.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Clone()
}

func (s *store) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *store) lastUpdate() time.Time { return s.update.Time() }

// sinceUpdate reports staleness; ok=false until the first parse.
func (s *store) sinceUpdate() (time.Duration, bool) {
	if s.update.IsZero() {
		return 0, false
	}
	return atomic_clock.Since(&s.update), true
}

func (s *store) addReceived() {
	s.mu.Lock()
	s.stats.MessagesReceived++
	s.mu.Unlock()
}

func (s *store) addParseError() {
	s.mu.Lock()
	s.stats.ParseErrors++
	s.mu.Unlock()
}

func (s *store) addReconnection() {
	s.mu.Lock()
	s.stats.Reconnections++
	s.mu.Unlock()
}

func (s *store) setLastError(msg string) {
	s.mu.Lock()
	s.stats.LastError = msg
	s.mu.Unlock()
}
