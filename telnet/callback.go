package telnet

import (
	"reflect"
	"sync"

	"github.com/bauer-group/hargassner/log2"
	"github.com/bauer-group/hargassner/parser"
)

// DataFunc receives every newly parsed record.
type DataFunc func(parser.Params)

// ConnFunc receives connection state transitions.
type ConnFunc func(connected bool)

// dispatcher keeps two ordered handler registries. Registration is
// idempotent, keyed by the handler's code pointer; removing an unknown
// handler is a no-op. Dispatch snapshots the registry first, so a
// handler may (de)register from within a callback without affecting the
// delivery in progress.
type dispatcher struct {
	mu   sync.Mutex
	data []dataEntry
	conn []connEntry
}

type dataEntry struct {
	key uintptr
	fn  DataFunc
}

type connEntry struct {
	key uintptr
	fn  ConnFunc
}

func fnKey(fn interface{}) uintptr { return reflect.ValueOf(fn).Pointer() }

func (d *dispatcher) addData(fn DataFunc) {
	if fn == nil {
		return
	}
	key := fnKey(fn)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.data {
		if e.key == key {
			return
		}
	}
	d.data = append(d.data, dataEntry{key: key, fn: fn})
}

func (d *dispatcher) removeData(fn DataFunc) {
	if fn == nil {
		return
	}
	key := fnKey(fn)
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.data {
		if e.key == key {
			d.data = append(d.data[:i:i], d.data[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) addConn(fn ConnFunc) {
	if fn == nil {
		return
	}
	key := fnKey(fn)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.conn {
		if e.key == key {
			return
		}
	}
	d.conn = append(d.conn, connEntry{key: key, fn: fn})
}

func (d *dispatcher) removeConn(fn ConnFunc) {
	if fn == nil {
		return
	}
	key := fnKey(fn)
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.conn {
		if e.key == key {
			d.conn = append(d.conn[:i:i], d.conn[i+1:]...)
			return
		}
	}
}

// sendData delivers in registration order from the receive loop context.
func (d *dispatcher) sendData(log *log2.Log, p parser.Params) {
	d.mu.Lock()
	snapshot := make([]dataEntry, len(d.data))
	copy(snapshot, d.data)
	d.mu.Unlock()
	for _, e := range snapshot {
		guard(log, func() { e.fn(p) })
	}
}

func (d *dispatcher) sendConn(log *log2.Log, connected bool) {
	d.mu.Lock()
	snapshot := make([]connEntry, len(d.conn))
	copy(snapshot, d.conn)
	d.mu.Unlock()
	for _, e := range snapshot {
		guard(log, func() { e.fn(connected) })
	}
}

// guard isolates a failing handler from the rest of the delivery and
// from the receive loop.
func guard(log *log2.Log, f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("callback panic: %v", r)
		}
	}()
	f()
}
