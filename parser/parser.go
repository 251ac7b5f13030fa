// Package parser converts one decoded pm record into named boiler
// parameters. Field layout depends on the controller firmware, so a
// parser is constructed for one firmware version and applied to every
// record of that connection.
package parser

import (
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Params maps parameter name to value. Values are float64 or string
// only; both are immutable, so Clone is a deep copy.
type Params map[string]interface{}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type Parser interface {
	// Parse returns nil, nil for a line that is not a pm record.
	// A malformed pm record is an error; it never affects the connection.
	Parse(line string) (Params, error)
	// ExpectedLength is the field count of a complete record, marker
	// included. Diagnostic only.
	ExpectedLength() int
}

// Channel describes one field of the pm record.
type Channel struct {
	Name string
	Unit string
	Text bool // raw string field, no numeric conversion
}

// TableParser maps whitespace-separated pm record fields onto a
// per-firmware channel list. Extra trailing fields are ignored, the
// controller appends new channels in firmware updates.
type TableParser struct {
	firmware string
	channels []Channel
}

var _ Parser = (*TableParser)(nil)

func New(firmwareVersion string) (*TableParser, error) {
	channels, ok := firmwares[firmwareVersion]
	if !ok {
		return nil, errors.NotFoundf("firmware=%q (known: %s)", firmwareVersion, strings.Join(Firmwares(), " "))
	}
	return &TableParser{firmware: firmwareVersion, channels: channels}, nil
}

func (p *TableParser) ExpectedLength() int { return len(p.channels) + 1 }

func (p *TableParser) Channels() []Channel {
	out := make([]Channel, len(p.channels))
	copy(out, p.channels)
	return out
}

func (p *TableParser) Parse(line string) (Params, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "pm" {
		return nil, nil
	}
	values := fields[1:]
	if len(values) < len(p.channels) {
		return nil, errors.Errorf("pm record too short: fields=%d expected>=%d firmware=%s", len(values), len(p.channels), p.firmware)
	}
	out := make(Params, len(p.channels))
	for i, ch := range p.channels {
		raw := values[i]
		if ch.Text {
			out[ch.Name] = raw
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "channel=%s field=%d", ch.Name, i+1)
		}
		out[ch.Name] = v
	}
	return out, nil
}

// Firmwares lists known firmware versions, sorted.
func Firmwares() []string {
	out := make([]string, 0, len(firmwares))
	for k := range firmwares {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
