// Package frame turns raw socket reads from the boiler into candidate
// protocol lines. The controller emits newline-delimited extended-ASCII
// text; status records start with the "pm" marker.
package frame

import (
	"strings"
	"unicode/utf8"

	"github.com/paulrosania/go-charset/charset"
	_ "github.com/paulrosania/go-charset/data"
)

// Marker starts every status record.
const Marker = "pm"

// Fallback codepages, tried in order after strict UTF-8.
var fallbackCharsets = []string{"latin1", "windows-1252"}

type Decoder struct {
	translators []charset.Translator
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	for _, name := range fallbackCharsets {
		tr, err := charset.TranslatorFrom(name)
		if err != nil {
			// missing codepage table only narrows the fallback chain
			continue
		}
		d.translators = append(d.translators, tr)
	}
	return d
}

// Decode never fails: strict UTF-8 first, then the codepage fallbacks,
// last resort is lossy UTF-8 with replacement runes.
func (d *Decoder) Decode(chunk []byte) string {
	if utf8.Valid(chunk) {
		return string(chunk)
	}
	for _, tr := range d.translators {
		if _, out, err := tr.Translate(chunk, true); err == nil {
			return string(out)
		}
	}
	return strings.ToValidUTF8(string(chunk), string(utf8.RuneError))
}

// Candidates returns the trimmed pm-marked lines of one read's worth of
// bytes, in stream order. Empty and foreign lines are dropped.
func (d *Decoder) Candidates(chunk []byte) []string {
	text := d.Decode(chunk)
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, Marker) {
			continue
		}
		out = append(out, line)
	}
	return out
}
