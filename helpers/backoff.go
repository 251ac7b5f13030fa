package helpers

import "time"

// Limited exponential backoff for retry delays.
// Not safe for concurrent use; intended for a single retry loop.
// Next() returns the delay to sleep now and grows the following one
// by factor K capped at Max. Reset() returns to Min.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	K   int

	cur time.Duration
}

// Use scenario:
// for {
//   if err := op(); err != nil {
//     sleep(backoff.Next())
//     continue
//   }
//   backoff.Reset()
// }
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Min
	}
	d := b.cur
	k := b.K
	if k < 2 {
		k = 2
	}
	next := b.cur * time.Duration(k)
	if next > b.Max {
		next = b.Max
	}
	b.cur = next
	return d
}

// Current returns the delay Next() would sleep, without advancing.
func (b *Backoff) Current() time.Duration {
	if b.cur == 0 {
		return b.Min
	}
	return b.cur
}

func (b *Backoff) Reset() { b.cur = b.Min }
