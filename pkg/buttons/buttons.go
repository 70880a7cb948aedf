// Package buttons latches push-button presses for polling stages.
//
// Each of the eight buttons is a single-bit flag: Press sets it, Take clears
// it and reports whether it was set. Presses that arrive before the consumer
// polls collapse into one event.
package buttons

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Button identifies a board button, B1 through B8.
type Button uint8

const (
	B1 Button = iota + 1
	B2
	B3
	B4
	B5
	B6
	B7
	B8
)

// Count is the number of supported buttons.
const Count = 8

func (b Button) mask() uint32 {
	if b < B1 || b > B8 {
		return 0
	}
	return 1 << (b - 1)
}

// String returns "B1".."B8".
func (b Button) String() string {
	return fmt.Sprintf("B%d", uint8(b))
}

// Flags holds the pending-press latches. The zero value has nothing pending.
type Flags struct {
	bits atomic.Uint32
}

// Press latches b. Safe to call from any goroutine.
func (f *Flags) Press(b Button) {
	f.bits.Or(b.mask())
}

// Take consumes a pending press of b.
func (f *Flags) Take(b Button) bool {
	m := b.mask()
	return m != 0 && f.bits.And(^m)&m != 0
}

// Pending reports whether b is latched without consuming it.
func (f *Flags) Pending(b Button) bool {
	m := b.mask()
	return m != 0 && f.bits.Load()&m != 0
}

// Clear drops every pending press.
func (f *Flags) Clear() {
	f.bits.Store(0)
}

// String lists pending buttons, e.g. "B1,B4".
func (f *Flags) String() string {
	var names []string
	for b := B1; b <= B8; b++ {
		if f.Pending(b) {
			names = append(names, b.String())
		}
	}
	return strings.Join(names, ",")
}
