package clock

import (
	"fmt"
	"time"
)

// Uptime counts days, hours, minutes and seconds from periodic ticks.
// Sub-second remainders are carried between ticks.
type Uptime struct {
	carry   time.Duration
	Seconds int
	Minutes int
	Hours   int
	Days    int
}

// Tick adds one period to the counter.
func (u *Uptime) Tick(period time.Duration) {
	u.carry += period
	for u.carry >= time.Second {
		u.Seconds++
		u.carry -= time.Second
	}
	for u.Seconds >= 60 {
		u.Minutes++
		u.Seconds -= 60
	}
	for u.Minutes >= 60 {
		u.Hours++
		u.Minutes -= 60
	}
	for u.Hours >= 24 {
		u.Days++
		u.Hours -= 24
	}
}

// String formats the counter as "Dd HH:MM:SS".
func (u Uptime) String() string {
	return fmt.Sprintf("%dd %02d:%02d:%02d", u.Days, u.Hours, u.Minutes, u.Seconds)
}
