// Package cron implements C9: five periodic maintenance tasks, each with
// its own one-time start delay followed by a fixed interval, swallowing
// and logging any failure so a bad tick never aborts the component.
package cron

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// DelayedInterval implements cronlib.Schedule with "first run after Delay,
// then every Interval" semantics — the standard cron expression grammar
// robfig/cron/v3 parses has no notion of a one-time initial offset, so
// this small adapter is implemented directly against the library's
// Schedule interface instead.
type DelayedInterval struct {
	anchor   time.Time
	Delay    time.Duration
	Interval time.Duration
}

// NewDelayedInterval anchors the schedule at the given start time (the
// moment C9 initializes), firing first at anchor+delay and every interval
// after that.
func NewDelayedInterval(anchor time.Time, delay, interval time.Duration) *DelayedInterval {
	return &DelayedInterval{anchor: anchor, Delay: delay, Interval: interval}
}

// Next satisfies cronlib.Schedule.
func (d *DelayedInterval) Next(t time.Time) time.Time {
	firstFire := d.anchor.Add(d.Delay)
	if t.Before(firstFire) {
		return firstFire
	}
	elapsed := t.Sub(firstFire)
	ticks := elapsed/d.Interval + 1
	return firstFire.Add(ticks * d.Interval)
}

var _ cronlib.Schedule = (*DelayedInterval)(nil)
