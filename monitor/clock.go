package monitor

import (
	"context"
	"time"
)

const (
	continuousPeriod   = 5 * time.Minute
	schedulePollPeriod = 10 * time.Second
)

// triggerClock decides when a channel's check cycle runs. Continuous mode
// fires immediately and then on a fixed period. Scheduled mode polls the
// wall clock on a short period and fires when the current hour/minute is in
// the trigger set, at most once per calendar minute.
//
// A schedule with zero valid times behaves as continuous; the monitor logs
// the fallback when it arms the clock.
type triggerClock struct {
	schedule Schedule
	period   time.Duration
	poll     time.Duration
	now      func() time.Time

	lastFired string // date and minute of the last fire, "2006-01-02 15:04"
}

func newTriggerClock(schedule Schedule) *triggerClock {
	return &triggerClock{
		schedule: schedule,
		period:   continuousPeriod,
		poll:     schedulePollPeriod,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, calling fire at every trigger moment.
// Fires are delivered from this goroutine one at a time, so a slow cycle
// delays later fires for the same channel instead of overlapping them.
// After ctx is cancelled no further fires occur.
func (c *triggerClock) Run(ctx context.Context, fire func(time.Time)) {
	if c.schedule.Continuous || len(c.schedule.Times) == 0 {
		c.runContinuous(ctx, fire)
	} else {
		c.runScheduled(ctx, fire)
	}
}

func (c *triggerClock) runContinuous(ctx context.Context, fire func(time.Time)) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	fire(c.now())

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			fire(t)
		}
	}
}

func (c *triggerClock) runScheduled(ctx context.Context, fire func(time.Time)) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			if c.shouldFire(now) {
				fire(now)
			}
		}
	}
}

// shouldFire holds the per-minute suppression: the poll period is finer
// than a minute, so a matching minute must fire only once. The key carries
// the date so the same wall-clock minute fires again on later days.
func (c *triggerClock) shouldFire(t time.Time) bool {
	minute := t.Format("2006-01-02 15:04")
	if minute == c.lastFired {
		return false
	}
	if !c.schedule.Matches(t) {
		return false
	}
	c.lastFired = minute
	return true
}
