package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const detectTimeout = 30 * time.Second

// Monitor owns one running/stopped state machine per channel. It is the
// only holder of active trigger clocks: starting a channel that is already
// running performs a full stop first, so exactly one clock exists per
// channel at any time. Channels run concurrently with each other; fires for
// the same channel are serialized by the clock goroutine.
type Monitor struct {
	log        *zap.Logger
	store      *store.Store
	detector   *Detector
	ledger     *Ledger
	dispatcher *Dispatcher

	mu      sync.Mutex
	handles map[string]*handle

	timeout  time.Duration
	newClock func(Schedule) *triggerClock
}

// handle is the explicit ownership token for one channel's clock.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(lc fx.Lifecycle, log *zap.Logger, st *store.Store, detector *Detector, ledger *Ledger, dispatcher *Dispatcher) *Monitor {
	m := &Monitor{
		log:        log,
		store:      st,
		detector:   detector,
		ledger:     ledger,
		dispatcher: dispatcher,
		handles:    make(map[string]*handle),
		timeout:    detectTimeout,
		newClock:   newTriggerClock,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.ResumeRunning(ctx)
		},
		OnStop: func(ctx context.Context) error {
			m.StopAll()
			return nil
		},
	})

	return m
}

// StartChannel loads the channel's current state and arms its clock.
func (m *Monitor) StartChannel(id string) error {
	ch, err := m.store.GetChannel(id)
	if err != nil {
		return err
	}
	return m.start(ch)
}

func (m *Monitor) start(ch *store.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked(ch.ID)

	schedule := ParseSchedule(ch.Schedule)
	if !schedule.Continuous && len(schedule.Times) == 0 {
		m.log.Sugar().Warnf("[%s] schedule %q has no valid times, falling back to continuous mode",
			ch.Name, ch.Schedule)
		m.store.AddLog(ch.ID, "warn",
			fmt.Sprintf("schedule %q has no valid times, falling back to continuous mode", ch.Schedule))
	}

	if err := m.store.SetRunning(ch.ID, true); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	m.handles[ch.ID] = h

	clock := m.newClock(schedule)
	channelID := ch.ID
	go func() {
		defer close(h.done)
		clock.Run(ctx, func(time.Time) {
			m.runCycle(ctx, channelID)
		})
	}()

	m.log.Sugar().Infof("[%s] monitoring started (schedule: %s)", ch.Name, describeSchedule(schedule))
	m.store.AddLog(ch.ID, "info", "monitoring started")
	return nil
}

// StopChannel cancels the channel's clock and waits for its goroutine to
// exit: when this returns, no further fires occur. Orders already recorded
// stand.
func (m *Monitor) StopChannel(id string) error {
	m.mu.Lock()
	stopped := m.stopLocked(id)
	m.mu.Unlock()

	if err := m.store.SetRunning(id, false); err != nil {
		return err
	}
	if stopped {
		m.log.Sugar().Infof("channel %s monitoring stopped", id)
		m.store.AddLog(id, "info", "monitoring stopped")
	}
	return nil
}

func (m *Monitor) stopLocked(id string) bool {
	h, ok := m.handles[id]
	if !ok {
		return false
	}
	h.cancel()
	<-h.done
	delete(m.handles, id)
	return true
}

// IsRunning reports whether the channel has an active clock.
func (m *Monitor) IsRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[id]
	return ok
}

// ResumeRunning re-arms every channel persisted as running, making process
// restarts transparent to operators.
func (m *Monitor) ResumeRunning(ctx context.Context) error {
	channels, err := m.store.RunningChannels()
	if err != nil {
		return err
	}
	for i := range channels {
		if err := m.start(&channels[i]); err != nil {
			m.log.Sugar().Errorf("[%s] failed to resume: %v", channels[i].Name, err)
		}
	}
	if len(channels) > 0 {
		m.log.Sugar().Infof("Resumed %d running channel(s)", len(channels))
	}
	return nil
}

// StopAll tears down every active clock.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.stopLocked(id)
	}
	m.mu.Unlock()
	m.log.Info("All channel monitors stopped")
}

// runCycle is one fire: detect, then for a new video, ledger and dispatch.
// No failure here may reach another channel's clock or the process.
// Only detection runs under a deadline; dispatch walks an arbitrary number
// of service selections, each remote call bounded on its own, so a blanket
// deadline there would silently drop the tail of the list.
func (m *Monitor) runCycle(ctx context.Context, channelID string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Sugar().Errorf("channel %s: cycle panic recovered: %v", channelID, r)
		}
	}()

	// Fresh state every fire: schedule edits and seen-state from prior
	// cycles must be visible.
	ch, err := m.store.GetChannel(channelID)
	if err != nil {
		m.log.Sugar().Errorf("channel %s: failed to load for cycle: %v", channelID, err)
		return
	}

	detectCtx, cancel := context.WithTimeout(ctx, m.timeout)
	detection := m.detector.Detect(detectCtx, ch)
	cancel()
	if detection.Status != StatusNew {
		return
	}

	pv, err := m.ledger.EnsureProcessed(ch, detection.Video)
	if err != nil {
		m.log.Sugar().Errorf("[%s] failed to record processed video %s: %v", ch.Name, detection.Video.ID, err)
		m.store.AddLog(ch.ID, "error",
			fmt.Sprintf("failed to record processed video %s: %v", detection.Video.ID, err))
		return
	}

	m.dispatcher.Dispatch(ctx, ch, pv, detection.Video)
}

func describeSchedule(s Schedule) string {
	if s.Continuous || len(s.Times) == 0 {
		return "every 5 minutes"
	}
	out := ""
	for i, t := range s.Times {
		if i > 0 {
			out += ", "
		}
		out += t.String()
	}
	return out
}
