package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

// multiFeed routes feed calls to a per-channel fake.
type multiFeed struct {
	feeds map[string]*fakeFeed
}

func (m *multiFeed) LatestVideo(ctx context.Context, youtubeID string) (*Video, error) {
	if f, ok := m.feeds[youtubeID]; ok {
		return f.LatestVideo(ctx, youtubeID)
	}
	return nil, nil
}

func newTestMonitor(t *testing.T, st *store.Store, feed FeedSource, orders OrderClient) *Monitor {
	t.Helper()
	log := zap.NewNop()
	detector := NewDetector(nil, log, st, feed, nil)
	ledger := NewLedger(nil, log, st)
	dispatcher := NewDispatcher(nil, log, st, ledger, orders, nil)
	dispatcher.delay = 0

	m := NewMonitor(fxtest.NewLifecycle(t), log, st, detector, ledger, dispatcher)
	m.newClock = func(s Schedule) *triggerClock {
		c := newTriggerClock(s)
		c.period = 20 * time.Millisecond
		c.poll = 5 * time.Millisecond
		return c
	}
	return m
}

func TestMonitor_StartFiresAndPersistsRunning(t *testing.T) {
	st := newTestStore(t)
	ch := seedChannel(t, st, store.Channel{})

	feed := &fakeFeed{}
	m := newTestMonitor(t, st, feed, &fakeOrders{})
	require.NoError(t, m.StartChannel(ch.ID))
	defer m.StopAll()

	assert.Eventually(t, func() bool { return feed.callCount() >= 2 },
		2*time.Second, 5*time.Millisecond, "continuous channel should keep firing")

	got, err := st.GetChannel(ch.ID)
	require.NoError(t, err)
	assert.True(t, got.Running)
	assert.True(t, m.IsRunning(ch.ID))
}

func TestMonitor_StopHaltsFiresForGood(t *testing.T) {
	st := newTestStore(t)
	ch := seedChannel(t, st, store.Channel{})

	feed := &fakeFeed{}
	m := newTestMonitor(t, st, feed, &fakeOrders{})
	require.NoError(t, m.StartChannel(ch.ID))

	assert.Eventually(t, func() bool { return feed.callCount() >= 2 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopChannel(ch.ID))
	n := feed.callCount()

	// Stop is synchronous: the count must never move again.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, feed.callCount())
	assert.False(t, m.IsRunning(ch.ID))

	got, err := st.GetChannel(ch.ID)
	require.NoError(t, err)
	assert.False(t, got.Running)
}

func TestMonitor_StopWithoutStartIsHarmless(t *testing.T) {
	st := newTestStore(t)
	ch := seedChannel(t, st, store.Channel{})

	m := newTestMonitor(t, st, &fakeFeed{}, &fakeOrders{})
	assert.NoError(t, m.StopChannel(ch.ID))
}

func TestMonitor_ReentrantStart(t *testing.T) {
	st := newTestStore(t)
	ch := seedChannel(t, st, store.Channel{})

	feed := &fakeFeed{}
	m := newTestMonitor(t, st, feed, &fakeOrders{})
	require.NoError(t, m.StartChannel(ch.ID))
	require.NoError(t, m.StartChannel(ch.ID))
	require.NoError(t, m.StartChannel(ch.ID))
	defer m.StopAll()

	// Exactly one active clock regardless of repeated starts.
	m.mu.Lock()
	assert.Len(t, m.handles, 1)
	m.mu.Unlock()

	assert.Eventually(t, func() bool { return feed.callCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestMonitor_FullPipelinePlacesOrders(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetSetting(store.SettingAPIKey, "key-123"))
	ch := seedChannel(t, st, store.Channel{LastVideoID: "A"},
		store.ChannelService{ServiceID: "101", Quantity: 500},
	)

	feed := &fakeFeed{video: &Video{ID: "B", Title: "hello", URL: "https://example.com/B"}}
	orders := &fakeOrders{}
	m := newTestMonitor(t, st, feed, orders)
	require.NoError(t, m.StartChannel(ch.ID))
	defer m.StopAll()

	assert.Eventually(t, func() bool { return len(orders.orderCalls()) >= 1 },
		2*time.Second, 5*time.Millisecond)

	m.StopAll()

	// Later cycles saw B as unchanged: exactly one order ever placed.
	assert.Len(t, orders.orderCalls(), 1)
	history, err := st.ChannelHistory(ch.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].Orders, 1)
	assert.Equal(t, "101", history[0].Orders[0].ServiceID)
}

func TestMonitor_SlowOrdersAllServicesFulfilled(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetSetting(store.SettingAPIKey, "key-123"))
	ch := seedChannel(t, st, store.Channel{LastVideoID: "A"},
		store.ChannelService{ServiceID: "101", Quantity: 500},
		store.ChannelService{ServiceID: "202", Quantity: 100},
		store.ChannelService{ServiceID: "303", Quantity: 250},
		store.ChannelService{ServiceID: "404", Quantity: 50},
	)

	feed := &fakeFeed{video: &Video{ID: "B", URL: "https://example.com/B"}}
	orders := &fakeOrders{perCallDelay: 10 * time.Millisecond}
	m := newTestMonitor(t, st, feed, orders)
	// Detection deadline far shorter than the full dispatch walk: it must
	// not cut the selection list short.
	m.timeout = 15 * time.Millisecond

	require.NoError(t, m.StartChannel(ch.ID))
	defer m.StopAll()

	assert.Eventually(t, func() bool { return len(orders.orderCalls()) >= 4 },
		2*time.Second, 5*time.Millisecond, "a slow panel must not drop trailing services")

	m.StopAll()

	history, err := st.ChannelHistory(ch.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Len(t, history[0].Orders, 4)
}

func TestMonitor_ChannelsAreIndependent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetSetting(store.SettingAPIKey, "key-123"))
	chA := seedChannel(t, st, store.Channel{ID: "chan-a", YoutubeID: "UCA"},
		store.ChannelService{ServiceID: "101", Quantity: 500})
	chB := seedChannel(t, st, store.Channel{ID: "chan-b", YoutubeID: "UCB"},
		store.ChannelService{ServiceID: "202", Quantity: 100})

	feeds := &multiFeed{feeds: map[string]*fakeFeed{
		"UCA": {err: errors.New("feed unreachable")},
		"UCB": {video: &Video{ID: "B", URL: "u"}},
	}}
	orders := &fakeOrders{}
	m := newTestMonitor(t, st, feeds, orders)
	require.NoError(t, m.StartChannel(chA.ID))
	require.NoError(t, m.StartChannel(chB.ID))
	defer m.StopAll()

	// A's permanently failing feed never blocks B's orders.
	assert.Eventually(t, func() bool { return len(orders.orderCalls()) >= 1 },
		2*time.Second, 5*time.Millisecond)
	calls := orders.orderCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "202", calls[0].serviceID)

	assert.True(t, m.IsRunning(chA.ID), "the failing channel keeps its clock")
}

func TestMonitor_ResumeRunning(t *testing.T) {
	st := newTestStore(t)
	ch := seedChannel(t, st, store.Channel{})
	require.NoError(t, st.SetRunning(ch.ID, true))

	// Fresh monitor, as after a process restart.
	feed := &fakeFeed{}
	m := newTestMonitor(t, st, feed, &fakeOrders{})
	require.NoError(t, m.ResumeRunning(context.Background()))
	defer m.StopAll()

	assert.Eventually(t, func() bool { return feed.callCount() >= 1 },
		2*time.Second, 5*time.Millisecond,
		"persisted running channels must be re-armed without operator action")
	assert.True(t, m.IsRunning(ch.ID))
}

func TestMonitor_ResumeSkipsStoppedChannels(t *testing.T) {
	st := newTestStore(t)
	ch := seedChannel(t, st, store.Channel{})

	feed := &fakeFeed{}
	m := newTestMonitor(t, st, feed, &fakeOrders{})
	require.NoError(t, m.ResumeRunning(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, feed.callCount())
	assert.False(t, m.IsRunning(ch.ID))
}

func TestMonitor_StopAll(t *testing.T) {
	st := newTestStore(t)
	chA := seedChannel(t, st, store.Channel{ID: "chan-a", YoutubeID: "UCA"})
	chB := seedChannel(t, st, store.Channel{ID: "chan-b", YoutubeID: "UCB"})

	feed := &fakeFeed{}
	m := newTestMonitor(t, st, feed, &fakeOrders{})
	require.NoError(t, m.StartChannel(chA.ID))
	require.NoError(t, m.StartChannel(chB.ID))

	m.StopAll()
	n := feed.callCount()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, feed.callCount())
	assert.False(t, m.IsRunning(chA.ID))
	assert.False(t, m.IsRunning(chB.ID))
}
