package monitor

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdngo/boostwatch/store"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return store.NewWithDB(db)
}

func seedChannel(t *testing.T, st *store.Store, ch store.Channel, services ...store.ChannelService) *store.Channel {
	t.Helper()
	if ch.ID == "" {
		ch.ID = "chan-1"
	}
	if ch.Name == "" {
		ch.Name = "Test Channel"
	}
	if ch.YoutubeID == "" {
		ch.YoutubeID = "UC123"
	}
	if ch.ContentType == "" {
		ch.ContentType = store.FilterAny
	}
	require.NoError(t, st.CreateChannel(&ch))
	if len(services) > 0 {
		require.NoError(t, st.ReplaceServices(ch.ID, services))
	}
	out, err := st.GetChannel(ch.ID)
	require.NoError(t, err)
	return out
}

type fakeFeed struct {
	mu    sync.Mutex
	video *Video
	err   error
	calls int
}

func (f *fakeFeed) LatestVideo(ctx context.Context, youtubeID string) (*Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.video == nil {
		return nil, nil
	}
	v := *f.video
	return &v, nil
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFeed) set(video *Video, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video, f.err = video, err
}

type fakeClassifier struct {
	status *LiveStatus
	err    error
}

func (f *fakeClassifier) ClassifyLive(ctx context.Context, videoID string) (*LiveStatus, error) {
	return f.status, f.err
}

type orderCall struct {
	serviceID string
	link      string
	quantity  int
}

type fakeOrders struct {
	mu      sync.Mutex
	nextID  int
	failFor map[string]error // serviceID -> error
	calls   []orderCall

	perCallDelay time.Duration // set before use

	balance      float64
	balanceErr   error
	balanceCalls int
}

func (f *fakeOrders) CreateOrder(ctx context.Context, apiKey, serviceID, link string, quantity int) (string, error) {
	if f.perCallDelay > 0 {
		select {
		case <-time.After(f.perCallDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, orderCall{serviceID, link, quantity})
	if err, ok := f.failFor[serviceID]; ok {
		return "", err
	}
	f.nextID++
	return "order-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeOrders) Balance(ctx context.Context, apiKey string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.balance, f.balanceErr
}

func (f *fakeOrders) orderCalls() []orderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orderCall(nil), f.calls...)
}

func (f *fakeOrders) balanceCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

func newTestDispatcher(t *testing.T, st *store.Store, ledger *Ledger, orders OrderClient, notify Notifier) *Dispatcher {
	t.Helper()
	d := NewDispatcher(nil, zap.NewNop(), st, ledger, orders, notify)
	d.delay = 0
	return d
}
