package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	interCallDelay   = 2 * time.Second
	orderCallTimeout = 15 * time.Second
)

// OrderClient is the remote ordering collaborator. CreateOrder fails with
// an explicit error, never a silent empty id.
type OrderClient interface {
	CreateOrder(ctx context.Context, apiKey, serviceID, link string, quantity int) (string, error)
	Balance(ctx context.Context, apiKey string) (float64, error)
}

// Notifier receives a best-effort heads-up after orders are placed. Send
// failures never affect the dispatch outcome.
type Notifier interface {
	OrdersPlaced(ctx context.Context, channelName string, video *Video, count int)
}

// Dispatcher walks a channel's configured service selections for a newly
// detected video, placing at most one order per (video, service) pair.
type Dispatcher struct {
	log    *zap.Logger
	store  *store.Store
	ledger *Ledger
	orders OrderClient
	notify Notifier // nil when notifications are not configured

	delay       time.Duration // pause between successive remote calls
	callTimeout time.Duration
}

func NewDispatcher(lc fx.Lifecycle, log *zap.Logger, st *store.Store, ledger *Ledger, orders OrderClient, notify Notifier) *Dispatcher {
	return &Dispatcher{
		log:         log,
		store:       st,
		ledger:      ledger,
		orders:      orders,
		notify:      notify,
		delay:       interCallDelay,
		callTimeout: orderCallTimeout,
	}
}

// Dispatch places orders for every configured service not yet fulfilled for
// this video. One service failing never aborts the others. Missing API key
// or empty selections end the cycle cleanly; the next fire retries
// naturally.
func (d *Dispatcher) Dispatch(ctx context.Context, ch *store.Channel, pv *store.ProcessedVideo, video *Video) {
	apiKey, err := d.store.GetSetting(store.SettingAPIKey)
	if err != nil {
		d.log.Sugar().Errorf("[%s] failed to load api key: %v", ch.Name, err)
		return
	}
	if apiKey == "" {
		d.log.Sugar().Warnf("[%s] no api key configured, skipping dispatch", ch.Name)
		d.store.AddLog(ch.ID, "warn", "no api key configured, orders skipped")
		return
	}

	selections, err := d.store.ServicesFor(ch.ID)
	if err != nil {
		d.log.Sugar().Errorf("[%s] failed to load service selections: %v", ch.Name, err)
		return
	}
	if len(selections) == 0 {
		d.log.Sugar().Warnf("[%s] no services selected, nothing to order", ch.Name)
		d.store.AddLog(ch.ID, "warn", "no services selected, nothing to order")
		return
	}

	placed := 0
	called := false
	for _, sel := range selections {
		if ctx.Err() != nil {
			return
		}

		fulfilled, err := d.ledger.IsFulfilled(pv, sel.ServiceID)
		if err != nil {
			d.log.Sugar().Errorf("[%s] ledger check failed for service %s: %v", ch.Name, sel.ServiceID, err)
			continue
		}
		if fulfilled {
			d.log.Sugar().Infof("[%s] video %s already ordered on service %s, skipping",
				ch.Name, video.ID, sel.ServiceID)
			continue
		}

		if called && !d.pause(ctx) {
			return
		}
		called = true

		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		remoteID, err := d.orders.CreateOrder(callCtx, apiKey, sel.ServiceID, video.URL, sel.Quantity)
		cancel()
		if err != nil {
			d.log.Sugar().Errorf("[%s] order failed for service %s: %v", ch.Name, sel.ServiceID, err)
			d.store.AddLog(ch.ID, "error",
				fmt.Sprintf("order failed for video %s, service %s: %v", video.ID, sel.ServiceID, err))
			continue
		}

		if err := d.ledger.RecordOrder(pv, sel.ServiceID, remoteID, sel.Quantity); err != nil {
			if errors.Is(err, ErrDuplicateOrder) {
				// Someone beat us to it. The remote order stands; not an error.
				d.log.Sugar().Infof("[%s] order for service %s already recorded", ch.Name, sel.ServiceID)
			} else {
				d.log.Sugar().Errorf("[%s] failed to record order %s: %v", ch.Name, remoteID, err)
			}
			continue
		}

		placed++
		d.log.Sugar().Infof("[%s] order placed: video %s, service %s, quantity %d, order id %s",
			ch.Name, video.ID, sel.ServiceID, sel.Quantity, remoteID)
		d.store.AddLog(ch.ID, "info",
			fmt.Sprintf("order placed: video %s, service %s, quantity %d, order id %s",
				video.ID, sel.ServiceID, sel.Quantity, remoteID))
	}

	if placed > 0 {
		d.refreshBalance(ctx, ch, apiKey)
		if d.notify != nil {
			d.notify.OrdersPlaced(ctx, ch.Name, video, placed)
		}
	}
}

// pause waits out the inter-call delay, bailing early on cancellation.
func (d *Dispatcher) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d.delay):
		return true
	}
}

func (d *Dispatcher) refreshBalance(ctx context.Context, ch *store.Channel, apiKey string) {
	balance, err := d.orders.Balance(ctx, apiKey)
	if err != nil {
		d.log.Sugar().Warnf("[%s] balance refresh failed: %v", ch.Name, err)
		return
	}
	if err := d.store.SetSetting(store.SettingBalance, strconv.FormatFloat(balance, 'f', 2, 64)); err != nil {
		d.log.Sugar().Warnf("[%s] failed to cache balance: %v", ch.Name, err)
	}
}
