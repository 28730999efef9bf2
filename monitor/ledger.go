package monitor

import (
	"errors"

	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrDuplicateOrder means an order was already recorded for the same
// (video, service) pair. Callers treat it as already-succeeded.
var ErrDuplicateOrder = errors.New("order already recorded for this video and service")

// Ledger is the authoritative record of which (video, service) pairs have
// been fulfilled. Its unique-constraint inserts are the only at-most-once
// authority; the channel's last-seen id is merely an optimization.
type Ledger struct {
	log   *zap.Logger
	store *store.Store
}

func NewLedger(lc fx.Lifecycle, log *zap.Logger, st *store.Store) *Ledger {
	return &Ledger{log: log, store: st}
}

// EnsureProcessed returns the processed-video row for (channel, video),
// creating it if absent. The insert is conflict-tolerant, so concurrent
// callers converge on the same row.
func (l *Ledger) EnsureProcessed(ch *store.Channel, video *Video) (*store.ProcessedVideo, error) {
	pv := &store.ProcessedVideo{
		ChannelID: ch.ID,
		VideoID:   video.ID,
		Title:     video.Title,
		URL:       video.URL,
		Live:      video.Live,
	}
	if err := l.store.InsertProcessedVideo(pv); err != nil {
		if !store.IsUniqueViolation(err) {
			return nil, err
		}
	}
	if pv.ID != 0 {
		return pv, nil
	}
	// Conflict: the pair already exists, fetch the winning row.
	return l.store.GetProcessedVideo(ch.ID, video.ID)
}

func (l *Ledger) IsFulfilled(pv *store.ProcessedVideo, serviceID string) (bool, error) {
	return l.store.HasVideoOrder(pv.ID, serviceID)
}

// RecordOrder inserts the fulfillment row. A second insert for the same
// pair fails with ErrDuplicateOrder; callers check IsFulfilled first and
// this is the backstop.
func (l *Ledger) RecordOrder(pv *store.ProcessedVideo, serviceID, remoteOrderID string, quantity int) error {
	err := l.store.InsertVideoOrder(&store.VideoOrder{
		ProcessedVideoID: pv.ID,
		ServiceID:        serviceID,
		RemoteOrderID:    remoteOrderID,
		Quantity:         quantity,
	})
	if store.IsUniqueViolation(err) {
		return ErrDuplicateOrder
	}
	return err
}
