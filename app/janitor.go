package app

import (
	"context"
	"time"

	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	pruneInterval = 1 * time.Hour
	logRetention  = 1000 // newest entries kept
)

// Janitor caps the audit log by pruning old entries on a fixed period.
type Janitor struct {
	log   *zap.Logger
	store *store.Store

	interval time.Duration
	keep     int
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewJanitor(lc fx.Lifecycle, log *zap.Logger, st *store.Store) *Janitor {
	j := &Janitor{
		log:      log,
		store:    st,
		interval: pruneInterval,
		keep:     logRetention,
		done:     make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			j.cancel = cancel
			go j.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			j.cancel()
			<-j.done
			return nil
		},
	})

	return j
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *Janitor) prune() {
	removed, err := j.store.PruneLogs(j.keep)
	if err != nil {
		j.log.Sugar().Errorf("log prune failed: %v", err)
		return
	}
	if removed > 0 {
		j.log.Sugar().Infof("Pruned %d old log entries", removed)
	}
}
