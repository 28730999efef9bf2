package app

import (
	"context"

	"github.com/tdngo/boostwatch/config"
	"github.com/tdngo/boostwatch/monitor"
	"github.com/tdngo/boostwatch/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// orderNotifier bridges the dispatcher to the sender registry. Sends are
// best-effort; failures are logged and swallowed.
type orderNotifier struct {
	log     *zap.Logger
	cfg     *config.Config
	senders senders.Registry
}

func NewOrderNotifier(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, registry senders.Registry) monitor.Notifier {
	return &orderNotifier{log, cfg, registry}
}

func (n *orderNotifier) OrdersPlaced(ctx context.Context, channelName string, video *monitor.Video, count int) {
	if !n.cfg.NotifyConfigured() {
		return
	}

	subject, body := senders.OrderEmail(channelName, video.Title, video.URL, count)
	sender := n.senders["email"]

	id, err := sender.Send(ctx, subject, body, n.cfg.Mailgun.Recipient)
	if err != nil {
		n.log.Sugar().Infow("Failed to send order notification", "err", err)
		return
	}
	n.log.Sugar().Infow("Sent order notification", "message_id", id)
}
