package main

import (
	"net/http"
	"os"
	"time"

	"github.com/tdngo/boostwatch/app"
	"github.com/tdngo/boostwatch/config"
	"github.com/tdngo/boostwatch/monitor"
	"github.com/tdngo/boostwatch/senders"
	"github.com/tdngo/boostwatch/smmapi"
	"github.com/tdngo/boostwatch/store"
	"github.com/tdngo/boostwatch/youtube"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(NewLogger),
		fx.Provide(config.NewConfig),

		fx.Provide(app.NewTransport),
		fx.Provide(store.NewDatabase),
		fx.Provide(store.New),

		fx.Provide(senders.NewSenderRegistry),
		fx.Provide(youtube.NewClient),
		fx.Provide(smmapi.NewClient),

		fx.Provide(func(c *youtube.Client) monitor.FeedSource { return c }),
		fx.Provide(func(c *youtube.Client) monitor.LiveClassifier { return c }),
		fx.Provide(func(c *smmapi.Client) monitor.OrderClient { return c }),

		fx.Provide(app.NewOrderNotifier),
		fx.Provide(monitor.NewDetector),
		fx.Provide(monitor.NewLedger),
		fx.Provide(monitor.NewDispatcher),
		fx.Provide(monitor.NewMonitor),

		fx.Provide(app.NewService),
		fx.Provide(app.NewJanitor),
		fx.Provide(app.NewHTTPServer),

		fx.Invoke(func(*monitor.Monitor) {}),
		fx.Invoke(func(*app.Janitor) {}),
		fx.Invoke(func(*http.Server) {}),
	).Run()
}
