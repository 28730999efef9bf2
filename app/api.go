package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tdngo/boostwatch/config"
	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *Service) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("boostwatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", ctrl.listChannels)
			r.Post("/", ctrl.addChannel)
			r.Post("/start-all", ctrl.startAll)
			r.Post("/stop-all", ctrl.stopAll)

			r.Route("/{channel_id}", func(r chi.Router) {
				r.Get("/", ctrl.getChannel)
				r.Put("/", ctrl.updateChannel)
				r.Delete("/", ctrl.deleteChannel)
				r.Put("/services", ctrl.setServices)
				r.Post("/start", ctrl.startChannel)
				r.Post("/stop", ctrl.stopChannel)
				r.Get("/history", ctrl.channelHistory)
			})
		})

		r.Post("/config/api-key", ctrl.saveAPIKey)
		r.Get("/services", ctrl.refreshServices)
		r.Get("/balance", ctrl.checkBalance)
		r.Get("/logs", ctrl.logs)
		r.Get("/orders", ctrl.orders)
		r.Get("/stats", ctrl.stats)
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) rejectErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		ctrl.reject(w, http.StatusNotFound, errors.New("channel not found"))
		return
	}
	ctrl.reject(w, http.StatusInternalServerError, err)
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Error("Request failed", "error", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func (ctrl *controller) decodeInput(w http.ResponseWriter, r *http.Request) (ChannelInput, bool) {
	var in ChannelInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return in, false
	}
	return in, true
}

func (ctrl *controller) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := ctrl.svc.ListChannels(r.Context())
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, channels)
}

func (ctrl *controller) addChannel(w http.ResponseWriter, r *http.Request) {
	in, ok := ctrl.decodeInput(w, r)
	if !ok {
		return
	}
	ch, err := ctrl.svc.AddChannel(r.Context(), in)
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, ch)
}

func (ctrl *controller) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := ctrl.svc.GetChannel(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ch)
}

func (ctrl *controller) updateChannel(w http.ResponseWriter, r *http.Request) {
	in, ok := ctrl.decodeInput(w, r)
	if !ok {
		return
	}
	ch, err := ctrl.svc.UpdateChannel(r.Context(), chi.URLParam(r, "channel_id"), in)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ch)
}

func (ctrl *controller) deleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteChannel(r.Context(), chi.URLParam(r, "channel_id")); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"deleted": true})
}

func (ctrl *controller) setServices(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Services []ServiceInput `json:"services"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	ch, err := ctrl.svc.SetServices(r.Context(), chi.URLParam(r, "channel_id"), in.Services)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ctrl.rejectErr(w, err)
		} else {
			ctrl.reject(w, http.StatusBadRequest, err)
		}
		return
	}
	ctrl.resolve(w, http.StatusOK, ch)
}

func (ctrl *controller) startChannel(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.StartChannel(r.Context(), chi.URLParam(r, "channel_id")); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"running": true})
}

func (ctrl *controller) stopChannel(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.StopChannel(r.Context(), chi.URLParam(r, "channel_id")); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"running": false})
}

func (ctrl *controller) startAll(w http.ResponseWriter, r *http.Request) {
	count, err := ctrl.svc.StartAll(r.Context())
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"started": count})
}

func (ctrl *controller) stopAll(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.StopAll(r.Context()); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"stopped": true})
}

func (ctrl *controller) channelHistory(w http.ResponseWriter, r *http.Request) {
	history, err := ctrl.svc.ChannelHistory(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, history)
}

func (ctrl *controller) saveAPIKey(w http.ResponseWriter, r *http.Request) {
	var in struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	if err := ctrl.svc.SaveAPIKey(r.Context(), in.APIKey); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"saved": true})
}

func (ctrl *controller) refreshServices(w http.ResponseWriter, r *http.Request) {
	services, err := ctrl.svc.RefreshServices(r.Context())
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, services)
}

func (ctrl *controller) checkBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := ctrl.svc.CheckBalance(r.Context())
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"balance": balance})
}

func (ctrl *controller) logs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := ctrl.svc.Logs(r.Context(), r.URL.Query().Get("channel_id"), limit)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, entries)
}

func (ctrl *controller) orders(w http.ResponseWriter, r *http.Request) {
	orders, err := ctrl.svc.Orders(r.Context())
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, orders)
}

func (ctrl *controller) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := ctrl.svc.Stats(r.Context())
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, stats)
}
