package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tdngo/boostwatch/config"
	"github.com/tdngo/boostwatch/monitor"
	"github.com/tdngo/boostwatch/smmapi"
	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ChannelInput is the operator-supplied shape for creating or editing a
// channel.
type ChannelInput struct {
	Name        string         `json:"name"`
	YoutubeID   string         `json:"youtube_id"`
	Schedule    string         `json:"schedule"`
	ContentType string         `json:"content_type"`
	Services    []ServiceInput `json:"services"`
}

type ServiceInput struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
}

// Service implements the admin operations behind the HTTP surface.
type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *store.Store
	monitor *monitor.Monitor
	panel   *smmapi.Client
}

func NewService(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, st *store.Store, mon *monitor.Monitor, panel *smmapi.Client) *Service {
	return &Service{cfg, log, st, mon, panel}
}

func (svc *Service) validateInput(in *ChannelInput) error {
	if in.Name == "" {
		return errors.New("name is required")
	}
	if in.YoutubeID == "" {
		return errors.New("youtube_id is required")
	}
	switch in.ContentType {
	case "":
		in.ContentType = store.FilterAny
	case store.FilterAny, store.FilterVOD, store.FilterLive:
	default:
		return fmt.Errorf("content_type must be one of %s, %s, %s",
			store.FilterAny, store.FilterVOD, store.FilterLive)
	}
	for _, sel := range in.Services {
		if sel.ServiceID == "" || sel.Quantity <= 0 {
			return errors.New("each service needs a service_id and a positive quantity")
		}
	}
	return nil
}

func (svc *Service) AddChannel(ctx context.Context, in ChannelInput) (*store.Channel, error) {
	if err := svc.validateInput(&in); err != nil {
		return nil, err
	}

	ch := &store.Channel{
		ID:          uuid.NewString(),
		Name:        in.Name,
		YoutubeID:   in.YoutubeID,
		Schedule:    in.Schedule,
		ContentType: in.ContentType,
	}
	if err := svc.store.CreateChannel(ch); err != nil {
		return nil, err
	}
	if len(in.Services) > 0 {
		if err := svc.store.ReplaceServices(ch.ID, toSelections(in.Services)); err != nil {
			return nil, err
		}
	}
	svc.log.Sugar().Infof("Created channel %s (%s)", ch.Name, ch.ID)
	return svc.store.GetChannel(ch.ID)
}

// UpdateChannel applies the edit and re-arms the monitor when the channel
// is currently running, so schedule changes take effect immediately.
func (svc *Service) UpdateChannel(ctx context.Context, id string, in ChannelInput) (*store.Channel, error) {
	if err := svc.validateInput(&in); err != nil {
		return nil, err
	}
	if _, err := svc.store.GetChannel(id); err != nil {
		return nil, err
	}

	err := svc.store.UpdateChannel(id, map[string]any{
		"name":         in.Name,
		"youtube_id":   in.YoutubeID,
		"schedule":     in.Schedule,
		"content_type": in.ContentType,
	})
	if err != nil {
		return nil, err
	}
	if err := svc.store.ReplaceServices(id, toSelections(in.Services)); err != nil {
		return nil, err
	}

	if svc.monitor.IsRunning(id) {
		if err := svc.monitor.StartChannel(id); err != nil {
			return nil, err
		}
	}
	return svc.store.GetChannel(id)
}

// SetServices replaces the channel's service selections wholesale.
func (svc *Service) SetServices(ctx context.Context, id string, inputs []ServiceInput) (*store.Channel, error) {
	for _, sel := range inputs {
		if sel.ServiceID == "" || sel.Quantity <= 0 {
			return nil, errors.New("each service needs a service_id and a positive quantity")
		}
	}
	if _, err := svc.store.GetChannel(id); err != nil {
		return nil, err
	}
	if err := svc.store.ReplaceServices(id, toSelections(inputs)); err != nil {
		return nil, err
	}
	return svc.store.GetChannel(id)
}

// DeleteChannel stops monitoring first, then cascades the delete.
func (svc *Service) DeleteChannel(ctx context.Context, id string) error {
	if err := svc.monitor.StopChannel(id); err != nil {
		svc.log.Sugar().Warnf("channel %s: stop before delete failed: %v", id, err)
	}
	return svc.store.DeleteChannel(id)
}

func (svc *Service) StartChannel(ctx context.Context, id string) error {
	return svc.monitor.StartChannel(id)
}

func (svc *Service) StopChannel(ctx context.Context, id string) error {
	return svc.monitor.StopChannel(id)
}

func (svc *Service) StartAll(ctx context.Context) (int, error) {
	channels, err := svc.store.ListChannels()
	if err != nil {
		return 0, err
	}
	started := 0
	for i := range channels {
		if err := svc.monitor.StartChannel(channels[i].ID); err != nil {
			svc.log.Sugar().Errorf("[%s] failed to start: %v", channels[i].Name, err)
			continue
		}
		started++
	}
	return started, nil
}

func (svc *Service) StopAll(ctx context.Context) error {
	channels, err := svc.store.ListChannels()
	if err != nil {
		return err
	}
	for i := range channels {
		if err := svc.monitor.StopChannel(channels[i].ID); err != nil {
			svc.log.Sugar().Errorf("[%s] failed to stop: %v", channels[i].Name, err)
		}
	}
	return nil
}

func (svc *Service) ListChannels(ctx context.Context) ([]store.Channel, error) {
	return svc.store.ListChannels()
}

func (svc *Service) GetChannel(ctx context.Context, id string) (*store.Channel, error) {
	return svc.store.GetChannel(id)
}

func (svc *Service) ChannelHistory(ctx context.Context, id string) ([]store.ProcessedVideo, error) {
	return svc.store.ChannelHistory(id)
}

func (svc *Service) Orders(ctx context.Context) ([]store.OrderRecord, error) {
	return svc.store.AllOrders()
}

func (svc *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return svc.store.GetStats(time.Now())
}

func (svc *Service) Logs(ctx context.Context, channelID string, limit int) ([]store.LogEntry, error) {
	if channelID != "" {
		return svc.store.LogsForChannel(channelID, limit)
	}
	return svc.store.Logs(limit)
}

func (svc *Service) SaveAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("api key is required")
	}
	return svc.store.SetSetting(store.SettingAPIKey, key)
}

// RefreshServices pulls the panel's service catalog and caches it for the
// admin UI.
func (svc *Service) RefreshServices(ctx context.Context) ([]smmapi.Service, error) {
	apiKey, err := svc.requireAPIKey()
	if err != nil {
		return nil, err
	}

	services, err := svc.panel.Services(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(services); err == nil {
		if err := svc.store.SetSetting(store.SettingServices, string(raw)); err != nil {
			svc.log.Sugar().Warnf("failed to cache service catalog: %v", err)
		}
	}
	return services, nil
}

func (svc *Service) CheckBalance(ctx context.Context) (float64, error) {
	apiKey, err := svc.requireAPIKey()
	if err != nil {
		return 0, err
	}

	balance, err := svc.panel.Balance(ctx, apiKey)
	if err != nil {
		return 0, err
	}
	if err := svc.store.SetSetting(store.SettingBalance, fmt.Sprintf("%.2f", balance)); err != nil {
		svc.log.Sugar().Warnf("failed to cache balance: %v", err)
	}
	return balance, nil
}

func (svc *Service) requireAPIKey() (string, error) {
	apiKey, err := svc.store.GetSetting(store.SettingAPIKey)
	if err != nil {
		return "", err
	}
	if apiKey == "" {
		return "", errors.New("api key not configured")
	}
	return apiKey, nil
}

func toSelections(inputs []ServiceInput) []store.ChannelService {
	out := make([]store.ChannelService, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, store.ChannelService{ServiceID: in.ServiceID, Quantity: in.Quantity})
	}
	return out
}
