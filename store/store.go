package store

import (
	"errors"
	"strings"
	"time"

	"github.com/tdngo/boostwatch/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys.
const (
	SettingAPIKey   = "api_key"
	SettingBalance  = "balance"
	SettingServices = "services"
)

var ErrNotFound = gorm.ErrRecordNotFound

func NewDatabase(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		log.Sugar().Panic("failed to connect database", "err", err)
	}
	log.Info("Database started")

	log.Info("Starting migrations")
	if err := Migrate(db); err != nil {
		log.Sugar().Panic("migrations failed", "err", err)
	}
	return db
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Channel{},
		&ChannelService{},
		&ProcessedVideo{},
		&VideoOrder{},
		&LogEntry{},
		&Setting{},
	)
}

// Store is the one synchronous persistence interface shared by the monitor
// core and the admin service.
type Store struct {
	db *gorm.DB
}

func New(lc fx.Lifecycle, db *gorm.DB) *Store {
	return &Store{db}
}

// NewWithDB wraps an already-open connection, for tests.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db}
}

// ---- channels ----

func (s *Store) CreateChannel(ch *Channel) error {
	return s.db.Create(ch).Error
}

func (s *Store) GetChannel(id string) (*Channel, error) {
	ch := &Channel{}
	if err := s.db.Preload("Services").First(ch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *Store) ListChannels() ([]Channel, error) {
	var chs []Channel
	err := s.db.Preload("Services").Order("created_at desc").Find(&chs).Error
	return chs, err
}

func (s *Store) RunningChannels() ([]Channel, error) {
	var chs []Channel
	err := s.db.Where("running = ?", true).Find(&chs).Error
	return chs, err
}

func (s *Store) UpdateChannel(id string, fields map[string]any) error {
	return s.db.Model(&Channel{}).Where("id = ?", id).Updates(fields).Error
}

func (s *Store) SetRunning(id string, running bool) error {
	return s.UpdateChannel(id, map[string]any{"running": running})
}

// MarkChecked bumps only the last-checked timestamp.
func (s *Store) MarkChecked(id string, t time.Time) error {
	return s.UpdateChannel(id, map[string]any{"last_checked": t})
}

// MarkSeen records the latest observed video id together with the check
// timestamp. This runs before dispatch so a crash mid-cycle cannot cause
// the same video to be detected as new again.
func (s *Store) MarkSeen(id, videoID string, t time.Time) error {
	return s.UpdateChannel(id, map[string]any{"last_video_id": videoID, "last_checked": t})
}

// DeleteChannel removes the channel and cascades to its selections,
// processed videos and orders in one transaction.
func (s *Store) DeleteChannel(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var videoIDs []uint
		if err := tx.Model(&ProcessedVideo{}).Where("channel_id = ?", id).Pluck("id", &videoIDs).Error; err != nil {
			return err
		}
		if len(videoIDs) > 0 {
			if err := tx.Where("processed_video_id IN ?", videoIDs).Delete(&VideoOrder{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("channel_id = ?", id).Delete(&ProcessedVideo{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", id).Delete(&ChannelService{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Channel{}, "id = ?", id).Error
	})
}

// ---- service selections ----

// ReplaceServices swaps the channel's selections wholesale, delete-then-insert
// as one atomic unit.
func (s *Store) ReplaceServices(channelID string, selections []ChannelService) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", channelID).Delete(&ChannelService{}).Error; err != nil {
			return err
		}
		for i := range selections {
			selections[i].ID = 0
			selections[i].ChannelID = channelID
			if err := tx.Create(&selections[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ServicesFor(channelID string) ([]ChannelService, error) {
	var sel []ChannelService
	err := s.db.Where("channel_id = ?", channelID).Order("id asc").Find(&sel).Error
	return sel, err
}

// ---- processed videos & orders ----

func (s *Store) GetProcessedVideo(channelID, videoID string) (*ProcessedVideo, error) {
	pv := &ProcessedVideo{}
	err := s.db.Where("channel_id = ? AND video_id = ?", channelID, videoID).First(pv).Error
	if err != nil {
		return nil, err
	}
	return pv, nil
}

// InsertProcessedVideo is a conflict-tolerant insert on (channel, video).
// When the row already exists the insert is a no-op and the caller should
// re-select.
func (s *Store) InsertProcessedVideo(pv *ProcessedVideo) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(pv).Error
}

func (s *Store) HasVideoOrder(processedVideoID uint, serviceID string) (bool, error) {
	var n int64
	err := s.db.Model(&VideoOrder{}).
		Where("processed_video_id = ? AND service_id = ?", processedVideoID, serviceID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) InsertVideoOrder(order *VideoOrder) error {
	return s.db.Create(order).Error
}

// IsUniqueViolation reports whether err came from a unique-index conflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// The sqlite driver does not translate constraint errors; match the text.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ChannelHistory returns the channel's processed videos, newest first, each
// with its orders.
func (s *Store) ChannelHistory(channelID string) ([]ProcessedVideo, error) {
	var videos []ProcessedVideo
	err := s.db.Preload("Orders").
		Where("channel_id = ?", channelID).
		Order("processed_at desc").
		Find(&videos).Error
	return videos, err
}

// OrderRecord is a flattened order row for the admin surface.
type OrderRecord struct {
	OrderID       uint      `json:"id"`
	ChannelID     string    `json:"channel_id"`
	VideoID       string    `json:"video_id"`
	VideoURL      string    `json:"video_url"`
	ServiceID     string    `json:"service_id"`
	RemoteOrderID string    `json:"remote_order_id"`
	Quantity      int       `json:"quantity"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Store) AllOrders() ([]OrderRecord, error) {
	var rows []OrderRecord
	err := s.db.Model(&VideoOrder{}).
		Select(`video_orders.id as order_id,
			processed_videos.channel_id as channel_id,
			processed_videos.video_id as video_id,
			processed_videos.url as video_url,
			video_orders.service_id as service_id,
			video_orders.remote_order_id as remote_order_id,
			video_orders.quantity as quantity,
			video_orders.created_at as created_at`).
		Joins("JOIN processed_videos ON processed_videos.id = video_orders.processed_video_id").
		Order("video_orders.created_at desc").
		Scan(&rows).Error
	return rows, err
}

// ---- stats ----

type Stats struct {
	TotalChannels   int64 `json:"total_channels"`
	RunningChannels int64 `json:"running_channels"`
	TotalOrders     int64 `json:"total_orders"`
	OrdersToday     int64 `json:"orders_today"`
}

func (s *Store) GetStats(now time.Time) (*Stats, error) {
	st := &Stats{}
	if err := s.db.Model(&Channel{}).Count(&st.TotalChannels).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&Channel{}).Where("running = ?", true).Count(&st.RunningChannels).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&VideoOrder{}).Count(&st.TotalOrders).Error; err != nil {
		return nil, err
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.db.Model(&VideoOrder{}).Where("created_at >= ?", midnight).Count(&st.OrdersToday).Error; err != nil {
		return nil, err
	}
	return st, nil
}

// ---- audit log ----

func (s *Store) AddLog(channelID, level, message string) error {
	return s.db.Create(&LogEntry{ChannelID: channelID, Level: level, Message: message}).Error
}

func (s *Store) Logs(limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}

func (s *Store) LogsForChannel(channelID string, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.Where("channel_id = ?", channelID).Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}

// PruneLogs keeps only the newest `keep` entries and returns how many rows
// were removed.
func (s *Store) PruneLogs(keep int) (int64, error) {
	tx := s.db.Exec(
		`DELETE FROM log_entries WHERE id NOT IN (SELECT id FROM log_entries ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	return tx.RowsAffected, tx.Error
}

// ---- settings ----

func (s *Store) GetSetting(key string) (string, error) {
	setting := Setting{}
	err := s.db.First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *Store) SetSetting(key, value string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}).Error
}
