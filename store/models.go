package store

import (
	"database/sql"
	"time"
)

// ContentFilter values accepted on Channel.ContentType.
const (
	FilterAny  = "any"
	FilterVOD  = "video" // regular uploads only, skip livestreams
	FilterLive = "live"  // livestreams only
)

// Channel is a tracked YouTube channel. Schedule is a comma-separated list
// of HH:MM tokens; empty means continuous polling.
type Channel struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	YoutubeID   string `gorm:"uniqueIndex"`
	Schedule    string
	ContentType string `gorm:"default:any"`
	Running     bool
	LastVideoID string
	LastChecked sql.NullTime
	CreatedAt   time.Time

	Services []ChannelService `gorm:"foreignKey:ChannelID"`
}

// ChannelService is one (service, quantity) selection assigned to a channel.
// The set is replaced wholesale on edit; dispatch order follows insert order.
type ChannelService struct {
	ID        uint   `gorm:"primarykey"`
	ChannelID string `gorm:"index"`
	ServiceID string
	Quantity  int
}

// ProcessedVideo records one video observed on one channel, unique on the
// (channel, video) pair. Rows are never updated or deleted once written,
// except through channel deletion.
type ProcessedVideo struct {
	ID          uint   `gorm:"primarykey"`
	ChannelID   string `gorm:"index:idx_channel_video,unique"`
	VideoID     string `gorm:"index:idx_channel_video,unique"`
	Title       string
	URL         string
	Live        bool
	ProcessedAt time.Time `gorm:"autoCreateTime"`

	Orders []VideoOrder `gorm:"foreignKey:ProcessedVideoID"`
}

// VideoOrder is one successfully placed panel order. The unique index on
// (processed video, service) is the sole at-most-once authority.
type VideoOrder struct {
	ID               uint   `gorm:"primarykey"`
	ProcessedVideoID uint   `gorm:"index:idx_processed_service,unique"`
	ServiceID        string `gorm:"index:idx_processed_service,unique"`
	RemoteOrderID    string
	Quantity         int
	CreatedAt        time.Time
}

// LogEntry is one line of the append-only audit trail.
type LogEntry struct {
	ID        uint   `gorm:"primarykey"`
	ChannelID string `gorm:"index"`
	Level     string
	Message   string
	CreatedAt time.Time
}

// Setting is an operator-editable key/value (api_key, cached balance,
// cached services list).
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}
