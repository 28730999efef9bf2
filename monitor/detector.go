package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/tdngo/boostwatch/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Video is one piece of content discovered on a channel's feed.
type Video struct {
	ID          string
	Title       string
	URL         string
	PublishedAt time.Time
	Live        bool
}

// LiveState classifies a video's broadcast status.
type LiveState string

const (
	StateNone     LiveState = "none"
	StateLive     LiveState = "live"
	StateUpcoming LiveState = "upcoming"
)

type LiveStatus struct {
	IsLive bool
	State  LiveState
}

// FeedSource is the feed collaborator. A transient fetch failure surfaces
// as an error; an empty feed as (nil, nil). Neither is ever fatal to a
// check cycle.
type FeedSource interface {
	LatestVideo(ctx context.Context, youtubeID string) (*Video, error)
}

// LiveClassifier is the optional livestream-classification collaborator.
type LiveClassifier interface {
	ClassifyLive(ctx context.Context, videoID string) (*LiveStatus, error)
}

type DetectStatus int

const (
	StatusNoItem DetectStatus = iota
	StatusUnchanged
	StatusNew
	StatusFiltered
)

type Detection struct {
	Status DetectStatus
	Video  *Video
}

// Detector observes a channel's feed once per call and classifies the
// result against the channel's last-seen state.
type Detector struct {
	log        *zap.Logger
	store      *store.Store
	feed       FeedSource
	classifier LiveClassifier // nil when not configured
	now        func() time.Time
}

func NewDetector(lc fx.Lifecycle, log *zap.Logger, st *store.Store, feed FeedSource, classifier LiveClassifier) *Detector {
	return &Detector{log: log, store: st, feed: feed, classifier: classifier, now: time.Now}
}

// Detect fetches the channel's latest video and classifies it. For a new
// video the channel's last-seen id is persisted before the caller proceeds
// to dispatch, so a crash between detection and ordering never re-detects
// the same video; re-dispatch safety from that point on rests entirely on
// the ledger.
func (d *Detector) Detect(ctx context.Context, ch *store.Channel) Detection {
	video, err := d.feed.LatestVideo(ctx, ch.YoutubeID)
	if err != nil || video == nil {
		// Empty feed and fetch failure get the same treatment: note it,
		// bump last-checked, end the cycle.
		if err != nil {
			d.log.Sugar().Warnf("[%s] feed fetch failed: %v", ch.Name, err)
			d.store.AddLog(ch.ID, "warn", fmt.Sprintf("feed fetch failed: %v", err))
		} else {
			d.store.AddLog(ch.ID, "info", "no videos found on feed")
		}
		d.markChecked(ch)
		return Detection{Status: StatusNoItem}
	}

	if video.ID == ch.LastVideoID {
		d.markChecked(ch)
		return Detection{Status: StatusUnchanged, Video: video}
	}

	if d.classifier != nil {
		if status, err := d.classifier.ClassifyLive(ctx, video.ID); err != nil {
			d.log.Sugar().Warnf("[%s] live classification failed for %s: %v", ch.Name, video.ID, err)
		} else if status != nil {
			video.Live = status.State != StateNone
		}
	}

	if err := d.store.MarkSeen(ch.ID, video.ID, d.now()); err != nil {
		d.log.Sugar().Errorf("[%s] failed to record last seen video: %v", ch.Name, err)
		return Detection{Status: StatusNoItem}
	}
	ch.LastVideoID = video.ID

	if filtered(ch.ContentType, video.Live) {
		d.store.AddLog(ch.ID, "info",
			fmt.Sprintf("video %s skipped by content filter (%s)", video.ID, ch.ContentType))
		return Detection{Status: StatusFiltered, Video: video}
	}

	d.log.Sugar().Infof("[%s] new video detected: %s", ch.Name, video.ID)
	d.store.AddLog(ch.ID, "info", fmt.Sprintf("new video detected: %s", video.ID))
	return Detection{Status: StatusNew, Video: video}
}

func (d *Detector) markChecked(ch *store.Channel) {
	if err := d.store.MarkChecked(ch.ID, d.now()); err != nil {
		d.log.Sugar().Errorf("[%s] failed to update last checked: %v", ch.Name, err)
	}
}

func filtered(contentType string, live bool) bool {
	switch contentType {
	case store.FilterVOD:
		return live
	case store.FilterLive:
		return !live
	default:
		return false
	}
}
