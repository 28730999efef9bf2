package youtube

import (
	"context"
	"encoding/xml"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"github.com/tdngo/boostwatch/monitor"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// isLiveNow appears in the player JSON embedded in watch pages while a
// stream is on air.
var liveNowPattern = regexp.MustCompile(`"isLiveNow"\s*:\s*true`)

// Client reads public YouTube surfaces: the per-channel RSS feed for the
// latest upload, and watch-page microdata for livestream classification.
type Client struct {
	log       *zap.Logger
	transport http.RoundTripper
	baseURL   string
}

func NewClient(lc fx.Lifecycle, log *zap.Logger, transport http.RoundTripper) *Client {
	return &Client{log: log, transport: transport, baseURL: "https://www.youtube.com"}
}

type feedXML struct {
	Entries []entryXML `xml:"entry"`
}

type entryXML struct {
	VideoID   string `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// LatestVideo returns the newest entry on the channel's feed, nil when the
// feed is empty.
func (c *Client) LatestVideo(ctx context.Context, youtubeID string) (*monitor.Video, error) {
	var body string
	err := requests.
		URL(c.baseURL+"/feeds/videos.xml").
		Param("channel_id", youtubeID).
		Transport(c.transport).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}

	var feed feedXML
	if err := xml.Unmarshal([]byte(body), &feed); err != nil {
		return nil, err
	}
	if len(feed.Entries) == 0 {
		return nil, nil
	}

	entry := feed.Entries[0]
	video := &monitor.Video{
		ID:    entry.VideoID,
		Title: entry.Title,
		URL:   entry.Link.Href,
	}
	if video.URL == "" {
		video.URL = c.baseURL + "/watch?v=" + entry.VideoID
	}
	if published, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		video.PublishedAt = published
	}
	return video, nil
}

// ClassifyLive fetches the video's watch page and inspects the broadcast
// microdata. Plain uploads carry no isLiveBroadcast meta at all.
func (c *Client) ClassifyLive(ctx context.Context, videoID string) (*monitor.LiveStatus, error) {
	var body string
	err := requests.
		URL(c.baseURL+"/watch").
		Param("v", videoID).
		Transport(c.transport).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	broadcast := htmlquery.FindOne(doc, "//meta[@itemprop='isLiveBroadcast']")
	if broadcast == nil {
		return &monitor.LiveStatus{State: monitor.StateNone}, nil
	}

	if liveNowPattern.MatchString(body) {
		return &monitor.LiveStatus{IsLive: true, State: monitor.StateLive}, nil
	}

	if node := htmlquery.FindOne(doc, "//meta[@itemprop='startDate']"); node != nil {
		start, err := time.Parse(time.RFC3339, htmlquery.SelectAttr(node, "content"))
		if err == nil && start.After(time.Now()) {
			return &monitor.LiveStatus{State: monitor.StateUpcoming}, nil
		}
	}

	// Broadcast metadata without a live flag: a stream that already ended.
	return &monitor.LiveStatus{State: monitor.StateLive}, nil
}
