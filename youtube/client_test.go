package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdngo/boostwatch/monitor"
	"go.uber.org/zap"
)

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <title>Example Channel</title>
  <entry>
    <id>yt:video:dQw4w9WgXcQ</id>
    <yt:videoId>dQw4w9WgXcQ</yt:videoId>
    <title>Newest upload</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"/>
    <published>2025-05-01T12:00:00+00:00</published>
  </entry>
  <entry>
    <id>yt:video:oldvideo001</id>
    <yt:videoId>oldvideo001</yt:videoId>
    <title>Older upload</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=oldvideo001"/>
    <published>2025-04-01T12:00:00+00:00</published>
  </entry>
</feed>`

const emptyFeedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <title>Quiet Channel</title>
</feed>`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(nil, zap.NewNop(), http.DefaultTransport)
	c.baseURL = srv.URL
	return c
}

func TestClient_LatestVideo(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feeds/videos.xml", r.URL.Path)
		assert.Equal(t, "UC123", r.URL.Query().Get("channel_id"))
		fmt.Fprint(w, feedFixture)
	}))

	video, err := c.LatestVideo(context.Background(), "UC123")
	require.NoError(t, err)
	require.NotNil(t, video)

	assert.Equal(t, "dQw4w9WgXcQ", video.ID)
	assert.Equal(t, "Newest upload", video.Title)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", video.URL)
	assert.Equal(t, time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), video.PublishedAt.UTC())
}

func TestClient_LatestVideo_EmptyFeed(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, emptyFeedFixture)
	}))

	video, err := c.LatestVideo(context.Background(), "UC123")
	require.NoError(t, err)
	assert.Nil(t, video, "empty feed is nil video, not an error")
}

func TestClient_LatestVideo_HTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	video, err := c.LatestVideo(context.Background(), "UC123")
	assert.Error(t, err)
	assert.Nil(t, video)
}

func TestClient_LatestVideo_MalformedXML(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<feed><entry>")
	}))

	_, err := c.LatestVideo(context.Background(), "UC123")
	assert.Error(t, err)
}

func TestClient_ClassifyLive_PlainUpload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/watch", r.URL.Path)
		fmt.Fprint(w, `<html><head><title>some video</title></head><body></body></html>`)
	}))

	status, err := c.ClassifyLive(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Equal(t, monitor.StateNone, status.State)
	assert.False(t, status.IsLive)
}

func TestClient_ClassifyLive_LiveNow(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
			<meta itemprop="isLiveBroadcast" content="True">
		</head><body><script>var ytInitialPlayerResponse = {"isLiveNow": true};</script></body></html>`)
	}))

	status, err := c.ClassifyLive(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Equal(t, monitor.StateLive, status.State)
	assert.True(t, status.IsLive)
}

func TestClient_ClassifyLive_Upcoming(t *testing.T) {
	future := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head>
			<meta itemprop="isLiveBroadcast" content="True">
			<meta itemprop="startDate" content="%s">
		</head><body></body></html>`, future)
	}))

	status, err := c.ClassifyLive(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Equal(t, monitor.StateUpcoming, status.State)
	assert.False(t, status.IsLive)
}

func TestClient_ClassifyLive_EndedBroadcast(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour).Format(time.RFC3339)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head>
			<meta itemprop="isLiveBroadcast" content="True">
			<meta itemprop="startDate" content="%s">
		</head><body></body></html>`, past)
	}))

	status, err := c.ClassifyLive(context.Background(), "vid1")
	require.NoError(t, err)
	// A finished stream still counts as livestream content for filtering.
	assert.Equal(t, monitor.StateLive, status.State)
	assert.False(t, status.IsLive)
}
