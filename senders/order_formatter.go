package senders

import "fmt"

type orderEmailFormat struct {
	channelName string
	videoTitle  string
	videoURL    string
	count       int
}

// OrderEmail builds the notification sent after orders are placed for a
// newly detected video.
func OrderEmail(channelName, videoTitle, videoURL string, count int) (subject, body string) {
	ef := orderEmailFormat{channelName, videoTitle, videoURL, count}
	return ef.Subject(), ef.Body()
}

func (ef *orderEmailFormat) Subject() string {
	return fmt.Sprintf("Boostwatch: %d order(s) placed for %s", ef.count, ef.channelName)
}

func (ef *orderEmailFormat) Body() string {
	return fmt.Sprintf(
		`
			<h3>New video on %s</h3>
			<p><a href="%s">%s</a></p>
			<p>%d order(s) were placed against it.</p>
		`,
		ef.channelName,
		ef.videoURL, ef.videoTitle,
		ef.count,
	)
}
