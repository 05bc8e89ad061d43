// Package media looks up the church's latest sermon recording and current
// or next livestream, and caches the answers for a bounded time.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoChannel is returned when no upstream channel is configured.
var ErrNoChannel = errors.New("media: no channel configured")

// Kind selects which video a lookup returns.
type Kind string

const (
	KindLatestSermon Kind = "latest_sermon"
	KindLivestream   Kind = "livestream"
)

// ParseKind accepts the Kind strings plus the short forms "sermon" and
// "live".
func ParseKind(s string) (Kind, error) {
	switch s {
	case string(KindLatestSermon), "sermon":
		return KindLatestSermon, nil
	case string(KindLivestream), "live":
		return KindLivestream, nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Video is the metadata the app shows for a recording or broadcast.
type Video struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	PublishedAt  time.Time     `json:"published_at"`
	Duration     time.Duration `json:"duration,omitempty"`

	// ScheduledStart is set for upcoming broadcasts.
	ScheduledStart time.Time `json:"scheduled_start,omitempty"`
	Live           bool      `json:"live"`
}

// Source fetches the current video of a kind from upstream. A nil video with
// a nil error means there is none (no broadcast scheduled, say).
type Source interface {
	Fetch(ctx context.Context, kind Kind) (*Video, error)
}
