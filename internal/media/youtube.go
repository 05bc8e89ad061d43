package media

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
)

// YouTubeConfig selects the channel and the sermon heuristics.
type YouTubeConfig struct {
	APIKey    string
	ChannelID string

	// MinSermonDuration drops short clips (announcements, music) from the
	// sermon lookup.
	MinSermonDuration time.Duration

	// SermonKeywords are matched case-insensitively against titles. Videos
	// whose titles match are preferred; when none match, any long enough
	// video qualifies.
	SermonKeywords []string

	// SearchResults bounds each search call. Defaults to 10.
	SearchResults int64
}

// YouTube is a Source backed by the YouTube Data API v3.
type YouTube struct {
	svc *youtube.Service
	cfg YouTubeConfig
	now func() time.Time
}

// NewYouTube builds a YouTube source. Extra client options are appended
// after the API key (tests point the client at a local server with them).
func NewYouTube(ctx context.Context, cfg YouTubeConfig, opts ...option.ClientOption) (*YouTube, error) {
	if cfg.ChannelID == "" {
		return nil, ErrNoChannel
	}
	if cfg.SearchResults <= 0 {
		cfg.SearchResults = 10
	}

	var clientOpts []option.ClientOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube client: %w", err)
	}
	return &YouTube{svc: svc, cfg: cfg, now: time.Now}, nil
}

// Fetch implements Source.
func (y *YouTube) Fetch(ctx context.Context, kind Kind) (*Video, error) {
	switch kind {
	case KindLatestSermon:
		return y.latestSermon(ctx)
	case KindLivestream:
		return y.livestream(ctx)
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
}

// livestream returns the broadcast that is live now or, failing that, the
// next scheduled one.
func (y *YouTube) livestream(ctx context.Context) (*Video, error) {
	live, err := y.search(ctx, "live", "")
	if err != nil {
		return nil, err
	}
	if len(live) > 0 {
		videos, err := y.videos(ctx, live[:1])
		if err != nil {
			return nil, err
		}
		if len(videos) > 0 {
			return videos[0], nil
		}
	}

	upcoming, err := y.search(ctx, "upcoming", "")
	if err != nil {
		return nil, err
	}
	if len(upcoming) == 0 {
		appLog.Debug("youtube: no live or upcoming broadcast", "channel", y.cfg.ChannelID)
		return nil, nil
	}
	videos, err := y.videos(ctx, upcoming)
	if err != nil {
		return nil, err
	}

	var next *Video
	for _, v := range videos {
		if v.ScheduledStart.IsZero() {
			continue
		}
		if next == nil || v.ScheduledStart.Before(next.ScheduledStart) {
			next = v
		}
	}
	return next, nil
}

// latestSermon returns the newest finished video that looks like a sermon.
func (y *YouTube) latestSermon(ctx context.Context) (*Video, error) {
	durationFilter := "any"
	if y.cfg.MinSermonDuration >= 20*time.Minute {
		durationFilter = "long"
	}

	ids, err := y.search(ctx, "", durationFilter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	videos, err := y.videos(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]*Video, 0, len(videos))
	for _, v := range videos {
		if v.Live || (!v.ScheduledStart.IsZero() && v.ScheduledStart.After(y.now())) {
			continue
		}
		if v.Duration < y.cfg.MinSermonDuration {
			continue
		}
		candidates = append(candidates, v)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PublishedAt.After(candidates[j].PublishedAt)
	})

	for _, v := range candidates {
		if y.matchesKeywords(v.Title) {
			return v, nil
		}
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return nil, nil
}

func (y *YouTube) matchesKeywords(title string) bool {
	if len(y.cfg.SermonKeywords) == 0 {
		return true
	}
	lower := strings.ToLower(title)
	for _, kw := range y.cfg.SermonKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// search returns video ids on the channel, newest first. eventType ("live",
// "upcoming") and videoDuration are optional filters.
func (y *YouTube) search(ctx context.Context, eventType, videoDuration string) ([]string, error) {
	call := y.svc.Search.List([]string{"id"}).
		ChannelId(y.cfg.ChannelID).
		Type("video").
		Order("date").
		MaxResults(y.cfg.SearchResults)
	if eventType != "" {
		call = call.EventType(eventType)
	}
	if videoDuration != "" {
		call = call.VideoDuration(videoDuration)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube search %q: %w", eventType, err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		ids = append(ids, item.Id.VideoId)
	}
	return ids, nil
}

// videos loads full metadata for ids, keeping the order of ids.
func (y *YouTube) videos(ctx context.Context, ids []string) ([]*Video, error) {
	resp, err := y.svc.Videos.List([]string{"snippet", "contentDetails", "liveStreamingDetails"}).
		Id(ids...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube videos: %w", err)
	}

	byID := make(map[string]*Video, len(resp.Items))
	for _, item := range resp.Items {
		byID[item.Id] = toVideo(item)
	}
	out := make([]*Video, 0, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func toVideo(item *youtube.Video) *Video {
	v := &Video{
		ID:  item.Id,
		URL: "https://www.youtube.com/watch?v=" + item.Id,
	}
	if sn := item.Snippet; sn != nil {
		v.Title = sn.Title
		v.Description = sn.Description
		v.PublishedAt = parseAPITime(sn.PublishedAt)
		v.Live = sn.LiveBroadcastContent == "live"
		if th := sn.Thumbnails; th != nil {
			switch {
			case th.High != nil:
				v.ThumbnailURL = th.High.Url
			case th.Medium != nil:
				v.ThumbnailURL = th.Medium.Url
			case th.Default != nil:
				v.ThumbnailURL = th.Default.Url
			}
		}
	}
	if cd := item.ContentDetails; cd != nil && cd.Duration != "" {
		d, err := parseISODuration(cd.Duration)
		if err != nil {
			appLog.Warn("youtube: bad content duration", "id", item.Id, "duration", cd.Duration)
		} else {
			v.Duration = d
		}
	}
	if ls := item.LiveStreamingDetails; ls != nil {
		v.ScheduledStart = parseAPITime(ls.ScheduledStartTime)
	}
	return v
}

func parseAPITime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
