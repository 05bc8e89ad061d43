package media

import (
	"context"
	"time"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/cache"
)

// Service answers media lookups from a bounded-staleness cache in front of a
// Source, so that screens opening at the same time share one upstream call.
type Service struct {
	cache *cache.Cache[Kind, *Video]
}

// NewService caches src's answers for ttl.
func NewService(src Source, ttl time.Duration, opts ...cache.Option) *Service {
	return &Service{
		cache: cache.New(ttl, func(ctx context.Context, kind Kind) (*Video, error) {
			return src.Fetch(ctx, kind)
		}, opts...),
	}
}

// Get returns the current video of kind. A nil video means there is none.
func (s *Service) Get(ctx context.Context, kind Kind) (*Video, error) {
	return s.cache.Get(ctx, kind)
}

// LatestSermon returns the newest sermon recording.
func (s *Service) LatestSermon(ctx context.Context) (*Video, error) {
	return s.Get(ctx, KindLatestSermon)
}

// Livestream returns the current or next broadcast.
func (s *Service) Livestream(ctx context.Context) (*Video, error) {
	return s.Get(ctx, KindLivestream)
}

// Snapshot is the last successful answer for a kind.
type Snapshot struct {
	Video     *Video
	FetchedAt time.Time
	// Stale is set once the answer is older than the cache TTL.
	Stale bool
}

// Peek returns the last successful answer for kind without fetching.
func (s *Service) Peek(kind Kind) (Snapshot, bool) {
	e, ok := s.cache.Peek(kind)
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Video: e.Value, FetchedAt: e.FetchedAt, Stale: s.cache.Stale(e)}, true
}

// Invalidate forces the next lookup of kind to go upstream.
func (s *Service) Invalidate(kind Kind) {
	s.cache.Invalidate(kind)
}
