package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/config"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/ics"
	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/media"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/notify"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/recurrence"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/store"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/watch"
)

// EventLister is the read side of the event store.
type EventLister interface {
	List(ctx context.Context, f store.Filter) ([]model.ScheduledEvent, error)
}

// MediaLookup answers sermon and livestream lookups.
type MediaLookup interface {
	Get(ctx context.Context, kind media.Kind) (*media.Video, error)
	Peek(kind media.Kind) (media.Snapshot, bool)
}

// Deps wires the server to the rest of the application.
type Deps struct {
	Config    *config.Config
	Events    EventLister
	Scheduler *recurrence.Scheduler

	// Media is optional; without it the media endpoints answer 503.
	Media MediaLookup

	// Gatherer, if set, is served on /metrics.
	Gatherer prometheus.Gatherer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Server provides the HTTP API over the event store and media lookups.
type Server struct {
	deps Deps
	mux  *http.ServeMux

	// Snapshot of live events kept current by Watch. Until the first
	// snapshot arrives handlers read the store directly.
	snapMu   sync.RWMutex
	snapshot []model.ScheduledEvent
	haveSnap bool
}

// NewServer constructs a new Server.
func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	s := &Server{
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.deps.Config.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Watch keeps an in-memory snapshot of live events, reloading it whenever n
// signals a change and once a minute otherwise. The returned function stops
// watching.
func (s *Server) Watch(ctx context.Context, n notify.Notifier) func() {
	ch, stop := watch.Subscribe(ctx, func(ctx context.Context) ([]model.ScheduledEvent, error) {
		return s.deps.Events.List(ctx, store.Filter{})
	}, watch.WithNotifier(n), watch.WithInterval(time.Minute), watch.WithName("web-events"))

	go func() {
		for events := range ch {
			s.snapMu.Lock()
			s.snapshot = events
			s.haveSnap = true
			s.snapMu.Unlock()
			appLog.Debug("web: event snapshot reloaded", "count", len(events))
		}
	}()
	return stop
}

func (s *Server) liveEvents(ctx context.Context) ([]model.ScheduledEvent, error) {
	s.snapMu.RLock()
	events, ok := s.snapshot, s.haveSnap
	s.snapMu.RUnlock()
	if ok {
		return events, nil
	}
	return s.deps.Events.List(ctx, store.Filter{})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	ba := s.deps.Config.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.deps.Config.BasicAuth.Username
	password := s.deps.Config.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="RTSDA", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves h on listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, listen string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("GET /api/media/sermon", s.handleMedia(media.KindLatestSermon))
	s.mux.HandleFunc("GET /api/media/livestream", s.handleMedia(media.KindLivestream))
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	if s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []model.ScheduledEvent `json:"occurrences"`
	TruncatedIDs    []string               `json:"truncated_ids,omitempty"`
	RangeStart      time.Time              `json:"range_start"`
	RangeEnd        time.Time              `json:"range_end"`
	DisplayTimeZone string                 `json:"display_timezone"`
}

// handleEvents returns expanded occurrences within a window around now.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many days ahead to include (default horizon_days)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), s.deps.Config.HorizonDays)
	if days <= 0 {
		days = s.deps.Config.HorizonDays
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	loc := s.deps.Scheduler.Location()
	now := s.deps.Now().In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	events, err := s.liveEvents(r.Context())
	if err != nil {
		appLog.Error("api events: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	res, err := s.deps.Scheduler.Expand(events, recurrence.ExpandConfig{
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	})
	if err != nil {
		appLog.Error("api events: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Occurrences:     inZone(res.Occurrences, loc),
		TruncatedIDs:    res.TruncatedEvents,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	})
}

// handleUpcoming returns the live stored events starting at or after now.
//
// GET /api/events/upcoming?limit=20
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	events, err := s.liveEvents(r.Context())
	if err != nil {
		appLog.Error("api upcoming: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	up := s.deps.Scheduler.Upcoming(events, s.deps.Now())
	if limit := parseIntDefault(r.URL.Query().Get("limit"), 0); limit > 0 && len(up) > limit {
		up = up[:limit]
	}
	writeJSON(w, http.StatusOK, inZone(up, s.deps.Scheduler.Location()))
}

// mediaResponse is the JSON response shape for /api/media/*.
type mediaResponse struct {
	Kind      media.Kind   `json:"kind"`
	Video     *media.Video `json:"video"`
	FetchedAt time.Time    `json:"fetched_at,omitzero"`
	// Stale is set when upstream failed and the last good answer is served.
	Stale bool `json:"stale"`
}

func (s *Server) handleMedia(kind media.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Media == nil {
			writeError(w, http.StatusServiceUnavailable, "media lookups are not configured")
			return
		}

		v, err := s.deps.Media.Get(r.Context(), kind)
		if err == nil {
			resp := mediaResponse{Kind: kind, Video: v}
			if snap, ok := s.deps.Media.Peek(kind); ok {
				resp.FetchedAt = snap.FetchedAt
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		snap, ok := s.deps.Media.Peek(kind)
		if !ok {
			appLog.Error("api media: lookup failed", err, "kind", string(kind))
			writeError(w, http.StatusBadGateway, "media lookup failed")
			return
		}
		appLog.Warn("api media: lookup failed; serving last answer",
			"kind", string(kind),
			"fetched_at", snap.FetchedAt.Format(time.RFC3339),
			"error", err.Error(),
		)
		writeJSON(w, http.StatusOK, mediaResponse{
			Kind:      kind,
			Video:     snap.Video,
			FetchedAt: snap.FetchedAt,
			Stale:     true,
		})
	}
}

// handleCalendar publishes the live events as an iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	events, err := s.liveEvents(r.Context())
	if err != nil {
		appLog.Error("calendar feed: list failed", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	body := ics.Export(events, ics.ExportOptions{
		Name:     "RTSDA Events",
		Location: s.deps.Scheduler.Location(),
		Now:      s.deps.Now(),
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func inZone(events []model.ScheduledEvent, loc *time.Location) []model.ScheduledEvent {
	out := make([]model.ScheduledEvent, len(events))
	for i, e := range events {
		e.Start = e.Start.In(loc)
		e.End = e.End.In(loc)
		out[i] = e
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
