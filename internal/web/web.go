package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"fiftycal/internal/config"
	"fiftycal/internal/ics"
	appLog "fiftycal/internal/log"
	"fiftycal/internal/model"
)

const (
	eventsCacheTTL   = 30 * time.Second
	maxCachedQueries = 64
)

// StatusSource reports the latest sync run.
type StatusSource interface {
	Snapshot() model.RunStatus
}

// CalendarSource exposes stored calendars.
type CalendarSource interface {
	Labels() ([]string, error)
	Read(label string) ([]byte, error)
	Load(label string) (*ics.Calendar, bool, error)
}

// Server is the read-only status HTTP server used in watch mode.
type Server struct {
	cfg    *config.Config
	status StatusSource
	cals   CalendarSource
	mux    *http.ServeMux
	now    func() time.Time

	// Expanded agenda, keyed by query string.
	eventsMu    sync.RWMutex
	eventsCache map[string]eventsCache
}

type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, status StatusSource, cals CalendarSource) *Server {
	s := &Server{
		cfg:         cfg,
		status:      status,
		cals:        cals,
		mux:         http.NewServeMux(),
		now:         time.Now,
		eventsCache: map[string]eventsCache{},
	}
	s.registerRoutes()
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+cfg.Listen)
	}
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="fiftycal", charset="UTF-8"`)
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

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
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
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /calendars/{file}", s.handleCalendarFile)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus reports the latest sync run. The status code is 200 even when
// labels failed; callers inspect the body.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.status.Snapshot()
	if snap.Results == nil {
		snap.Results = []model.Result{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	labels, err := s.cals.Labels()
	if err != nil {
		appLog.Error("list calendars failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list calendars")
		return
	}
	if labels == nil {
		labels = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"labels": labels})
}

// GET /calendars/{label}.ics
func (s *Server) handleCalendarFile(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	label, ok := strings.CutSuffix(file, ".ics")
	if !ok || label == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	data, err := s.cals.Read(label)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no calendar stored for "+label)
		return
	}
	if err != nil {
		appLog.Error("read calendar failed", err, "label", label)
		writeError(w, http.StatusBadRequest, "invalid calendar label")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type eventsResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedUIDs   []string           `json:"truncated_uids,omitempty"`
	FailedLabels    []string           `json:"failed_labels,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
}

// GET /api/events?days=7&backfill=1&tz=Europe/London
//   - days:     how many days ahead to include (default 7)
//   - backfill: how many past days to include (default 1)
//   - tz:       display timezone (default local)
//
// Occurrences are expanded from the stored calendars.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	loc := resolveLocationOrLocal(q.Get("tz"))

	key := r.URL.RawQuery
	s.eventsMu.RLock()
	ec, hit := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if hit && s.now().Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	now := s.now().In(loc)
	resp := eventsResponse{
		Occurrences:     []model.Occurrence{},
		RangeStart:      now.AddDate(0, 0, -backfill),
		RangeEnd:        now.AddDate(0, 0, days),
		DisplayTimeZone: loc.String(),
	}

	labels, err := s.cals.Labels()
	if err != nil {
		appLog.Error("api events: list calendars failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list calendars")
		return
	}

	for _, label := range labels {
		cal, ok, err := s.cals.Load(label)
		if err != nil {
			appLog.Error("api events: load failed", err, "label", label)
			resp.FailedLabels = append(resp.FailedLabels, label)
			continue
		}
		if !ok {
			continue
		}
		res, err := ics.Expand(cal, ics.ExpandConfig{
			Label:           label,
			DisplayLocation: loc,
			RangeStart:      resp.RangeStart,
			RangeEnd:        resp.RangeEnd,
		})
		if err != nil {
			appLog.Error("api events: expand failed", err, "label", label)
			resp.FailedLabels = append(resp.FailedLabels, label)
			continue
		}
		resp.Occurrences = append(resp.Occurrences, res.Occurrences...)
		resp.TruncatedUIDs = append(resp.TruncatedUIDs, res.TruncatedEvents...)
	}
	model.SortOccurrences(resp.Occurrences)

	s.eventsMu.Lock()
	if len(s.eventsCache) >= maxCachedQueries {
		s.eventsCache = map[string]eventsCache{}
	}
	s.eventsCache[key] = eventsCache{resp: resp, updatedAt: s.now()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
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

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
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
