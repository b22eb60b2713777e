package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fiftycal/internal/download"
	"fiftycal/internal/ics"
	appLog "fiftycal/internal/log"
	"fiftycal/internal/model"
	"fiftycal/internal/reconcile"
	"fiftycal/internal/session"
)

// Downloader fetches one remote calendar.
type Downloader interface {
	Download(ctx context.Context, id string, tokens map[string]string) (*ics.Calendar, error)
}

// Store persists calendars by label.
type Store interface {
	Path(label string) string
	Load(label string) (*ics.Calendar, bool, error)
	Save(label string, cal *ics.Calendar) error
}

// Session runs fn inside a logged-in webmail session.
type Session interface {
	With(ctx context.Context, fn func(ctx context.Context, tokens session.Tokens) error) error
}

// Syncer downloads every configured calendar, reconciles it with the local
// copy and writes the result back.
type Syncer struct {
	dl  Downloader
	st  Store
	tie reconcile.TiePolicy
	now func() time.Time
}

// New returns a Syncer.
func New(dl Downloader, st Store, tie reconcile.TiePolicy) *Syncer {
	return &Syncer{dl: dl, st: st, tie: tie, now: time.Now}
}

// RunSession logs in, syncs every label and logs out. The returned error is
// a session-level failure only; per-label failures are in the results.
func (s *Syncer) RunSession(ctx context.Context, sess Session, calIDs map[string]string) ([]model.Result, error) {
	var results []model.Result
	err := sess.With(ctx, func(ctx context.Context, tokens session.Tokens) error {
		results = s.Run(ctx, calIDs, tokens)
		return nil
	})
	return results, err
}

// Run syncs each label in sorted order. A failing label is logged and
// recorded; the remaining labels still run.
func (s *Syncer) Run(ctx context.Context, calIDs map[string]string, tokens map[string]string) []model.Result {
	labels := make([]string, 0, len(calIDs))
	for label := range calIDs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	results := make([]model.Result, 0, len(labels))
	for _, label := range labels {
		res := s.SyncOne(ctx, label, calIDs[label], tokens)
		if res.Failed() {
			appLog.Error("calendar sync failed", res.Err, "label", label, "kind", res.Kind)
		} else {
			appLog.Info("calendar synced", "label", label, "action", string(res.Action),
				"events", res.Events, "added", res.Added, "conflicts", res.Conflicts)
		}
		results = append(results, res)
	}
	return results
}

// SyncOne downloads calendar id, merges it into the local copy stored under
// label and saves the outcome. Without a local copy the download is written
// as is.
func (s *Syncer) SyncOne(ctx context.Context, label, id string, tokens map[string]string) model.Result {
	res := model.Result{Label: label, CalendarID: id, Path: s.st.Path(label)}
	fail := func(err error) model.Result {
		res.Action = model.ActionFailed
		res.Err = err
		res.Error = err.Error()
		res.Kind = Kind(err)
		res.FinishedAt = s.now()
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	remote, err := s.dl.Download(ctx, id, tokens)
	if err != nil {
		return fail(err)
	}

	local, ok, err := s.st.Load(label)
	if err != nil {
		return fail(err)
	}

	out := remote
	res.Action = model.ActionCreated
	if ok {
		merged, diffs, err := reconcile.Reconcile(local, remote, reconcile.WithTiePolicy(s.tie))
		if err != nil {
			return fail(fmt.Errorf("merge %s: %w", label, err))
		}
		out = merged
		counts := reconcile.Tally(diffs)
		res.Added = counts.OnlyInA + counts.OnlyInB
		res.Conflicts = counts.Conflicts
		res.Action = model.ActionUnchanged
		if len(diffs) > 0 {
			res.Action = model.ActionMerged
		}
	}

	if err := s.st.Save(label, out); err != nil {
		return fail(err)
	}
	res.Events = len(out.Events)
	res.FinishedAt = s.now()
	return res
}

// Kind names the failure class of err for logs and the status endpoint.
func Kind(err error) string {
	var (
		httpErr  *download.HTTPError
		parseErr *ics.ParseError
		idErr    *reconcile.MissingIdentityError
		ambErr   *reconcile.AmbiguousConflictError
		valueErr *ics.ValueError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, download.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, download.ErrNotFound):
		return "not_found"
	case errors.Is(err, download.ErrServerError):
		return "server_error"
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &idErr):
		return "missing_identity"
	case errors.As(err, &ambErr):
		return "ambiguous_conflict"
	case errors.As(err, &valueErr):
		return "invalid_value"
	case errors.Is(err, session.ErrUnableToLogout):
		return "logout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Tracker keeps the status of the latest run for concurrent readers.
type Tracker struct {
	mu     sync.RWMutex
	status model.RunStatus
	now    func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Begin marks a run as started.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = true
	t.status.StartedAt = t.now()
}

// Finish records the results of the run begun last.
func (t *Tracker) Finish(results []model.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = false
	t.status.FinishedAt = t.now()
	t.status.Results = append([]model.Result(nil), results...)
	t.status.Error = ""
	if err != nil {
		t.status.Error = err.Error()
	}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() model.RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.status
	out.Results = append([]model.Result(nil), t.status.Results...)
	return out
}
