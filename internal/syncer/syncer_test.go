package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiftycal/internal/download"
	"fiftycal/internal/ics"
	"fiftycal/internal/model"
	"fiftycal/internal/reconcile"
	"fiftycal/internal/session"
	"fiftycal/internal/store"
)

type fakeDownloader struct {
	calendars map[string]*ics.Calendar
	errs      map[string]error
	gotTokens map[string]string
	calls     []string
}

func (f *fakeDownloader) Download(_ context.Context, id string, tokens map[string]string) (*ics.Calendar, error) {
	f.calls = append(f.calls, id)
	f.gotTokens = tokens
	if err := f.errs[id]; err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	return f.calendars[id].Duplicate(), nil
}

type fakeSession struct {
	withErr error
	calls   int
}

func (f *fakeSession) With(ctx context.Context, fn func(context.Context, session.Tokens) error) error {
	f.calls++
	return errors.Join(fn(ctx, session.Tokens{"sessid": "s1"}), f.withErr)
}

func cal(events ...*ics.Event) *ics.Calendar {
	return &ics.Calendar{
		Properties: []ics.Property{ics.NewProperty("VERSION", "2.0"), ics.NewProperty("PRODID", "-//test//EN")},
		Events:     events,
	}
}

func ev(uid, summary, lastModified string) *ics.Event {
	e := ics.NewEvent(
		ics.NewProperty("UID", uid),
		ics.NewProperty("DTSTART", "20240105T090000Z"),
		ics.NewProperty("SUMMARY", summary),
	)
	if lastModified != "" {
		e.Properties = append(e.Properties, ics.NewProperty("LAST-MODIFIED", lastModified))
	}
	return e
}

func fixedNow() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }

func newSyncer(t *testing.T, dl Downloader) (*Syncer, *store.Store) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "cals"))
	s := New(dl, st, reconcile.PreferB)
	s.now = fixedNow
	return s, st
}

func TestSyncOneWithoutLocalCopy(t *testing.T) {
	remote := cal(ev("u1", "Dentist", ""), ev("u2", "Gym", ""))
	s, st := newSyncer(t, &fakeDownloader{calendars: map[string]*ics.Calendar{"abc": remote}})

	res := s.SyncOne(context.Background(), "home", "abc", nil)
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, model.ActionCreated, res.Action)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, st.Path("home"), res.Path)
	assert.Equal(t, fixedNow(), res.FinishedAt)

	saved, ok, err := st.Load("home")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"u1", "u2"}, saved.UIDs())
}

func TestSyncOneMergesWithLocalCopy(t *testing.T) {
	remote := cal(ev("u1", "Dentist (moved)", "20240105T000000Z"), ev("u3", "Remote only", ""))
	s, st := newSyncer(t, &fakeDownloader{calendars: map[string]*ics.Calendar{"abc": remote}})
	require.NoError(t, st.Save("home", cal(ev("u1", "Dentist", "20240101T000000Z"), ev("u2", "Local only", ""))))

	res := s.SyncOne(context.Background(), "home", "abc", nil)
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, model.ActionMerged, res.Action)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 3, res.Events)

	saved, _, err := st.Load("home")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3", "u2"}, saved.UIDs())
	assert.Equal(t, "Dentist (moved)", saved.Events[0].Summary())
}

func TestSyncOneUnchanged(t *testing.T) {
	remote := cal(ev("u1", "Dentist", ""))
	s, st := newSyncer(t, &fakeDownloader{calendars: map[string]*ics.Calendar{"abc": remote}})
	require.NoError(t, st.Save("home", remote))

	res := s.SyncOne(context.Background(), "home", "abc", nil)
	assert.Equal(t, model.ActionUnchanged, res.Action)
	assert.Zero(t, res.Added)
	assert.Zero(t, res.Conflicts)
}

func TestRunIsolatesFailingLabels(t *testing.T) {
	dl := &fakeDownloader{
		calendars: map[string]*ics.Calendar{
			"id-a": cal(ev("a1", "A", "")),
			"id-c": cal(ev("c1", "C", "")),
		},
		errs: map[string]error{
			"id-b": download.ErrNotFound,
			"id-d": &download.HTTPError{StatusCode: 502},
		},
	}
	s, st := newSyncer(t, dl)

	results := s.Run(context.Background(), map[string]string{
		"alpha":   "id-a",
		"bravo":   "id-b",
		"charlie": "id-c",
		"delta":   "id-d",
	}, map[string]string{"sessid": "s1"})

	require.Len(t, results, 4)
	assert.Equal(t, []string{"id-a", "id-b", "id-c", "id-d"}, dl.calls)
	assert.Equal(t, "s1", dl.gotTokens["sessid"])

	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.Equal(t, "not_found", results[1].Kind)
	assert.ErrorIs(t, results[1].Err, download.ErrNotFound)
	assert.False(t, results[2].Failed())
	assert.Equal(t, "http_error", results[3].Kind)

	labels, err := st.Labels()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "charlie"}, labels)
}

func TestSyncOneCorruptLocalCopy(t *testing.T) {
	s, st := newSyncer(t, &fakeDownloader{calendars: map[string]*ics.Calendar{"abc": cal(ev("u1", "x", ""))}})
	require.NoError(t, st.Save("home", cal(ev("u1", "x", ""))))
	s.st = corruptStore{st}

	res := s.SyncOne(context.Background(), "home", "abc", nil)
	assert.True(t, res.Failed())
	assert.Equal(t, "parse", res.Kind)
}

type corruptStore struct{ *store.Store }

func (corruptStore) Load(string) (*ics.Calendar, bool, error) {
	_, err := ics.Parse([]byte("garbage"))
	return nil, false, err
}

func TestSyncOneMissingUID(t *testing.T) {
	remote := cal(ics.NewEvent(ics.NewProperty("SUMMARY", "no uid")))
	s, st := newSyncer(t, &fakeDownloader{calendars: map[string]*ics.Calendar{"abc": remote}})
	require.NoError(t, st.Save("home", cal(ev("u1", "x", ""))))

	res := s.SyncOne(context.Background(), "home", "abc", nil)
	assert.True(t, res.Failed())
	assert.Equal(t, "missing_identity", res.Kind)
}

func TestSyncOneCancelled(t *testing.T) {
	dl := &fakeDownloader{}
	s, _ := newSyncer(t, dl)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.SyncOne(ctx, "home", "abc", nil)
	assert.Equal(t, "canceled", res.Kind)
	assert.Empty(t, dl.calls)
}

func TestRunSession(t *testing.T) {
	dl := &fakeDownloader{calendars: map[string]*ics.Calendar{"abc": cal(ev("u1", "x", ""))}}
	s, _ := newSyncer(t, dl)

	sess := &fakeSession{}
	results, err := s.RunSession(context.Background(), sess, map[string]string{"home": "abc"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", dl.gotTokens["sessid"])

	sess = &fakeSession{withErr: session.ErrUnableToLogout}
	results, err = s.RunSession(context.Background(), sess, map[string]string{"home": "abc"})
	assert.ErrorIs(t, err, session.ErrUnableToLogout)
	assert.Len(t, results, 1, "results gathered before logout are kept")
	assert.Equal(t, "logout", Kind(err))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{download.ErrUnauthorized, "unauthorized"},
		{fmt.Errorf("wrapped: %w", download.ErrServerError), "server_error"},
		{&reconcile.AmbiguousConflictError{}, "ambiguous_conflict"},
		{&ics.ValueError{Property: "LAST-MODIFIED"}, "invalid_value"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.now = fixedNow

	tr.Begin()
	snap := tr.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, fixedNow(), snap.StartedAt)

	results := []model.Result{{Label: "home", Action: model.ActionCreated}, {Label: "work", Action: model.ActionFailed}}
	tr.Finish(results, errors.New("logout failed"))
	results[0].Label = "mutated"

	snap = tr.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, "logout failed", snap.Error)
	assert.Equal(t, "home", snap.Results[0].Label)
	assert.Equal(t, 1, snap.FailedCount())
}
