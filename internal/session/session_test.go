package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBrowser struct {
	mu          sync.Mutex
	loginErr    error
	logoutFails int // failing logout calls before success; -1 fails forever
	loginCalls  int
	logoutCalls int
	closeCalls  int
	gotUser     string
	gotPassword string
	calendars   map[string]string
}

func (f *fakeBrowser) Login(_ context.Context, user, password string) (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	f.gotUser, f.gotPassword = user, password
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return Tokens{"roundcube_sessid": "s1", "roundcube_sessauth": "a1"}, nil
}

func (f *fakeBrowser) Calendars(context.Context) (map[string]string, error) {
	return f.calendars, nil
}

func (f *fakeBrowser) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	if f.logoutFails < 0 || f.logoutCalls <= f.logoutFails {
		return errLogoutUnavailable
	}
	return nil
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

var fast = Options{RetryInterval: time.Millisecond, MaxWait: 5 * time.Millisecond}

func TestWithAcquiresAndReleases(t *testing.T) {
	b := &fakeBrowser{}
	s := New(b, "alice", "pw", fast)

	var seen Tokens
	err := s.With(context.Background(), func(ctx context.Context, tokens Tokens) error {
		assert.Equal(t, LoggedIn, s.State())
		seen = tokens
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", seen["roundcube_sessid"])
	assert.Equal(t, "alice", b.gotUser)
	assert.Equal(t, "pw", b.gotPassword)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, b.logoutCalls)
	assert.Equal(t, 1, b.closeCalls)
}

func TestWithReleasesWhenFnFails(t *testing.T) {
	b := &fakeBrowser{}
	s := New(b, "alice", "pw", fast)
	boom := errors.New("boom")

	err := s.With(context.Background(), func(context.Context, Tokens) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, b.logoutCalls)
	assert.Equal(t, 1, b.closeCalls)
}

func TestWithReleasesWhenContextCancelled(t *testing.T) {
	b := &fakeBrowser{}
	s := New(b, "alice", "pw", fast)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.With(ctx, func(ctx context.Context, _ Tokens) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, b.logoutCalls)
}

func TestLoginFailure(t *testing.T) {
	b := &fakeBrowser{loginErr: errors.New("bad credentials")}
	s := New(b, "alice", "pw", fast)

	called := false
	err := s.With(context.Background(), func(context.Context, Tokens) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, Idle, s.State())
	assert.Zero(t, b.logoutCalls)
	assert.Equal(t, 1, b.closeCalls)
}

func TestReleaseRetriesTransientFailures(t *testing.T) {
	b := &fakeBrowser{logoutFails: 2}
	s := New(b, "alice", "pw", fast)

	_, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Release(context.Background()))
	assert.Equal(t, 3, b.logoutCalls)
	assert.Equal(t, Idle, s.State())
}

func TestReleaseGivesUpAfterMaxWait(t *testing.T) {
	b := &fakeBrowser{logoutFails: -1}
	s := New(b, "alice", "pw", fast)
	require.Equal(t, 6, s.MaxAttempts())

	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	err = s.Release(context.Background())
	assert.ErrorIs(t, err, ErrUnableToLogout)
	assert.Equal(t, 6, b.logoutCalls)
	assert.Equal(t, Failed, s.State())

	_, err = s.Acquire(context.Background())
	assert.Error(t, err, "failed sessions cannot be reused")
	assert.ErrorIs(t, s.Release(context.Background()), ErrUnableToLogout)
	assert.Equal(t, 6, b.logoutCalls)
}

func TestReleaseStopsWaitingWhenContextEnds(t *testing.T) {
	b := &fakeBrowser{logoutFails: -1}
	s := New(b, "alice", "pw", Options{RetryInterval: time.Hour, MaxWait: 2 * time.Hour})
	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = s.Release(ctx)
	assert.ErrorIs(t, err, ErrUnableToLogout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, 1, b.logoutCalls)
}

func TestStateReadableDuringLogoutRetries(t *testing.T) {
	b := &fakeBrowser{logoutFails: -1}
	s := New(b, "alice", "pw", Options{RetryInterval: time.Hour, MaxWait: 2 * time.Hour})
	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Release(ctx) }()

	require.Eventually(t, func() bool {
		return s.State() == LoggingOut
	}, time.Second, time.Millisecond)

	_, err = s.Calendars(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Error(t, s.Release(context.Background()), "a second release is refused")

	cancel()
	assert.ErrorIs(t, <-done, ErrUnableToLogout)
	assert.Equal(t, Failed, s.State())
}

func TestDefaultsGiveTwentyFiveAttempts(t *testing.T) {
	s := New(&fakeBrowser{}, "u", "p", Options{})
	assert.Equal(t, 25, s.MaxAttempts())
}

func TestStateGuards(t *testing.T) {
	b := &fakeBrowser{calendars: map[string]string{"Home": "abc"}}
	s := New(b, "alice", "pw", fast)

	require.NoError(t, s.Release(context.Background()), "releasing an idle session is a no-op")
	_, err := s.Calendars(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = s.Acquire(context.Background())
	require.NoError(t, err)
	_, err = s.Acquire(context.Background())
	assert.Error(t, err)

	cals, err := s.Calendars(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Home": "abc"}, cals)
}

func TestCalendarMap(t *testing.T) {
	got := calendarMap([]calendarEntry{
		{ID: "rc-abc123", Name: "Home"},
		{ID: "rc-def456", Name: ""},
		{ID: "rc-", Name: "broken"},
	})
	assert.Equal(t, map[string]string{"Home": "abc123", "def456": "def456"}, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "logging-out", LoggingOut.String())
	assert.Equal(t, "state(9)", State(9).String())
}
