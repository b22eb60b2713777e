package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "fiftycal/internal/log"
)

const (
	DefaultRetryInterval = 5 * time.Second
	DefaultMaxWait       = 120 * time.Second
)

// ErrUnableToLogout means logout kept failing for the whole retry window.
// The server-side session is left in an unknown state and the run must stop.
var ErrUnableToLogout = errors.New("session: unable to log out")

// ErrNotLoggedIn is returned by operations that need an acquired session.
var ErrNotLoggedIn = errors.New("session: not logged in")

// Tokens are the named authentication cookies obtained at login.
type Tokens map[string]string

// Browser drives the webmail login page.
type Browser interface {
	// Login signs in and returns the session cookies.
	Login(ctx context.Context, username, password string) (Tokens, error)
	// Calendars lists the calendars of the logged-in account, name to id.
	Calendars(ctx context.Context) (map[string]string, error)
	// Logout signs out. It may fail transiently while the page loads.
	Logout(ctx context.Context) error
	// Close releases the browser.
	Close() error
}

// State is the lifecycle position of a Session.
type State int

const (
	Idle State = iota
	LoggedIn
	LoggingOut
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoggedIn:
		return "logged-in"
	case LoggingOut:
		return "logging-out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options bound the logout retry loop. Zero values select the defaults.
type Options struct {
	RetryInterval time.Duration
	MaxWait       time.Duration
}

// Session is the acquire/use/release state machine around a Browser.
//
//	Idle --Acquire--> LoggedIn --Release--> LoggingOut --ok--> Idle
//	                                             \--retries exhausted--> Failed
//
// Failed is terminal.
type Session struct {
	browser  Browser
	username string
	password string
	opts     Options

	mu     sync.Mutex
	state  State
	tokens Tokens
}

// New returns an idle session.
func New(b Browser, username, password string, opts Options) *Session {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	return &Session{browser: b, username: username, password: password, opts: opts}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MaxAttempts is the number of logout attempts Release makes: one immediately
// and one after every RetryInterval until MaxWait has elapsed.
func (s *Session) MaxAttempts() int {
	return int(s.opts.MaxWait/s.opts.RetryInterval) + 1
}

// Acquire logs in. It is only valid from Idle; a failed login leaves the
// session Idle.
func (s *Session) Acquire(ctx context.Context) (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return nil, fmt.Errorf("session: acquire in state %s", s.state)
	}

	appLog.Debug("session login start", "user", s.username)
	tokens, err := s.browser.Login(ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("session: login: %w", err)
	}
	s.state = LoggedIn
	s.tokens = tokens
	appLog.Info("session logged in", "user", s.username, "cookies", len(tokens))
	return copyTokens(tokens), nil
}

// Calendars lists the account's calendars, name to id.
func (s *Session) Calendars(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != LoggedIn {
		return nil, ErrNotLoggedIn
	}
	cals, err := s.browser.Calendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list calendars: %w", err)
	}
	return cals, nil
}

// Release logs out, retrying every RetryInterval for up to MaxWait. Releasing
// an idle session is a no-op. When retries run out, or ctx ends while
// waiting, the session becomes Failed and the error matches
// ErrUnableToLogout.
//
// The lock is not held while logging out or waiting, so State stays
// responsive; other operations see LoggingOut and are refused.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Idle:
		s.mu.Unlock()
		return nil
	case Failed:
		s.mu.Unlock()
		return ErrUnableToLogout
	case LoggingOut:
		s.mu.Unlock()
		return errors.New("session: logout already in progress")
	}
	s.state = LoggingOut
	s.mu.Unlock()

	attempts := s.MaxAttempts()
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = s.browser.Logout(ctx); lastErr == nil {
			s.finish(Idle)
			appLog.Info("session logged out", "user", s.username, "attempt", i)
			return nil
		}
		if i == attempts {
			break
		}
		appLog.Warn("logout failed, retrying", "attempt", i, "max_attempts", attempts, "retry_in", s.opts.RetryInterval, "err", lastErr)

		t := time.NewTimer(s.opts.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			s.finish(Failed)
			return errors.Join(fmt.Errorf("%w: %v", ErrUnableToLogout, lastErr), ctx.Err())
		case <-t.C:
		}
	}

	s.finish(Failed)
	err := fmt.Errorf("%w after %d attempts: %v", ErrUnableToLogout, attempts, lastErr)
	appLog.Error("logout failed", err, "user", s.username)
	return err
}

// finish ends a logout in state st and drops the tokens.
func (s *Session) finish(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.tokens = nil
}

// Close releases the underlying browser.
func (s *Session) Close() error {
	return s.browser.Close()
}

// With acquires the session, runs fn with the tokens and always releases the
// session and closes the browser afterwards, even when fn fails or ctx is
// cancelled. Errors from fn and from release are joined.
func (s *Session) With(ctx context.Context, fn func(ctx context.Context, tokens Tokens) error) error {
	defer func() {
		if err := s.Close(); err != nil {
			appLog.Warn("browser close failed", "err", err)
		}
	}()

	tokens, err := s.Acquire(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, tokens)
	relErr := s.Release(context.WithoutCancel(ctx))
	return errors.Join(fnErr, relErr)
}

func copyTokens(t Tokens) Tokens {
	out := make(Tokens, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
