package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	DefaultStepTimeout = 60 * time.Second

	selUser       = `#rcmloginuser`
	selPassword   = `#rcmloginpwd`
	selSubmit     = `#rcmloginsubmit`
	selCalendarUI = `#rcmbtn110`
	selCalList    = `#calendarslist`
	selLogout     = `.button-logout`

	calendarIDPrefix = "rc-"
)

// errLogoutUnavailable is returned while the logout button is not on the page.
var errLogoutUnavailable = errors.New("logout button not present")

// ChromeOptions configure a ChromeBrowser.
type ChromeOptions struct {
	// LoginURL is the webmail address that serves the login form.
	LoginURL string
	// Headless runs Chromium without a window.
	Headless bool
	// StepTimeout bounds each browser action. If zero, DefaultStepTimeout.
	StepTimeout time.Duration
}

// ChromeBrowser implements Browser with a chromedp-controlled Chromium.
type ChromeBrowser struct {
	opts        ChromeOptions
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	started     bool
}

var _ Browser = (*ChromeBrowser)(nil)

// NewChromeBrowser prepares a browser. Chromium is started by the first
// action and lives until Close, independent of parent's cancellation so that
// logout can still run after an interrupt.
func NewChromeBrowser(parent context.Context, opts ChromeOptions) *ChromeBrowser {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(parent), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)
	return &ChromeBrowser{opts: opts, ctx: ctx, cancel: cancel, allocCancel: allocCancel}
}

// step runs actions under the step timeout, aborting early if ctx ends.
// Chromium is started on the browser context itself so that it outlives the
// per-step timeout.
func (b *ChromeBrowser) step(ctx context.Context, actions ...chromedp.Action) error {
	if !b.started {
		if err := chromedp.Run(b.ctx); err != nil {
			return fmt.Errorf("chrome: start: %w", err)
		}
		b.started = true
	}
	stepCtx, cancel := context.WithTimeout(b.ctx, b.opts.StepTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(stepCtx, actions...)
}

// Login fills in the login form and returns the cookies set once the
// mailbox UI has loaded.
func (b *ChromeBrowser) Login(ctx context.Context, username, password string) (Tokens, error) {
	if b.opts.LoginURL == "" {
		return nil, errors.New("chrome: login URL is required")
	}

	tokens := Tokens{}
	err := b.step(ctx,
		chromedp.Navigate(b.opts.LoginURL),
		chromedp.WaitVisible(selUser, chromedp.ByQuery),
		chromedp.SendKeys(selUser, username, chromedp.ByQuery),
		chromedp.SendKeys(selPassword, password, chromedp.ByQuery),
		chromedp.Click(selSubmit, chromedp.ByQuery),
		chromedp.WaitVisible(selCalendarUI, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			for _, c := range cookies {
				tokens[c.Name] = c.Value
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome: login: %w", err)
	}
	if len(tokens) == 0 {
		return nil, errors.New("chrome: login: no cookies set")
	}
	return tokens, nil
}

type calendarEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const listCalendarsJS = `Array.from(document.querySelectorAll('#calendarslist li .calname')).map(function (e) {
	return {id: e.id, name: (e.textContent || '').trim()};
})`

// Calendars opens the calendar view and reads the calendar list.
func (b *ChromeBrowser) Calendars(ctx context.Context) (map[string]string, error) {
	var entries []calendarEntry
	err := b.step(ctx,
		chromedp.Click(selCalendarUI, chromedp.ByQuery),
		chromedp.WaitVisible(selCalList, chromedp.ByQuery),
		chromedp.Evaluate(listCalendarsJS, &entries),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome: calendars: %w", err)
	}
	return calendarMap(entries), nil
}

// calendarMap maps display name to calendar id, dropping the element id
// prefix.
func calendarMap(entries []calendarEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		id := strings.TrimPrefix(e.ID, calendarIDPrefix)
		if id == "" {
			continue
		}
		name := e.Name
		if name == "" {
			name = id
		}
		out[name] = id
	}
	return out
}

// Logout clicks the logout button. It fails fast with errLogoutUnavailable
// when the button is not on the page yet.
func (b *ChromeBrowser) Logout(ctx context.Context) error {
	var present bool
	if err := b.step(ctx, chromedp.Evaluate(`document.querySelector('.button-logout') !== null`, &present)); err != nil {
		return fmt.Errorf("chrome: logout: %w", err)
	}
	if !present {
		return errLogoutUnavailable
	}
	if err := b.step(ctx, chromedp.Click(selLogout, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("chrome: logout: %w", err)
	}
	return nil
}

// Close shuts Chromium down.
func (b *ChromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}
