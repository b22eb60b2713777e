package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"fiftycal/internal/ics"
	appLog "fiftycal/internal/log"
)

const defaultTimeout = 30 * time.Second

// Outcome classifies the HTTP status of a feed request.
type Outcome int

const (
	Success Outcome = iota
	Unauthorized
	NotFound
	ServerError
	OtherHTTPError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Unauthorized:
		return "unauthorized"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	default:
		return "http_error"
	}
}

// Classify maps a status code to an outcome. Only 200 counts as success.
func Classify(status int) Outcome {
	switch status {
	case http.StatusOK:
		return Success
	case http.StatusForbidden:
		return Unauthorized
	case http.StatusNotFound:
		return NotFound
	case http.StatusInternalServerError:
		return ServerError
	default:
		return OtherHTTPError
	}
}

// ErrRetrieval matches every retrieval failure below.
var ErrRetrieval = errors.New("retrieval failed")

var (
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", ErrRetrieval)
	ErrNotFound     = fmt.Errorf("%w: calendar not found", ErrRetrieval)
	ErrServerError  = fmt.Errorf("%w: server error", ErrRetrieval)
)

// HTTPError is returned for any other non-success status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d %s", ErrRetrieval, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *HTTPError) Unwrap() error { return ErrRetrieval }

// Err converts the outcome into its error, or nil for Success.
func (o Outcome) Err(status int) error {
	switch o {
	case Success:
		return nil
	case Unauthorized:
		return ErrUnauthorized
	case NotFound:
		return ErrNotFound
	case ServerError:
		return ErrServerError
	default:
		return &HTTPError{StatusCode: status}
	}
}

// Downloader retrieves calendar feeds from the webmail server using the
// session cookies obtained at login.
type Downloader struct {
	client  *http.Client
	baseURL string
}

// New creates a Downloader for the given webmail base address. A zero timeout
// selects a default.
func New(baseURL string, timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FeedURL returns the feed address of calendar id.
func (d *Downloader) FeedURL(id string) (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("download: base url: %w", err)
	}
	q := u.Query()
	q.Set("_task", "calendar")
	q.Set("_cal", id+".ics")
	q.Set("_action", "feed")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch downloads the raw feed of calendar id. tokens are sent as cookies.
func (d *Downloader) Fetch(ctx context.Context, id string, tokens map[string]string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("download: calendar id is empty")
	}
	feed, err := d.FeedURL(id)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	names := make([]string, 0, len(tokens))
	for name := range tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.AddCookie(&http.Cookie{Name: name, Value: tokens[name]})
	}

	appLog.Debug("feed fetch start", "id", id, "url", redactURL(feed))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	defer resp.Body.Close()

	if err := Classify(resp.StatusCode).Err(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: read body: %w", id, err)
	}

	appLog.Info("feed fetch success", "id", id, "url", redactURL(feed), "bytes", len(body))
	return body, nil
}

// Download fetches and parses calendar id.
func (d *Downloader) Download(ctx context.Context, id string, tokens map[string]string) (*ics.Calendar, error) {
	body, err := d.Fetch(ctx, id, tokens)
	if err != nil {
		return nil, err
	}
	cal, err := ics.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	return cal, nil
}

// redactURL keeps only scheme and host of u for logging.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
