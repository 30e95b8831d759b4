package calend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://www.calend.ru/day/"

// ErrTimeout is returned when the source does not answer within the
// configured deadline. It is a distinct failure kind from other
// network or status errors.
var ErrTimeout = errors.New("calend.ru request timed out")

// Client downloads day pages from calend.ru.
type Client struct {
	httpClient *http.Client
	baseURL    string
	ownsClient bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient supplies an externally owned HTTP client. The caller
// remains responsible for its lifecycle.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.ownsClient = false
	}
}

// NewClient creates a new calend.ru client. Unless WithHTTPClient is
// given, the client constructs and owns a default HTTP client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		ownsClient: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the owned HTTP client's idle connections. It is a
// no-op when the client was supplied by the caller.
func (c *Client) Close() {
	if c.ownsClient {
		c.httpClient.CloseIdleConnections()
	}
}

// BaseURL returns the source page URL the client fetches from.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DayURL returns the page URL for a specific calendar date.
func (c *Client) DayURL(date time.Time) string {
	return fmt.Sprintf("%s%s/", c.baseURL, date.Format("2006-01-02"))
}

// FetchDay downloads the raw markup of the day page for the given date.
// Timeouts are reported as ErrTimeout; any other transport or status
// failure is a plain error. A non-2xx response never yields a body.
func (c *Client) FetchDay(ctx context.Context, date time.Time) (string, error) {
	url := c.DayURL(date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("fetch %s: %w", url, ErrTimeout)
		}
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: unexpected status: %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("read %s: %w", url, ErrTimeout)
		}
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), nil
}

// setBrowserHeaders applies the stable browser-like header set the
// source expects; without it calend.ru serves a bot-detection page.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) "+
			"AppleWebKit/537.36 (KHTML, like Gecko) "+
			"Chrome/123.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
