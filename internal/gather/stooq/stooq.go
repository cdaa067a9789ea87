// Package stooq downloads daily closes from the stooq.com CSV endpoint.
package stooq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/util"
)

// DefaultBaseURL is the stooq daily download endpoint.
const DefaultBaseURL = "https://stooq.com/q/d/l/"

// stooq rejects requests that do not look like they come from a browser.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.87 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Connection":      "keep-alive",
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	Symbol          string // e.g. "^spx"
	Delimiter       rune   // zero detects the delimiter
	Retries         int
	RetryDelay      time.Duration
	RateLimitPerMin int // zero disables pacing
	HTTPClient      *http.Client
}

// Client fetches one symbol's daily history.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// New creates a Client. Missing options fall back to the public endpoint, a
// 30 second HTTP timeout, three attempts and a one second initial backoff.
func New(opts Options, log *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		opts:    opts,
		http:    hc,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     log.With("gatherer", "stooq", "symbol", opts.Symbol),
	}
}

// Name returns the gatherer identifier.
func (c *Client) Name() string { return "stooq:" + c.opts.Symbol }

// Fetch downloads the daily history and returns the observations dated
// within [start, end]. A zero start or end leaves that side open.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]domain.PriceObservation, error) {
	u, err := c.requestURL(start, end)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = util.Retry(ctx, c.opts.Retries, c.opts.RetryDelay, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		b, err := c.get(ctx, u)
		if err != nil {
			c.log.Warn("download failed", "error", err)
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", c.opts.Symbol, err)
	}

	obs, err := ParseCSV(bytes.NewReader(body), c.opts.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.opts.Symbol, err)
	}

	out := obs[:0]
	for _, o := range obs {
		if !start.IsZero() && o.Date.Before(start) {
			continue
		}
		if !end.IsZero() && o.Date.After(end) {
			continue
		}
		out = append(out, o)
	}
	c.log.Info("fetched daily closes", "rows", len(out))
	return out, nil
}

func (c *Client) requestURL(start, end time.Time) (string, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	q := u.Query()
	q.Set("s", c.opts.Symbol)
	q.Set("i", "d")
	if !start.IsZero() {
		q.Set("d1", start.Format("20060102"))
	}
	if !end.IsZero() {
		q.Set("d2", end.Format("20060102"))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, util.Permanent(err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, util.Permanent(err)
		}
		return nil, err
	}
	return body, nil
}
