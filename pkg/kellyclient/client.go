// Package kellyclient is a Go SDK for the kelly-server HTTP API.
package kellyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Row is one published row. Undefined values are nil.
type Row struct {
	Date                 string   `json:"date"`
	Close                *float64 `json:"close"`
	KellyFractionApplied *float64 `json:"kelly_fraction_applied"`
	StrategyCumReturns   *float64 `json:"strategy_cum_returns"`
	CumReturns           *float64 `json:"cum_returns"`
}

// Latest is the newest published row.
type Latest struct {
	Row       Row       `json:"row"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Table is the full published selection.
type Table struct {
	Columns   []string  `json:"columns"`
	Rows      []Row     `json:"rows"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kelly api: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the kelly-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new kelly API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Latest retrieves the newest published row.
func (c *Client) Latest(ctx context.Context) (Latest, error) {
	var out Latest
	err := c.getJSON(ctx, "/api/latest", &out)
	return out, err
}

// Table retrieves the full published selection.
func (c *Client) Table(ctx context.Context) (Table, error) {
	var out Table
	err := c.getJSON(ctx, "/api/table", &out)
	return out, err
}

// RawTable retrieves the published tab-separated file.
func (c *Client) RawTable(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(body))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}
