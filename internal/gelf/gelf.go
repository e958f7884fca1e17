// Package gelf ships structured log records to a Graylog-style collector
// over HTTP. Emission is strictly best-effort: one JSON POST per record, no
// retries, no delivery guarantee. Failures never reach the request path;
// they surface only through the diagnostic log and metrics.
package gelf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haukened/tether/internal/correlate"
)

// Version is the GELF schema version tag stamped on every record.
const Version = "1.1"

// Syslog severity levels as GELF expects them.
const (
	LevelError = 3
	LevelInfo  = 6
)

// Record is a GELF 1.1 payload. Custom fields carry a leading underscore per
// the GELF spec; the correlation identifier travels in _correlation_id.
type Record struct {
	Version       string `json:"version"`
	Host          string `json:"host"`
	ShortMessage  string `json:"short_message"`
	Timestamp     int64  `json:"timestamp"`
	Level         int    `json:"level"`
	CorrelationID string `json:"_correlation_id"`
}

// Client posts records to a single collector endpoint. Safe for concurrent use.
type Client struct {
	url  string
	host string
	hc   *http.Client
}

// NewClient returns a Client posting to collectorURL, stamping host as the
// record origin. A non-positive timeout falls back to 5s.
func NewClient(collectorURL, host string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:  collectorURL,
		host: host,
		hc:   &http.Client{Timeout: timeout},
	}
}

// Emit posts one record tagged with the current scope's correlation id.
// No scope or an empty id means there is nothing to correlate: Emit returns
// nil without touching the network. A non-2xx collector response is an error.
func (c *Client) Emit(ctx context.Context, shortMessage string) error {
	cid, ok := correlate.ID(ctx)
	if !ok || cid == "" {
		return nil
	}
	rec := Record{
		Version:       Version,
		Host:          c.host,
		ShortMessage:  shortMessage,
		Timestamp:     time.Now().Unix(),
		Level:         LevelInfo,
		CorrelationID: cid,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %s", resp.Status)
	}
	return nil
}
