// Package upstream performs the outbound JSON requests shared by the
// SpotOnTrack and Muso.AI clients and maps their HTTP outcomes onto the
// music error taxonomy. Raw network errors never escape: every call resolves
// to a decoded value or a *music.Error.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"Music-Enrich-Go/pkg/metrics"
	"Music-Enrich-Go/pkg/music"
)

// DefaultTimeout is used when Client.HTTP is nil.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response is read into memory.
const maxBody = 4 << 20

// maxErrorBody caps the raw body kept on a *music.Error.
const maxErrorBody = 512

// Client issues authenticated GET requests against one provider.
type Client struct {
	Provider string
	BaseURL  string
	HTTP     *http.Client
	// Authorize decorates each request with credentials.
	Authorize func(*http.Request)
	// Wait, when set, is called before every request and may block to pace
	// outbound traffic.
	Wait func(context.Context) error
}

var defaultHTTP = &http.Client{Timeout: DefaultTimeout}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return defaultHTTP
	}
	return c.HTTP
}

// GetJSON fetches path with query and decodes a 2xx body into out. A nil out
// discards the body but still requires it to be valid JSON.
func (c *Client) GetJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	started := time.Now()
	err := c.getJSON(ctx, op, path, query, out)
	outcome := "ok"
	if err != nil {
		outcome = music.KindOf(err).String()
	}
	metrics.ObserveProvider(c.Provider, op, outcome, started)
	return err
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	if c.Wait != nil {
		if err := c.Wait(ctx); err != nil {
			return music.NewError(c.Provider, op, music.KindTimeout, fmt.Errorf("pacing: %w", err))
		}
	}
	u := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return music.NewError(c.Provider, op, music.KindUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Authorize != nil {
		c.Authorize(req)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return music.NewError(c.Provider, op, music.KindUnknown, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &music.Error{Provider: c.Provider, Op: op, Kind: music.KindOf(err), Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorFromStatus(c.Provider, op, resp.StatusCode, body, resp.Header)
	}
	if !gjson.ValidBytes(body) {
		return &music.Error{Provider: c.Provider, Op: op, Kind: music.KindUpstream, Status: resp.StatusCode, Body: truncate(body), Err: errors.New("invalid JSON body")}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &music.Error{Provider: c.Provider, Op: op, Kind: music.KindUpstream, Status: resp.StatusCode, Body: truncate(body), Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// Probe reports whether path answers 2xx with a parseable JSON body.
func (c *Client) Probe(ctx context.Context, op, path string, query url.Values) bool {
	return c.GetJSON(ctx, op, path, query, nil) == nil
}

// ErrorFromStatus maps a non-2xx response onto the error taxonomy.
func ErrorFromStatus(provider, op string, status int, body []byte, h http.Header) *music.Error {
	e := &music.Error{Provider: provider, Op: op, Status: status, Body: truncate(body)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = music.KindUnauthorized
	case status == http.StatusNotFound:
		e.Kind = music.KindNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = music.KindRateLimited
		e.RetryAfter = ParseRetryAfter(h)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		e.Kind = music.KindTimeout
	default:
		e.Kind = music.KindUpstream
	}
	if msg := Message(body); msg != "" {
		e.Err = errors.New(msg)
	}
	return e
}

// messagePaths are the places providers put a human readable error.
var messagePaths = []string{"error.message", "message", "error_description", "error", "detail", "errors.0.message"}

// Message extracts an error message from a JSON error body, or "".
func Message(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, p := range messagePaths {
		if r := gjson.GetBytes(body, p); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

// ParseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form. Zero means absent or already elapsed.
func ParseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}

// Bearer returns an Authorize func that sets a bearer token.
func Bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
