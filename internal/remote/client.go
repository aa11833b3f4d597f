package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/roach88/gatescan/internal/model"
	"github.com/roach88/gatescan/internal/telemetry"
)

// DefaultBaseURL is the production authority.
const DefaultBaseURL = "https://ticketing-marketplace.onrender.com/api/v1"

// DefaultTimeout bounds every request, including a stuck upload.
const DefaultTimeout = 30 * time.Second

// maxResponseBody caps how much of a response is read. A full catalog for a
// large event fits comfortably.
const maxResponseBody = 64 << 20

// Client talks to the authority. Safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *slog.Logger
	cookies []*http.Cookie
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. A missing cookie jar
// is added.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithSessionCookie seeds the jar with the session cookie obtained at login.
func WithSessionCookie(cookie *http.Cookie) Option {
	return func(c *Client) {
		if cookie != nil {
			c.cookies = append(c.cookies, cookie)
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the authority at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: unsupported scheme %q", base.Scheme)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	if len(c.cookies) > 0 {
		c.http.Jar.SetCookies(base, c.cookies)
	}
	return c, nil
}

// BaseURL returns the authority base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ValidateOnline asks the authority to validate payload.
//
// A 2xx response is returned as a ScanResult whatever its valid flag: an
// invalid ticket is a business result. Any other response is a NetworkError
// whose Message carries the authority's explanation.
func (c *Client) ValidateOnline(ctx context.Context, payload string) (ScanResult, error) {
	var res ScanResult
	if err := c.do(ctx, http.MethodPost, PathScan, ScanRequest{QRData: payload}, &res); err != nil {
		return ScanResult{}, err
	}
	return res, nil
}

// DownloadCatalog fetches the full offline catalog. The result is not
// validated here.
func (c *Client) DownloadCatalog(ctx context.Context) (model.Catalog, error) {
	var res DownloadResponse
	if err := c.do(ctx, http.MethodGet, PathDownload, nil, &res); err != nil {
		return model.Catalog{}, err
	}
	if refused(res.Success) {
		return model.Catalog{}, serverError(http.MethodGet, PathDownload, http.StatusOK, nil, res.Message, nil)
	}
	return res.Catalog(), nil
}

// UploadValidations submits a ledger batch once. It is never retried here:
// the authority applies each entry as it arrives.
//
// Any 2xx with a decodable body is accepted unless it says "success": false.
// Negative counts are a ServerError, so nothing is acknowledged on them.
func (c *Client) UploadValidations(ctx context.Context, entries []model.LogEntry) (UploadResult, error) {
	var res UploadResult
	if err := c.do(ctx, http.MethodPost, PathUpload, NewUploadRequest(entries), &res); err != nil {
		return UploadResult{}, err
	}
	if refused(res.Success) {
		return UploadResult{}, serverError(http.MethodPost, PathUpload, http.StatusOK, nil, res.Message, nil)
	}
	if res.Synced < 0 || res.Conflicts < 0 {
		msg := fmt.Sprintf("negative counts in upload result (synced=%d, conflicts=%d)", res.Synced, res.Conflicts)
		return UploadResult{}, serverError(http.MethodPost, PathUpload, http.StatusOK, nil, msg, nil)
	}
	return res, nil
}

// MyStats returns the operator's online validation counts.
func (c *Client) MyStats(ctx context.Context) (OnlineStats, error) {
	var res statsResponse
	if err := c.do(ctx, http.MethodGet, PathMyStats, nil, &res); err != nil {
		return OnlineStats{}, err
	}
	if refused(res.Success) {
		return OnlineStats{}, serverError(http.MethodGet, PathMyStats, http.StatusOK, nil, res.Message, nil)
	}
	return res.Data, nil
}

// Logout ends the session at the authority.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathLogout, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := telemetry.StartClientSpan(ctx, method, path)
	defer span.End()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		nerr := unreachable(method, path, err)
		telemetry.RecordError(span, nerr)
		c.logger.Warn("authority unreachable", "method", method, "path", path, "error", err)
		return nerr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		nerr := unreachable(method, path, fmt.Errorf("read response: %w", err))
		telemetry.RecordError(span, nerr)
		return nerr
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("authority response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		nerr := serverError(method, path, resp.StatusCode, data, messageOf(data), nil)
		telemetry.RecordError(span, nerr)
		return nerr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			nerr := serverError(method, path, resp.StatusCode, data, "", fmt.Errorf("decode response: %w", err))
			telemetry.RecordError(span, nerr)
			return nerr
		}
	}

	telemetry.SetSuccess(span)
	return nil
}

// messageOf extracts the envelope message from an error body, if any.
func messageOf(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Message
}
