package civitai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/logger"
)

// DefaultUserAgent mimics a desktop browser; the image CDN rejects some
// obviously scripted agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Query     Query
	// PageTimeout bounds one metadata request
	PageTimeout time.Duration
	HTTPClient  *http.Client
	Logger      logger.Logger
}

// Client talks to the Civitai REST API and fetches image bytes
type Client struct {
	httpClient  *http.Client
	headers     map[string]string
	baseURL     string
	authHost    string
	apiKey      string
	query       Query
	pageTimeout time.Duration
	logger      logger.Logger
	now         func() time.Time
}

// NewClient creates a new Civitai API client
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Query == (Query{}) {
		opts.Query = DefaultQuery()
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient, err = NewHTTPClient("")
		if err != nil {
			return nil, err
		}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Client{
		httpClient: opts.HTTPClient,
		headers: map[string]string{
			"User-Agent": opts.UserAgent,
			"Accept":     "application/json, image/*;q=0.9, */*;q=0.8",
		},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		authHost:    base.Hostname(),
		apiKey:      opts.APIKey,
		query:       opts.Query,
		pageTimeout: opts.PageTimeout,
		logger:      opts.Logger,
		now:         time.Now,
	}, nil
}

// Authenticated reports whether requests carry a bearer token
func (c *Client) Authenticated() bool {
	return c.apiKey != ""
}

// sendsCredentials limits the bearer token to the API host and its
// subdomains so it never leaks to third-party hosts listed in items.
func (c *Client) sendsCredentials(u *url.URL) bool {
	if c.apiKey == "" {
		return false
	}
	host := u.Hostname()
	return host == c.authHost || strings.HasSuffix(host, "."+c.authHost)
}

// doRequest performs an HTTP request with the configured headers and maps
// transport failures and non-2xx statuses onto typed errors.
func (c *Client) doRequest(req *http.Request, op string) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if c.sendsCredentials(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": elapsed,
		})
		return nil, errs.Classify(op, err)
	}

	logger.LogRequest(c.logger, req.Method, req.URL.String(), resp.StatusCode, float64(elapsed.Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errs.FromResponse(op, resp, c.now())
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		if apiErr.RetryAfter > 0 {
			logger.LogRateLimit(c.logger, req.URL.Path, apiErr.RetryAfter.Seconds())
		}
		return nil, apiErr
	}
	return resp, nil
}

// FetchImages fetches one page of username's images. cursor is empty for
// the first page.
func (c *Client) FetchImages(ctx context.Context, username, cursor string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	pageURL := ImagesURL(c.baseURL, username, cursor, c.query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errs.Permanent("fetch page", "failed to create request", err)
	}

	resp, err := c.doRequest(req, "fetch page")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Classify("fetch page", err)
	}

	var parsed ImagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.WarnWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          pageURL,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return nil, errs.Permanent("fetch page", "malformed response", err)
	}

	page, err := parsed.toPage()
	if err != nil {
		return nil, errs.Permanent("fetch page", "malformed pagination metadata", err)
	}

	c.logger.DebugWithFields("fetched image page", map[string]interface{}{
		"username":    username,
		"cursor":      cursor,
		"items":       len(parsed.Items),
		"rejected":    len(page.Rejected),
		"next_cursor": page.NextCursor,
	})
	return page, nil
}

// Download streams the image at imageURL into w and returns the number of
// bytes written. An interrupted stream is reported as a transient failure;
// the caller is expected to discard whatever reached w.
func (c *Client) Download(ctx context.Context, imageURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, errs.Permanent("download", "failed to create request", err)
	}

	resp, err := c.doRequest(req, "download")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(destWriter{w}, resp.Body)
	if err != nil {
		var we writeError
		if errors.As(err, &we) {
			return n, errs.Filesystem("write", we.err)
		}
		return n, errs.Classify("download", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, errs.Transient("download", fmt.Sprintf("short body: got %d of %d bytes", n, resp.ContentLength), io.ErrUnexpectedEOF)
	}
	if n == 0 {
		return 0, errs.Transient("download", "empty response body", nil)
	}
	return n, nil
}

// writeError marks failures of the destination writer so they are not
// mistaken for network errors.
type writeError struct{ err error }

func (e writeError) Error() string { return e.err.Error() }
func (e writeError) Unwrap() error { return e.err }

type destWriter struct{ w io.Writer }

func (d destWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		return n, writeError{err}
	}
	return n, nil
}
