package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/httpclient"
)

const (
	// DefaultBaseURL is the iHCM application host
	DefaultBaseURL = "https://ihcm.adp.com"

	// DefaultRateLimit caps requests per second across all endpoints
	DefaultRateLimit = 10

	apiPrefix = "/whrmux/webapi/api"

	maxBodySize = 64 << 20
)

// ErrEmptyResponse is returned when an endpoint answers 200 with no body.
// The portal does this when the account lacks the permission for a screen.
var ErrEmptyResponse = errors.New("empty response (may indicate insufficient permissions)")

// Client calls the portal's private JSON API with an authenticated http.Client
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	dateFrom   string
	dateTo     string
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithBaseURL sets the application host
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the request rate ceiling
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithDateRange bounds the pay statement query (YYYY-MM-DD)
func WithDateRange(from, to string) ClientOption {
	return func(c *Client) {
		c.dateFrom = from
		c.dateTo = to
	}
}

// NewClient wraps an authenticated http.Client
func NewClient(httpClient *http.Client, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		logger:     arbor.NewLogger(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		dateFrom:   "2019-01-01",
		dateTo:     "2030-12-31",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// response is a fully read HTTP response
type response struct {
	status      int
	contentType string
	location    string
	body        []byte
}

func readResponse(resp *http.Response) (*response, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		location:    resp.Header.Get("Location"),
		body:        data,
	}, nil
}

// do sends one request and reads the whole body. body is JSON-encoded when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("Portal API request")

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	resp, err := readResponse(httpResp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.status).
		Int("bytes", len(resp.body)).
		Dur("elapsed", time.Since(start)).
		Msg("Portal API response")

	return resp, nil
}

// call performs a JSON request and returns the body of a 200 response.
// 401 and HTML bodies become common.ErrSessionExpired.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if err := httpclient.CheckSession(path, resp.status, resp.body); err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, common.NewRemoteServiceError(path, resp.status, resp.body)
	}
	return resp.body, nil
}

// decode unmarshals a JSON body, rejecting empty ones
func decode(path string, body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &common.MalformedResponseError{Endpoint: path, Err: ErrEmptyResponse}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &common.MalformedResponseError{Endpoint: path, Err: err}
	}
	return nil
}

// IsStatus reports whether err is a RemoteServiceError with the given HTTP status
func IsStatus(err error, status int) bool {
	var remoteErr *common.RemoteServiceError
	return errors.As(err, &remoteErr) && remoteErr.Status == status
}
