package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/ternarybob/hrsync/internal/debuglog"
	"github.com/ternarybob/hrsync/internal/models"
)

// Options configures a portal HTTP client
type Options struct {
	AppBaseURL  string
	UserAgent   string
	Timeout     time.Duration
	BearerToken string // Empty while signing in
	XSRFToken   string
	Cookies     []models.Cookie
	Retry       *RetryPolicy
	Tracer      *debuglog.Tracer
	Logger      arbor.ILogger
}

// New creates an HTTP client with a cookie jar pre-loaded from opts.Cookies and
// the transport chain: bearer (oauth2) -> portal headers -> retry -> trace -> network.
func New(opts Options) (*http.Client, error) {
	baseURL, err := url.Parse(opts.AppBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := NewCookieJar(opts.Cookies, baseURL)
	if err != nil {
		return nil, err
	}

	var transport http.RoundTripper = opts.Tracer.Transport(http.DefaultTransport)

	if opts.Retry != nil {
		transport = &RetryTransport{Policy: opts.Retry, Base: transport, Logger: opts.Logger}
	}

	transport = &HeaderTransport{
		Base:      transport,
		UserAgent: opts.UserAgent,
		Origin:    strings.TrimRight(opts.AppBaseURL, "/"),
		XSRFToken: opts.XSRFToken,
	}

	if opts.BearerToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: opts.BearerToken,
				TokenType:   "Bearer",
			}),
			Base: transport,
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Jar:       jar,
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// NewCookieJar builds a cookie jar from persisted cookies.
// Cookies are grouped by their declared domain so the jar accepts them.
func NewCookieJar(cookies []models.Cookie, baseURL *url.URL) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	cookiesByDomain := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}

		// Use cookie's domain, removing leading dot if present
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = baseURL.Hostname()
		}

		httpCookie := &http.Cookie{
			Name:  c.Name,
			Value: c.Value,
			Path:  path,
		}
		// Domain cookies are only accepted for non-IP hosts different from the request host
		if c.Domain != "" && domain != baseURL.Hostname() {
			httpCookie.Domain = c.Domain
		}

		cookiesByDomain[domain] = append(cookiesByDomain[domain], httpCookie)
	}

	scheme := baseURL.Scheme
	if scheme == "" {
		scheme = "https"
	}

	for domain, domainCookies := range cookiesByDomain {
		host := domain
		if domain == baseURL.Hostname() && baseURL.Port() != "" {
			host = baseURL.Host
		}
		domainURL, err := url.Parse(fmt.Sprintf("%s://%s/", scheme, host))
		if err != nil {
			continue
		}
		jar.SetCookies(domainURL, domainCookies)
	}

	return jar, nil
}

// HeaderTransport adds the headers the portal's single-page app sends.
// Headers already present on the request win.
type HeaderTransport struct {
	Base      http.RoundTripper
	UserAgent string
	Origin    string
	XSRFToken string
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())

	setDefault(r.Header, "Accept", "application/json, text/plain, */*")
	setDefault(r.Header, "Accept-Language", "en-GB,en;q=0.9")
	if r.Body != nil && r.Body != http.NoBody {
		setDefault(r.Header, "Content-Type", "application/json;charset=UTF-8")
	}
	setDefault(r.Header, "X-Requested-With", "XMLHttpRequest")
	if t.UserAgent != "" {
		setDefault(r.Header, "User-Agent", t.UserAgent)
	}
	if t.Origin != "" {
		setDefault(r.Header, "Origin", t.Origin)
		setDefault(r.Header, "Referer", t.Origin+"/whrmux/web/me/directory/")
	}
	if t.XSRFToken != "" {
		setDefault(r.Header, "X-XSRF-TOKEN", t.XSRFToken)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}
