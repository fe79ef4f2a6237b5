package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

const (
	bearerStorageKey = "iHcmBearerToken"
	statementsPath   = "/whrmux/web/me/pay-and-statements"

	usernameSelector = `input[name="userId"], input[name="user"], input[type="email"], input[type="text"]`
	passwordSelector = `input[type="password"]`
	nextButtonXPath  = `//button[normalize-space()="Next"] | //*[@role="button" and normalize-space()="Next"]`
)

// Hides the usual headless-automation tells before any page script runs
const stealthJS = `
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5], configurable: true });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-GB', 'en'], configurable: true });
	if (!window.chrome) { window.chrome = {}; }
	window.chrome.runtime = {};
	const originalQuery = window.navigator.permissions.query;
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications' ?
			Promise.resolve({ state: Notification.permission }) :
			originalQuery(parameters)
	);
`

// submitJS clicks a submit or Sign In button and reports whether one existed
const submitJS = `(() => {
	let btn = document.querySelector('button[type="submit"]');
	if (!btn) {
		btn = Array.from(document.querySelectorAll('button'))
			.find(b => /sign in|login/i.test(b.textContent || ''));
	}
	if (btn) { btn.click(); return true; }
	return false;
})()`

// BrowserLogin signs in by driving a real Chrome through the portal's login pages.
// It is the fallback when the portal only completes sign-on for JavaScript clients.
type BrowserLogin struct {
	portal    common.PortalConfig
	config    common.BrowserConfig
	keepAlive bool
	logger    arbor.ILogger
}

// NewBrowserLogin creates a browser authenticator. The browser is closed after login.
func NewBrowserLogin(portal common.PortalConfig, config common.BrowserConfig, logger arbor.ILogger) *BrowserLogin {
	return &BrowserLogin{portal: portal, config: config, logger: logger}
}

// KeepingAlive returns a copy whose Login leaves the browser open and
// returns it in LoginResult.Browser
func (b *BrowserLogin) KeepingAlive() *BrowserLogin {
	clone := *b
	clone.keepAlive = true
	return &clone
}

func (b *BrowserLogin) Name() string { return "browser" }

func (b *BrowserLogin) allocatorOptions() []chromedp.ExecAllocatorOption {
	return append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.config.Headless),
		chromedp.Flag("no-sandbox", b.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 800),
		chromedp.UserAgent(b.portal.UserAgent),
	)
}

// Login fills the username and password forms and waits for the app to
// publish its bearer token in sessionStorage
func (b *BrowserLogin) Login(ctx context.Context, cred models.Credential) (*interfaces.LoginResult, error) {
	timeout := common.Duration(b.config.Timeout, 60*time.Second)
	settle := common.Duration(b.config.SettleDelay, 5*time.Second)
	pollDelay := common.Duration(b.config.TokenPollDelay, time.Second)
	polls := b.config.TokenPolls
	if polls <= 0 {
		polls = 30
	}

	appURL := strings.TrimRight(b.portal.AppBaseURL, "/")

	// The browser outlives ctx when kept alive, so it hangs off Background
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	closeBrowser := func() {
		browserCancel()
		allocCancel()
	}
	stop := context.AfterFunc(ctx, closeBrowser)

	b.logger.Info().Bool("headless", b.config.Headless).Msg("Starting browser-based authentication")

	// Allocate the browser on the long-lived context; a Run on a timeout
	// context would tie the Chrome process to that timeout
	if err := chromedp.Run(browserCtx); err != nil {
		stop()
		closeBrowser()
		return nil, &common.BrowserAuthFailedError{Cause: fmt.Errorf("failed to start browser: %w", err)}
	}

	fail := func(step string, err error) error {
		stop()
		result := &common.BrowserAuthFailedError{Cause: fmt.Errorf("%s: %w", step, err)}
		if ctx.Err() == nil {
			result.URL, result.Screenshot = b.captureFailure(browserCtx, step)
		}
		closeBrowser()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return result
	}

	run := func(step string, actions ...chromedp.Action) error {
		stepCtx, cancel := context.WithTimeout(browserCtx, timeout)
		defer cancel()
		b.logger.Debug().Str("step", step).Msg("Browser step")
		return chromedp.Run(stepCtx, actions...)
	}

	if err := run("navigate",
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthJS).Do(ctx)
			return err
		}),
		chromedp.Navigate(appURL+appHomePath),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
	); err != nil {
		return nil, fail("navigate", err)
	}

	if err := run("username",
		chromedp.WaitVisible(usernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(usernameSelector, cred.Username, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	); err != nil {
		return nil, fail("username", err)
	}

	if err := run("next_btn",
		chromedp.WaitVisible(nextButtonXPath, chromedp.BySearch),
		chromedp.Click(nextButtonXPath, chromedp.BySearch),
		chromedp.Sleep(settle),
	); err != nil {
		return nil, fail("next_btn", err)
	}

	var submitted bool
	if err := run("password",
		chromedp.WaitVisible(passwordSelector, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, cred.Password, chromedp.ByQuery),
		chromedp.Evaluate(submitJS, &submitted),
	); err != nil {
		return nil, fail("password", err)
	}
	if !submitted {
		if err := run("submit", chromedp.SendKeys(passwordSelector, "\r", chromedp.ByQuery)); err != nil {
			return nil, fail("submit", err)
		}
	}

	b.logger.Info().Msg("Waiting for authentication to complete")
	if err := sleepContext(ctx, 2*settle); err != nil {
		return nil, fail("submit", err)
	}

	token, err := b.pollBearerToken(ctx, browserCtx, polls, pollDelay)
	if err != nil {
		return nil, fail("token", err)
	}

	var cookies []*network.Cookie
	if err := run("cookies", chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{appURL, strings.TrimRight(b.portal.AuthBaseURL, "/")}).Do(ctx)
		return err
	})); err != nil {
		return nil, fail("cookies", err)
	}
	stop()

	record := browserRecord(token, cookies, time.Now())
	b.logger.Info().Int("cookies", len(record.Cookies)).Msg("Browser authentication complete")

	result := &interfaces.LoginResult{Record: record}
	if b.keepAlive {
		result.Browser = &liveBrowser{
			ctx:     browserCtx,
			close:   closeBrowser,
			appURL:  appURL,
			timeout: timeout,
			logger:  b.logger,
		}
	} else {
		closeBrowser()
	}
	return result, nil
}

// browserRecord builds the cached session from what the browser holds after sign-in
func browserRecord(token string, cookies []*network.Cookie, now time.Time) *models.SessionRecord {
	record := &models.SessionRecord{
		BearerToken:     token,
		CreatedAt:       now,
		LastValidatedAt: now,
	}
	for _, c := range cookies {
		record.Cookies = append(record.Cookies, models.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
		if c.Name == xsrfCookie {
			record.XSRFToken = c.Value
		}
	}
	return record
}

func (b *BrowserLogin) pollBearerToken(ctx, browserCtx context.Context, polls int, delay time.Duration) (string, error) {
	for i := 0; i < polls; i++ {
		if err := sleepContext(ctx, delay); err != nil {
			return "", err
		}
		var token string
		evalCtx, cancel := context.WithTimeout(browserCtx, 5*time.Second)
		// The page may still be navigating; errors are retried
		err := chromedp.Run(evalCtx, chromedp.Evaluate(`sessionStorage.getItem("`+bearerStorageKey+`") || ""`, &token))
		cancel()
		if err == nil && token != "" {
			return token, nil
		}
	}
	return "", errors.New("login did not complete: no bearer token in sessionStorage")
}

// captureFailure saves a screenshot named after the failing step
func (b *BrowserLogin) captureFailure(browserCtx context.Context, step string) (string, string) {
	ctx, cancel := context.WithTimeout(browserCtx, 10*time.Second)
	defer cancel()

	var location string
	var shot []byte
	if err := chromedp.Run(ctx, chromedp.Location(&location), chromedp.CaptureScreenshot(&shot)); err != nil {
		return location, ""
	}

	path := failureScreenshotPath(b.config.ScreenshotDir, step)
	if err := os.WriteFile(path, shot, 0600); err != nil {
		b.logger.Warn().Err(err).Str("path", path).Msg("Failed to save failure screenshot")
		return location, ""
	}
	b.logger.Warn().Str("path", path).Str("url", location).Msg("Debug screenshot saved")
	return location, path
}

func failureScreenshotPath(dir, step string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("auth_failure_%s.png", step))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// liveBrowser is an authenticated Chrome tab kept open for downloads that
// the portal only serves to in-page requests
type liveBrowser struct {
	ctx       context.Context
	close     func()
	appURL    string
	timeout   time.Duration
	navigated bool
	logger    arbor.ILogger
}

const fetchBinaryJS = `(async (url, token) => {
	try {
		const headers = { 'Accept': 'application/pdf, */*' };
		if (token) { headers['Authorization'] = 'Bearer ' + token; }
		const response = await fetch(url, { method: 'GET', credentials: 'include', redirect: 'follow', headers });
		if (!response.ok) {
			return { error: 'HTTP ' + response.status, url: response.url };
		}
		const contentType = response.headers.get('content-type') || '';
		if (!contentType.includes('pdf') && !contentType.includes('octet-stream')) {
			return { error: 'wrong content-type: ' + contentType.substring(0, 50), url: response.url };
		}
		const bytes = new Uint8Array(await response.arrayBuffer());
		let binary = '';
		for (let i = 0; i < bytes.length; i += 0x8000) {
			binary += String.fromCharCode.apply(null, bytes.subarray(i, i + 0x8000));
		}
		return { data: btoa(binary), contentType };
	} catch (e) {
		return { error: e.message };
	}
})(%s, sessionStorage.getItem(%q))`

type fetchResult struct {
	Error       string `json:"error"`
	URL         string `json:"url"`
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
}

// decode returns the PDF bytes of an in-page fetch. A failed fetch that
// ended on a sign-in page means the session has expired.
func (r fetchResult) decode() ([]byte, error) {
	if r.Error != "" {
		lower := strings.ToLower(r.URL)
		if strings.Contains(lower, "login") || strings.Contains(lower, "signin") {
			return nil, fmt.Errorf("browser fetch redirected to sign-in (%s): %w", r.Error, common.ErrSessionExpired)
		}
		return nil, fmt.Errorf("browser fetch: %s", common.Truncate(r.Error, 80))
	}

	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("browser fetch returned undecodable data: %w", err)
	}
	if !strings.HasPrefix(string(data[:min(len(data), 4)]), "%PDF") {
		return nil, errors.New("browser fetch did not return a valid PDF")
	}
	return data, nil
}

// FetchBinary downloads url with an in-page fetch carrying the tab's cookies and bearer token.
// The body must be a PDF.
func (l *liveBrowser) FetchBinary(ctx context.Context, target string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if !l.navigated {
		if err := chromedp.Run(runCtx,
			chromedp.Navigate(l.appURL+statementsPath),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(2*time.Second),
		); err != nil {
			return nil, fmt.Errorf("browser navigation failed: %w", err)
		}
		l.navigated = true
	}

	quotedURL, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}

	var result fetchResult
	script := fmt.Sprintf(fetchBinaryJS, quotedURL, bearerStorageKey)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &result, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser fetch failed: %w", err)
	}

	data, err := result.decode()
	if err != nil {
		return nil, err
	}
	l.logger.Debug().Int("bytes", len(data)).Str("content_type", result.ContentType).Msg("Fetched artifact through browser")
	return data, nil
}

// Close shuts down the tab and the Chrome process
func (l *liveBrowser) Close() error {
	if l.close != nil {
		l.close()
		l.close = nil
	}
	return nil
}
