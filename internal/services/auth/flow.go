package auth

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

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/debuglog"
	"github.com/ternarybob/hrsync/internal/httpclient"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// FlowState names a step of the sign-on protocol
type FlowState string

const (
	StateInit              FlowState = "Init"
	StateCsrfAcquired      FlowState = "CsrfAcquired"
	StateSignInStarted     FlowState = "SignInStarted"
	StateAccountIdentified FlowState = "AccountIdentified"
	StatePasswordChallenge FlowState = "PasswordChallenged"
	StateSsoAuthorized     FlowState = "SsoAuthorized"
	StateTokenExchanged    FlowState = "TokenExchanged"
)

const (
	xsrfCookie = "XSRF-TOKEN"
	// SSOCookie is set by the SSO gateway once the app host trusts the sign-in
	SSOCookie = "k8Ksj346"

	signInPath    = "/api/sign-in-service/v1/"
	authorizePath = "/api/authorization-service/v1/authorize"
	appHomePath   = "/whrmux/web/me/home"
	tokenPath     = "/whrmux/webapi/token"
)

// FlowEngine performs the sign-on protocol with plain HTTP requests
type FlowEngine struct {
	portal  common.PortalConfig
	timeout time.Duration
	retry   *httpclient.RetryPolicy
	tracer  *debuglog.Tracer
	logger  arbor.ILogger
}

// NewFlowEngine creates a protocol authenticator for the configured portal
func NewFlowEngine(portal common.PortalConfig, tracer *debuglog.Tracer, logger arbor.ILogger) *FlowEngine {
	return &FlowEngine{
		portal:  portal,
		timeout: common.Duration(portal.Timeout, 30*time.Second),
		retry:   httpclient.NewRetryPolicy(),
		tracer:  tracer,
		logger:  logger,
	}
}

func (f *FlowEngine) Name() string { return "protocol" }

// flowRun holds the state of one login attempt
type flowRun struct {
	engine  *FlowEngine
	client  *http.Client
	authURL *url.URL
	appURL  *url.URL
	state   FlowState
	session string
}

// Login runs every step in order and returns the resulting session record.
// A failure at any step is reported as *common.AuthStepFailedError naming it.
func (f *FlowEngine) Login(ctx context.Context, cred models.Credential) (*interfaces.LoginResult, error) {
	authURL, err := url.Parse(strings.TrimRight(f.portal.AuthBaseURL, "/"))
	if err != nil {
		return nil, &common.AuthStepFailedError{Step: string(StateInit), Reason: "invalid auth base URL", Err: err}
	}
	appURL, err := url.Parse(strings.TrimRight(f.portal.AppBaseURL, "/"))
	if err != nil {
		return nil, &common.AuthStepFailedError{Step: string(StateInit), Reason: "invalid app base URL", Err: err}
	}

	client, err := httpclient.New(httpclient.Options{
		AppBaseURL: appURL.String(),
		UserAgent:  f.portal.UserAgent,
		Timeout:    f.timeout,
		Retry:      f.retry,
		Tracer:     f.tracer,
		Logger:     f.logger,
	})
	if err != nil {
		return nil, &common.AuthStepFailedError{Step: string(StateInit), Reason: "failed to create HTTP client", Err: err}
	}

	run := &flowRun{engine: f, client: client, authURL: authURL, appURL: appURL, state: StateInit}

	f.logger.Info().Str("username", cred.Username).Msg("Authenticating with sign-on protocol")

	steps := []struct {
		next FlowState
		fn   func(context.Context) error
	}{
		{StateCsrfAcquired, run.acquireCsrf},
		{StateSignInStarted, run.startSignIn},
		{StateAccountIdentified, func(ctx context.Context) error { return run.identify(ctx, cred.Username) }},
		{StatePasswordChallenge, func(ctx context.Context) error { return run.respondToChallenge(ctx, cred.Password) }},
		{StateSsoAuthorized, run.authorize},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.tracer.Section(string(step.next))
		if err := step.fn(ctx); err != nil {
			return nil, run.fail(step.next, err)
		}
		run.state = step.next
		f.logger.Debug().Str("state", string(run.state)).Msg("Sign-on step complete")
	}

	f.tracer.Section(string(StateTokenExchanged))
	token, err := run.exchangeToken(ctx)
	if err != nil {
		return nil, run.fail(StateTokenExchanged, err)
	}
	run.state = StateTokenExchanged

	record := &models.SessionRecord{
		BearerToken: token,
		Cookies:     run.cookies(),
		XSRFToken:   run.cookie(xsrfCookie),
		CreatedAt:   time.Now(),
	}
	record.LastValidatedAt = record.CreatedAt

	f.logger.Info().Int("cookies", len(record.Cookies)).Msg("Sign-on protocol complete")
	return &interfaces.LoginResult{Record: record}, nil
}

func (r *flowRun) fail(step FlowState, err error) error {
	var stepErr *common.AuthStepFailedError
	if errors.As(err, &stepErr) {
		stepErr.Step = string(step)
		return stepErr
	}
	return &common.AuthStepFailedError{Step: string(step), Reason: "request failed", Err: err}
}

func stepError(reason string, args ...any) error {
	return &common.AuthStepFailedError{Reason: fmt.Sprintf(reason, args...)}
}

func (r *flowRun) acquireCsrf(ctx context.Context) error {
	status, _, err := r.send(ctx, http.MethodGet, r.authURL.String()+"/csrf", nil, r.authHeaders())
	if err != nil {
		return err
	}
	if err := checkStatus(status); err != nil {
		return err
	}
	if r.cookie(xsrfCookie) == "" {
		return stepError("no %s cookie set", xsrfCookie)
	}
	return nil
}

func (r *flowRun) startSignIn(ctx context.Context) error {
	payload := map[string]string{
		"appId":        r.engine.portal.AppID,
		"productId":    r.engine.portal.ProductID,
		"returnUrl":    r.appURL.String() + appHomePath,
		"callingAppId": r.engine.portal.AppID,
	}
	var resp struct {
		Session string `json:"session"`
	}
	if err := r.postJSON(ctx, r.authURL.String()+signInPath+"sign-in.start", payload, &resp); err != nil {
		return err
	}
	if resp.Session == "" {
		return stepError("no session token in start response")
	}
	r.session = resp.Session
	return nil
}

func (r *flowRun) identify(ctx context.Context, username string) error {
	payload := map[string]string{"session": r.session, "userId": username}
	var resp struct {
		Session string `json:"session"`
	}
	if err := r.postJSON(ctx, r.authURL.String()+signInPath+"sign-in.account.identify", payload, &resp); err != nil {
		return err
	}
	if resp.Session != "" {
		r.session = resp.Session
	}
	return nil
}

func (r *flowRun) respondToChallenge(ctx context.Context, password string) error {
	payload := map[string]any{
		"response": map[string]string{
			"type":     "PASSWORD_VERIFICATION_RESPONSE",
			"password": password,
			"locale":   "en_US",
		},
		"session": r.session,
	}
	var resp struct {
		Status      string          `json:"status"`
		Message     string          `json:"message"`
		Error       json.RawMessage `json:"error"`
		RedirectURL string          `json:"redirectUrl"`
	}
	if err := r.postJSON(ctx, r.authURL.String()+signInPath+"sign-in.challenge.respond", payload, &resp); err != nil {
		return err
	}
	if resp.Status == "FAILED" || len(resp.Error) > 0 {
		msg := resp.Message
		if msg == "" {
			msg = strings.Trim(string(resp.Error), `"`)
		}
		if msg == "" {
			msg = "unknown error"
		}
		return stepError("invalid credentials: %s", msg)
	}
	if resp.RedirectURL != "" {
		r.engine.logger.Debug().Str("redirect_url", resp.RedirectURL).Msg("Challenge accepted")
	}
	return nil
}

// authorize completes the SSO hand-off to the app host, then loads the app
// home page so the app issues its own cookies
func (r *flowRun) authorize(ctx context.Context) error {
	home := r.appURL.String() + appHomePath
	query := url.Values{}
	query.Set("APPID", r.engine.portal.AppID)
	query.Set("productId", r.engine.portal.ProductID)
	query.Set("returnURL", home)
	query.Set("callingAppId", r.engine.portal.AppID)
	query.Set("TARGET", "-SM-"+home)

	status, _, err := r.send(ctx, http.MethodGet, r.authURL.String()+authorizePath+"?"+query.Encode(), nil, r.authHeaders())
	if err != nil {
		return err
	}
	r.engine.tracer.Cookies("Cookies after authorization", r.allCookies())
	if err := checkStatus(status); err != nil {
		return err
	}

	if r.cookie(SSOCookie) == "" {
		return stepError("session cookie (%s) not set", SSOCookie)
	}

	status, _, err = r.send(ctx, http.MethodGet, home, nil, r.appHeaders("/whrmux/web/"))
	if err != nil {
		return err
	}
	r.engine.tracer.Cookies("Cookies after accessing app home", r.allCookies())
	return checkStatus(status)
}

func (r *flowRun) exchangeToken(ctx context.Context) (string, error) {
	status, body, err := r.send(ctx, http.MethodPost, r.appURL.String()+tokenPath, nil, r.appHeaders("/whrmux/web/me/directory/"))
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		return "", stepError("token exchange returned 401, session not established")
	}
	if err := checkStatus(status); err != nil {
		return "", err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", stepError("token endpoint returned empty response, session not established")
	}
	if httpclient.LooksLikeHTML(trimmed) {
		return "", stepError("token endpoint returned %s, session not established", httpclient.DescribeHTML(trimmed))
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return "", &common.AuthStepFailedError{Reason: "token response is not JSON", Err: err}
	}
	if resp.AccessToken == "" {
		return "", stepError("no access_token in token response, session not established")
	}
	return resp.AccessToken, nil
}

func (r *flowRun) authHeaders() http.Header {
	h := http.Header{}
	h.Set("Origin", r.authURL.String())
	h.Set("Referer", r.authURL.String()+"/signin/v1")
	h.Set("Content-Type", "application/json")
	if xsrf := r.cookie(xsrfCookie); xsrf != "" {
		h.Set("X-XSRF-TOKEN", xsrf)
	}
	return h
}

func (r *flowRun) appHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("Origin", r.appURL.String())
	h.Set("Referer", r.appURL.String()+referer)
	if xsrf := r.cookie(xsrfCookie); xsrf != "" {
		h.Set("X-XSRF-TOKEN", xsrf)
	}
	return h
}

func (r *flowRun) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	status, body, err := r.send(ctx, http.MethodPost, endpoint, data, r.authHeaders())
	if err != nil {
		return err
	}
	if err := checkStatus(status); err != nil {
		return err
	}

	// Empty or non-JSON bodies leave out untouched; only documented fields are read
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		r.engine.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("Ignoring undecodable sign-in response")
	}
	return nil
}

func (r *flowRun) send(ctx context.Context, method, endpoint string, body []byte, headers http.Header) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func checkStatus(status int) error {
	if status < 200 || status >= 300 {
		return stepError("HTTP %d", status)
	}
	return nil
}

func (r *flowRun) allCookies() []*http.Cookie {
	cookies := r.client.Jar.Cookies(r.authURL)
	return append(cookies, r.client.Jar.Cookies(r.appURL)...)
}

// cookie finds a cookie by name on either host
func (r *flowRun) cookie(name string) string {
	for _, c := range r.allCookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// cookies returns the persisted form of every cookie for both hosts
func (r *flowRun) cookies() []models.Cookie {
	seen := make(map[string]bool)
	var out []models.Cookie
	for _, u := range []*url.URL{r.appURL, r.authURL} {
		for _, c := range models.CookiesFromHTTP(r.client.Jar.Cookies(u), u.Hostname()) {
			key := c.Name + "@" + c.Domain
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}
