package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/debuglog"
	"github.com/ternarybob/hrsync/internal/httpclient"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// ValidationPath is a cheap authenticated endpoint used to test a cached session
const ValidationPath = "/whrmux/webapi/api/data/me/home"

// Auth modes
const (
	ModeAuto     = "auto"
	ModeProtocol = "protocol"
	ModeBrowser  = "browser"
)

// AcquireOptions controls a single AcquireSession call
type AcquireOptions struct {
	UseCache        bool   // Load a cached session first and persist the new one
	NeedLiveBrowser bool   // On fresh login, use the browser and keep it open
	Mode            string // Overrides auth.mode when set
}

// Session is an authenticated portal client
type Session struct {
	Client    *http.Client
	Record    *models.SessionRecord
	Browser   interfaces.LiveBrowser // nil unless requested
	FromCache bool
}

// Close releases the live browser, if any
func (s *Session) Close() error {
	if s == nil || s.Browser == nil {
		return nil
	}
	return s.Browser.Close()
}

// Manager hands out authenticated sessions, reusing the cached one while
// the portal still accepts it
type Manager struct {
	config      *common.Config
	store       interfaces.SessionStore
	credentials interfaces.CredentialSource
	protocol    interfaces.Authenticator
	browser     interfaces.Authenticator
	liveBrowser interfaces.Authenticator
	tracer      *debuglog.Tracer
	logger      arbor.ILogger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithAuthenticators replaces the protocol, browser and keep-alive browser authenticators
func WithAuthenticators(protocol, browser, liveBrowser interfaces.Authenticator) ManagerOption {
	return func(m *Manager) {
		m.protocol = protocol
		m.browser = browser
		m.liveBrowser = liveBrowser
	}
}

// NewManager creates a session manager
func NewManager(config *common.Config, store interfaces.SessionStore, credentials interfaces.CredentialSource, tracer *debuglog.Tracer, logger arbor.ILogger, opts ...ManagerOption) *Manager {
	browser := NewBrowserLogin(config.Portal, config.Browser, logger)
	m := &Manager{
		config:      config,
		store:       store,
		credentials: credentials,
		protocol:    NewFlowEngine(config.Portal, tracer, logger),
		browser:     browser,
		liveBrowser: browser.KeepingAlive(),
		tracer:      tracer,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AcquireSession returns a validated cached session or performs a fresh login
func (m *Manager) AcquireSession(ctx context.Context, opts AcquireOptions) (*Session, error) {
	if opts.UseCache {
		session, err := m.fromCache(ctx)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}

	cred, err := m.credentials.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	result, err := m.login(ctx, *cred, opts)
	if err != nil {
		return nil, err
	}

	if opts.UseCache {
		if err := m.store.Save(result.Record); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to cache session")
		} else {
			m.logger.Info().Str("path", m.store.Path()).Msg("Session cached")
		}
	}

	client, err := m.NewClient(result.Record)
	if err != nil {
		if result.Browser != nil {
			_ = result.Browser.Close()
		}
		return nil, err
	}

	return &Session{Client: client, Record: result.Record, Browser: result.Browser}, nil
}

// fromCache returns nil when there is no usable cached session
func (m *Manager) fromCache(ctx context.Context) (*Session, error) {
	record, err := m.store.Load()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load cached session")
		return nil, nil
	}
	if record == nil {
		m.logger.Debug().Msg("No cached session")
		return nil, nil
	}

	buffer := common.Duration(m.config.Auth.ExpiryBuffer, DefaultExpiryBuffer)
	// Informational only: cookies often outlive the bearer token
	if IsExpiringSoon(record.BearerToken, buffer, time.Now()) {
		m.logger.Info().Msg("Cached token expired or expiring, validating session anyway")
	} else if exp := TokenExpiry(record.BearerToken); !exp.IsZero() {
		m.logger.Debug().Str("expires", exp.Format(time.RFC3339)).Msg("Cached token still valid")
	}

	client, err := m.NewClient(record)
	if err != nil {
		return nil, err
	}

	if err := m.Validate(ctx, client); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Info().Err(err).Msg("Cached session rejected, clearing cache")
		if clearErr := m.store.Clear(); clearErr != nil {
			m.logger.Warn().Err(clearErr).Msg("Failed to clear session cache")
		}
		return nil, nil
	}

	if err := m.store.Touch(time.Now()); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to update session validation time")
	}
	record.LastValidatedAt = time.Now()
	m.logger.Info().Msg("Using cached session")

	return &Session{Client: client, Record: record, FromCache: true}, nil
}

func (m *Manager) login(ctx context.Context, cred models.Credential, opts AcquireOptions) (*interfaces.LoginResult, error) {
	if opts.NeedLiveBrowser {
		return m.liveBrowser.Login(ctx, cred)
	}

	mode := opts.Mode
	if mode == "" {
		mode = m.config.Auth.Mode
	}

	switch mode {
	case ModeProtocol:
		return m.protocol.Login(ctx, cred)
	case ModeBrowser:
		return m.browser.Login(ctx, cred)
	case ModeAuto, "":
		result, err := m.protocol.Login(ctx, cred)
		if err == nil {
			return result, nil
		}
		var stepErr *common.AuthStepFailedError
		if ctx.Err() != nil || !errors.As(err, &stepErr) {
			return nil, err
		}
		m.logger.Warn().Str("step", stepErr.Step).Err(err).Msg("Sign-on protocol failed, falling back to browser login")
		return m.browser.Login(ctx, cred)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// NewClient builds the authenticated data client for a session record
func (m *Manager) NewClient(record *models.SessionRecord) (*http.Client, error) {
	retry := httpclient.NewRetryPolicy()
	if m.config.Sync.MaxRetries > 0 {
		retry.MaxAttempts = m.config.Sync.MaxRetries
	}
	return httpclient.New(httpclient.Options{
		AppBaseURL:  m.config.Portal.AppBaseURL,
		UserAgent:   m.config.Portal.UserAgent,
		Timeout:     common.Duration(m.config.Portal.Timeout, 30*time.Second),
		BearerToken: record.BearerToken,
		XSRFToken:   record.XSRFToken,
		Cookies:     record.Cookies,
		Retry:       retry,
		Tracer:      m.tracer,
		Logger:      m.logger,
	})
}

// Validate makes one request to the validation endpoint; only HTTP 200 passes
func (m *Manager) Validate(ctx context.Context, client *http.Client) error {
	timeout := common.Duration(m.config.Auth.ValidateTimeout, 10*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(m.config.Portal.AppBaseURL, "/") + ValidationPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("session validation failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session validation failed: HTTP %d: %w", resp.StatusCode, common.ErrSessionExpired)
	}
	return nil
}

// InvalidateOnExpiry clears the cached session when err shows the portal
// stopped accepting it mid-run. Cookie sessions can pass validation while the
// data endpoints already answer 401, so the next run must sign in again.
// It reports whether the cache was cleared.
func (m *Manager) InvalidateOnExpiry(err error) bool {
	if !errors.Is(err, common.ErrSessionExpired) {
		return false
	}
	if cerr := m.ClearCache(); cerr != nil {
		m.logger.Warn().Err(cerr).Msg("Failed to clear expired session")
		return false
	}
	return true
}

// ClearCache deletes the cached session
func (m *Manager) ClearCache() error {
	if err := m.store.Clear(); err != nil {
		return err
	}
	m.logger.Info().Str("path", m.store.Path()).Msg("Session cache cleared")
	return nil
}
