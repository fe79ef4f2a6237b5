package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/debuglog"
	"github.com/ternarybob/hrsync/internal/httpclient"
	"github.com/ternarybob/hrsync/internal/models"
)

const testToken = "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1c2VyIn0.c2ln"

// fakePortal serves both hosts of the sign-on protocol
type fakePortal struct {
	auth *httptest.Server
	app  *httptest.Server

	password     string
	identifyBody string
	setSSO       bool
	challengeSSO bool // set the SSO cookie on challenge-respond rather than authorize
	tokenStatus int
	tokenBody   string

	gotUserID   string
	gotSession  string
	gotPassword string
	gotXSRF     string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{
		password:     "correct-password",
		identifyBody: `{"session":"s2"}`,
		setSSO:       true,
		tokenStatus:  http.StatusOK,
		tokenBody:    `{"access_token":"` + testToken + `"}`,
	}

	app := http.NewServeMux()
	app.HandleFunc("/whrmux/web/me/home", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><title>Home</title></html>"))
	})
	app.HandleFunc("/whrmux/webapi/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if c, err := r.Cookie(SSOCookie); err != nil || c.Value != "sso-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(p.tokenStatus)
		_, _ = w.Write([]byte(p.tokenBody))
	})
	p.app = httptest.NewServer(app)
	t.Cleanup(p.app.Close)

	auth := http.NewServeMux()
	auth.HandleFunc("/csrf", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "abc", Path: "/"})
	})
	auth.HandleFunc("/api/sign-in-service/v1/sign-in.start", func(w http.ResponseWriter, r *http.Request) {
		p.gotXSRF = r.Header.Get("X-XSRF-TOKEN")
		if p.gotXSRF != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"session":"s1"}`))
	})
	auth.HandleFunc("/api/sign-in-service/v1/sign-in.account.identify", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.gotUserID = body["userId"]
		_, _ = w.Write([]byte(p.identifyBody))
	})
	auth.HandleFunc("/api/sign-in-service/v1/sign-in.challenge.respond", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Session  string `json:"session"`
			Response struct {
				Type     string `json:"type"`
				Password string `json:"password"`
			} `json:"response"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.gotSession = body.Session
		p.gotPassword = body.Response.Password
		if body.Response.Password != p.password {
			_, _ = w.Write([]byte(`{"status":"FAILED","message":"Invalid user ID or password"}`))
			return
		}
		if p.challengeSSO {
			http.SetCookie(w, &http.Cookie{Name: SSOCookie, Value: "sso-1", Path: "/"})
		}
		// Empty body: the server only sets cookies
	})
	auth.HandleFunc("/api/authorization-service/v1/authorize", func(w http.ResponseWriter, r *http.Request) {
		if p.setSSO && !p.challengeSSO {
			http.SetCookie(w, &http.Cookie{Name: SSOCookie, Value: "sso-1", Path: "/"})
		}
		http.Redirect(w, r, r.URL.Query().Get("returnURL"), http.StatusFound)
	})
	p.auth = httptest.NewServer(auth)
	t.Cleanup(p.auth.Close)

	return p
}

func (p *fakePortal) config() common.PortalConfig {
	return common.PortalConfig{
		AuthBaseURL: p.auth.URL,
		AppBaseURL:  p.app.URL,
		ProductID:   "product",
		AppID:       "IHCM",
		UserAgent:   "hrsync-test",
		Timeout:     "5s",
	}
}

func newTestFlow(p *fakePortal, tracer *debuglog.Tracer) *FlowEngine {
	flow := NewFlowEngine(p.config(), tracer, arbor.NewLogger())
	flow.retry = &httpclient.RetryPolicy{MaxAttempts: 1}
	return flow
}

func TestFlowEngine_Login(t *testing.T) {
	portal := newFakePortal(t)
	flow := newTestFlow(portal, nil)

	result, err := flow.Login(context.Background(), models.Credential{Username: "user@example.com", Password: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Nil(t, result.Browser)

	record := result.Record
	assert.Equal(t, testToken, record.BearerToken)
	assert.Equal(t, "abc", record.XSRFToken)
	assert.Equal(t, "sso-1", record.Cookie(SSOCookie))
	assert.WithinDuration(t, time.Now(), record.CreatedAt, time.Minute)

	assert.Equal(t, "abc", portal.gotXSRF)
	assert.Equal(t, "user@example.com", portal.gotUserID)
	assert.Equal(t, "s2", portal.gotSession, "identify's session token replaces the start token")
	assert.Equal(t, "correct-password", portal.gotPassword)
}

func TestFlowEngine_LoginKeepsStartSessionWhenIdentifyOmitsIt(t *testing.T) {
	portal := newFakePortal(t)
	portal.identifyBody = `{}`
	portal.challengeSSO = true
	flow := newTestFlow(portal, nil)

	result, err := flow.Login(context.Background(), models.Credential{Username: "user@example.com", Password: "correct-password"})
	require.NoError(t, err)

	assert.Equal(t, "s1", portal.gotSession)
	assert.Equal(t, testToken, result.Record.BearerToken)
	assert.Equal(t, "sso-1", result.Record.Cookie(SSOCookie))
	assert.Equal(t, "abc", result.Record.XSRFToken)
}

func TestFlowEngine_StepFailures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(p *fakePortal)
		password string
		step     FlowState
		reason   string
	}{
		{
			name:     "wrong password",
			password: "wrong",
			step:     StatePasswordChallenge,
			reason:   "invalid credentials",
		},
		{
			name:   "sso cookie missing",
			mutate: func(p *fakePortal) { p.setSSO = false },
			step:   StateSsoAuthorized,
			reason: SSOCookie,
		},
		{
			name:   "token endpoint serves login page",
			mutate: func(p *fakePortal) { p.tokenBody = "<!doctype html><html><title>Sign in</title></html>" },
			step:   StateTokenExchanged,
			reason: "session not established",
		},
		{
			name:   "token endpoint empty",
			mutate: func(p *fakePortal) { p.tokenBody = "  " },
			step:   StateTokenExchanged,
			reason: "empty response",
		},
		{
			name:   "token missing",
			mutate: func(p *fakePortal) { p.tokenBody = `{"token_type":"bearer"}` },
			step:   StateTokenExchanged,
			reason: "no access_token",
		},
		{
			name:   "token 401",
			mutate: func(p *fakePortal) { p.tokenStatus = http.StatusUnauthorized },
			step:   StateTokenExchanged,
			reason: "401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal := newFakePortal(t)
			if tt.mutate != nil {
				tt.mutate(portal)
			}
			password := "correct-password"
			if tt.password != "" {
				password = tt.password
			}

			_, err := newTestFlow(portal, nil).Login(context.Background(), models.Credential{Username: "u", Password: password})
			require.Error(t, err)

			var stepErr *common.AuthStepFailedError
			require.True(t, errors.As(err, &stepErr), "got %T: %v", err, err)
			assert.Equal(t, string(tt.step), stepErr.Step)
			assert.Contains(t, stepErr.Error(), tt.reason)
			assert.Equal(t, common.ClassFatal, common.Classify(err))
		})
	}
}

func TestFlowEngine_MissingCsrfCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	flow := NewFlowEngine(common.PortalConfig{AuthBaseURL: server.URL, AppBaseURL: server.URL, AppID: "IHCM"}, nil, arbor.NewLogger())
	_, err := flow.Login(context.Background(), models.Credential{Username: "u", Password: "p"})

	var stepErr *common.AuthStepFailedError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, string(StateCsrfAcquired), stepErr.Step)
}

func TestFlowEngine_DebugTraceMasksPassword(t *testing.T) {
	portal := newFakePortal(t)
	tracer := debuglog.New(t.TempDir() + "/auth_debug.log")
	require.NoError(t, tracer.Enable())

	_, err := newTestFlow(portal, tracer).Login(context.Background(), models.Credential{Username: "u", Password: "correct-password"})
	require.NoError(t, err)
	require.NoError(t, tracer.Close())

	raw, err := os.ReadFile(tracer.Path())
	require.NoError(t, err)
	data := string(raw)
	assert.Contains(t, data, string(StatePasswordChallenge))
	assert.Contains(t, data, "sign-in.challenge.respond")
	assert.NotContains(t, data, "correct-password")
}
