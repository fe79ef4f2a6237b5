package auth

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
)

func TestFetchResult_Decode(t *testing.T) {
	pdf := []byte("%PDF-1.4 body")

	data, err := fetchResult{Data: base64.StdEncoding.EncodeToString(pdf), ContentType: "application/pdf"}.decode()
	require.NoError(t, err)
	assert.Equal(t, pdf, data)

	tests := []struct {
		name    string
		result  fetchResult
		expired bool
		message string
	}{
		{"redirected to login", fetchResult{Error: "HTTP 401", URL: "https://online.emea.adp.com/signin/v1/?APPID=IHCM"}, true, "sign-in"},
		{"redirected to login page", fetchResult{Error: "wrong content-type: text/html", URL: "https://ihcm.adp.com/Login.aspx"}, true, "sign-in"},
		{"server error", fetchResult{Error: "HTTP 500", URL: "https://ihcm.adp.com/whrmux/webapi/api/v1/pdf"}, false, "HTTP 500"},
		{"wrong content type", fetchResult{Error: "wrong content-type: application/json"}, false, "wrong content-type"},
		{"not base64", fetchResult{Data: "!!!"}, false, "undecodable"},
		{"not a pdf", fetchResult{Data: base64.StdEncoding.EncodeToString([]byte("<html>"))}, false, "valid PDF"},
		{"empty body", fetchResult{}, false, "valid PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.result.decode()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, tt.expired, errors.Is(err, common.ErrSessionExpired))
		})
	}
}

func TestBrowserRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := browserRecord(testToken, []*network.Cookie{
		{Name: xsrfCookie, Value: "xsrf-1", Domain: "ihcm.adp.com", Path: "/"},
		{Name: SSOCookie, Value: "sso-1", Domain: ".adp.com", Path: "/"},
	}, now)

	assert.Equal(t, testToken, record.BearerToken)
	assert.Equal(t, "xsrf-1", record.XSRFToken)
	assert.Equal(t, "sso-1", record.Cookie(SSOCookie))
	assert.Equal(t, ".adp.com", record.Cookies[1].Domain)
	assert.Equal(t, now, record.CreatedAt)
	assert.Equal(t, now, record.LastValidatedAt)
}

func TestFailureScreenshotPath(t *testing.T) {
	assert.Equal(t, filepath.Join(".", "auth_failure_password.png"), failureScreenshotPath("", "password"))
	assert.Equal(t, filepath.Join("shots", "auth_failure_token.png"), failureScreenshotPath("shots", "token"))
}

func TestBrowserLogin_KeepingAlive(t *testing.T) {
	login := NewBrowserLogin(common.PortalConfig{AppBaseURL: "https://ihcm.adp.com"}, common.BrowserConfig{Headless: true}, arbor.NewLogger())
	live := login.KeepingAlive()

	assert.False(t, login.keepAlive)
	assert.True(t, live.keepAlive)
	assert.Equal(t, "browser", live.Name())
	assert.NotEmpty(t, live.allocatorOptions())
}
