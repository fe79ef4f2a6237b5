package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"session expired", ErrSessionExpired, ClassRecoverable},
		{"wrapped session expired", fmt.Errorf("fetch detail: %w", ErrSessionExpired), ClassRecoverable},
		{"cancelled", fmt.Errorf("sync: %w", context.Canceled), ClassRecoverable},
		{"credentials", &CredentialUnavailableError{Source: "env"}, ClassFatal},
		{"auth step", &AuthStepFailedError{Step: "csrf", Reason: "missing cookie"}, ClassFatal},
		{"browser", &BrowserAuthFailedError{Cause: errors.New("timeout")}, ClassFatal},
		{"remote", NewRemoteServiceError("employee", 500, nil), ClassFatal},
		{"malformed", &MalformedResponseError{Endpoint: "x", Err: errors.New("eof")}, ClassFatal},
		{"unknown", errors.New("boom"), ClassDefect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRemediation(t *testing.T) {
	assert.Contains(t, Remediation(fmt.Errorf("x: %w", ErrSessionExpired)), "-clear-cache")
	assert.Contains(t, Remediation(&BrowserAuthFailedError{Cause: errors.New("x"), Screenshot: "shot.png"}), "shot.png")
	assert.Empty(t, Remediation(errors.New("boom")))
}

func TestNewRemoteServiceError_TruncatesBody(t *testing.T) {
	body := []byte(strings.Repeat("a", 2000))
	err := NewRemoteServiceError("pay-statement-query", 502, body)

	assert.Equal(t, 502, err.Status)
	assert.Len(t, err.Body, maxErrorBody+3)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))

	// "é" is two bytes; cutting at 2 would split it
	got := Truncate("aéb", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))

	body := strings.Repeat("€", 700)
	err := NewRemoteServiceError("people-query", 500, []byte(body))
	assert.True(t, utf8.ValidString(err.Body))
	assert.LessOrEqual(t, len(err.Body), maxErrorBody+3)
}

func TestAuthStepFailedError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &AuthStepFailedError{Step: "sign_in_start", Reason: "request failed", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "sign_in_start")
}
