package common

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrSessionExpired is returned when the portal rejects the bearer token or
// serves its login page in place of JSON. Callers persist progress and re-authenticate.
var ErrSessionExpired = errors.New("session expired")

// CredentialUnavailableError means no credential source produced a username/password pair
type CredentialUnavailableError struct {
	Source string
	Err    error
}

func (e *CredentialUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials unavailable from %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("credentials unavailable from %s", e.Source)
}

func (e *CredentialUnavailableError) Unwrap() error { return e.Err }

// AuthStepFailedError reports which step of the sign-on protocol failed
type AuthStepFailedError struct {
	Step   string
	Reason string
	Err    error
}

func (e *AuthStepFailedError) Error() string {
	msg := fmt.Sprintf("authentication failed at %s: %s", e.Step, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthStepFailedError) Unwrap() error { return e.Err }

// BrowserAuthFailedError wraps failures of the scripted browser login
type BrowserAuthFailedError struct {
	Cause      error
	URL        string // Page URL when the failure happened
	Screenshot string // Path of the saved screenshot, if any
}

func (e *BrowserAuthFailedError) Error() string {
	msg := fmt.Sprintf("browser authentication failed: %v", e.Cause)
	if e.URL != "" {
		msg += fmt.Sprintf(" (url: %s)", e.URL)
	}
	return msg
}

func (e *BrowserAuthFailedError) Unwrap() error { return e.Cause }

// RemoteServiceError is a non-2xx response from a data endpoint
type RemoteServiceError struct {
	Endpoint string
	Status   int
	Body     string // Truncated to maxErrorBody
}

const maxErrorBody = 500

// NewRemoteServiceError builds a RemoteServiceError, truncating the body
func NewRemoteServiceError(endpoint string, status int, body []byte) *RemoteServiceError {
	return &RemoteServiceError{
		Endpoint: endpoint,
		Status:   status,
		Body:     Truncate(string(body), maxErrorBody),
	}
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.Status, e.Body)
}

// MalformedResponseError means a body could not be decoded into the documented shape
type MalformedResponseError struct {
	Endpoint string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IdentifierExtractionError is raised per record when no extraction rule matched
type IdentifierExtractionError struct {
	Keys []string
}

func (e *IdentifierExtractionError) Error() string {
	return fmt.Sprintf("could not find identifier in record with keys %v", e.Keys)
}

// ErrorClass tags an error for the top-level handler
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassRecoverable errors stop the run but a re-run resumes (session expiry, interrupt)
	ClassRecoverable
	// ClassFatal errors are domain failures with a user-facing diagnostic
	ClassFatal
	// ClassDefect is anything unexpected
	ClassDefect
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRecoverable:
		return "recoverable"
	case ClassFatal:
		return "fatal"
	default:
		return "defect"
	}
}

// Classify maps an error onto an ErrorClass
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	if errors.Is(err, ErrSessionExpired) || errors.Is(err, context.Canceled) {
		return ClassRecoverable
	}

	var credErr *CredentialUnavailableError
	var stepErr *AuthStepFailedError
	var browserErr *BrowserAuthFailedError
	var remoteErr *RemoteServiceError
	var malformedErr *MalformedResponseError
	var idErr *IdentifierExtractionError
	switch {
	case errors.As(err, &credErr),
		errors.As(err, &stepErr),
		errors.As(err, &browserErr),
		errors.As(err, &remoteErr),
		errors.As(err, &malformedErr),
		errors.As(err, &idErr),
		errors.Is(err, context.DeadlineExceeded):
		return ClassFatal
	}

	return ClassDefect
}

// Remediation returns a hint for the user, or empty when there is nothing useful to say
func Remediation(err error) string {
	var credErr *CredentialUnavailableError
	var stepErr *AuthStepFailedError
	var browserErr *BrowserAuthFailedError

	switch {
	case errors.Is(err, ErrSessionExpired):
		return "Progress has been saved. Run with -clear-cache to force fresh authentication."
	case errors.Is(err, context.Canceled):
		return "Interrupted. Progress has been saved; re-run to continue."
	case errors.As(err, &credErr):
		return "Set HRSYNC_USERNAME/HRSYNC_PASSWORD, sign in to 1Password CLI (op signin), or run interactively."
	case errors.As(err, &stepErr):
		return "Re-run with -debug to write a request trace, or set auth.mode = \"browser\"."
	case errors.As(err, &browserErr):
		if browserErr.Screenshot != "" {
			return fmt.Sprintf("See screenshot %s. Re-run with -visible to watch the login.", browserErr.Screenshot)
		}
		return "Re-run with -visible to watch the login. Chrome must be installed."
	}
	return ""
}

// Truncate shortens s to at most n bytes, appending an ellipsis when cut.
// The cut never splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
