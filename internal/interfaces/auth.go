package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/hrsync/internal/models"
)

// CredentialSource supplies the portal username and password
type CredentialSource interface {
	Name() string
	Credentials(ctx context.Context) (*models.Credential, error)
}

// SessionStore persists a single SessionRecord between runs.
// Load returns (nil, nil) when no usable record exists.
type SessionStore interface {
	Save(record *models.SessionRecord) error
	Load() (*models.SessionRecord, error)
	Clear() error
	Touch(at time.Time) error
	Path() string
}

// LiveBrowser is an authenticated browser kept open after login.
// Some artifact downloads only succeed from inside the browser's origin.
type LiveBrowser interface {
	FetchBinary(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// LoginResult is what either authentication variant produces
type LoginResult struct {
	Record  *models.SessionRecord
	Browser LiveBrowser // nil unless the caller asked to keep the browser
}

// Authenticator performs a fresh login
type Authenticator interface {
	Name() string
	Login(ctx context.Context, cred models.Credential) (*LoginResult, error)
}
