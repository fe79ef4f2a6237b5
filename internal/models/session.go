package models

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Credential is a username/password pair. It is never persisted.
type Credential struct {
	Username string
	Password string
}

// String hides the password so credentials can't leak through %v
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Username: %s, Password: ***}", c.Username)
}

// GoString covers %#v, which bypasses String
func (c Credential) GoString() string {
	return c.String()
}

// LogValue keeps the password out of structured logs
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username), slog.String("password", "***"))
}

// Valid reports whether both parts are present
func (c Credential) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Cookie is the persisted form of a session cookie
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// SessionRecord is a cached authenticated session.
// Only LastValidatedAt changes after creation.
type SessionRecord struct {
	BearerToken     string    `json:"bearer_token"`
	Cookies         []Cookie  `json:"cookies"`
	XSRFToken       string    `json:"xsrf_token,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastValidatedAt time.Time `json:"last_validated"`
}

// Cookie returns the named cookie value, or empty
func (r *SessionRecord) Cookie(name string) string {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// CookiesFromHTTP converts jar cookies to the persisted form.
// Cookies read back from a jar carry no domain, so the request host is used.
func CookiesFromHTTP(cookies []*http.Cookie, host string) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = host
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, Cookie{Name: c.Name, Value: c.Value, Domain: domain, Path: path})
	}
	return out
}
