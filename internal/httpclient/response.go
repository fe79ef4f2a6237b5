package httpclient

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/hrsync/internal/common"
)

// LooksLikeHTML reports whether a body is an HTML document rather than JSON.
// The portal answers expired API calls with its login page and a 200.
func LooksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	lower := strings.ToLower(string(trimmed[:min(len(trimmed), 16)]))
	return strings.HasPrefix(lower, "<!") || strings.HasPrefix(lower, "<html")
}

// DescribeHTML returns a short description of an HTML page for diagnostics:
// its title and whether it carries a password form.
func DescribeHTML(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "unparseable HTML"
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "untitled"
	}

	if doc.Find(`input[type="password"]`).Length() > 0 || doc.Find("form").Length() > 0 {
		return fmt.Sprintf("login page %q", title)
	}
	return fmt.Sprintf("HTML page %q", title)
}

// CheckSession converts the portal's ways of saying "not signed in" into
// common.ErrSessionExpired: HTTP 401, or an HTML page where JSON was expected.
func CheckSession(endpoint string, status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%s returned HTTP 401: %w", endpoint, common.ErrSessionExpired)
	}
	if LooksLikeHTML(body) {
		return fmt.Errorf("%s returned %s instead of JSON: %w", endpoint, DescribeHTML(body), common.ErrSessionExpired)
	}
	return nil
}
