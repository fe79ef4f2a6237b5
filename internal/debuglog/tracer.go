// Package debuglog writes a full request/response trace of the sign-on
// exchange to a file. It is off unless the CLI is run with -debug.
package debuglog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	maxHeaderValue = 200
	maxJSONBody    = 4000
	maxHTMLBody    = 1000
	maxOtherBody   = 2000
	maskedValue    = "***MASKED***"
)

// Tracer is an explicit, injectable trace writer. All methods are safe on a nil receiver.
type Tracer struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// New creates a disabled tracer that will write to path once enabled
func New(path string) *Tracer {
	return &Tracer{path: path}
}

// Enable truncates the trace file and starts writing
func (t *Tracer) Enable() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		return nil
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open debug log %s: %w", t.path, err)
	}
	t.file = f
	t.writeLocked("=== Authentication Debug Log ===")
	t.writeLocked("Started: " + time.Now().Format(time.RFC3339))
	t.writeLocked("")
	return nil
}

// Close flushes and closes the trace file
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Enabled reports whether the tracer is writing
func (t *Tracer) Enabled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file != nil
}

// Path returns the trace file location
func (t *Tracer) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

// Section writes a banner separating protocol steps
func (t *Tracer) Section(title string) {
	if !t.Enabled() {
		return
	}
	t.write("",
		strings.Repeat("=", 80),
		"  "+title,
		strings.Repeat("=", 80))
}

// Cookies dumps a cookie set under a label
func (t *Tracer) Cookies(label string, cookies []*http.Cookie) {
	if !t.Enabled() {
		return
	}
	lines := []string{"", "--- " + label + " ---"}
	for _, c := range cookies {
		lines = append(lines,
			fmt.Sprintf("  %s:", c.Name),
			fmt.Sprintf("    value: %s", truncate(c.Value, 100)),
			fmt.Sprintf("    domain: %s", c.Domain),
			fmt.Sprintf("    path: %s", c.Path))
	}
	t.write(lines...)
}

// Transport wraps next so every request and response is written to the trace.
// Each redirect hop passes through the transport, so hops are traced individually.
func (t *Tracer) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &tracingTransport{tracer: t, next: next}
}

type tracingTransport struct {
	tracer *Tracer
	next   http.RoundTripper
}

func (tt *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !tt.tracer.Enabled() {
		return tt.next.RoundTrip(req)
	}

	tt.tracer.request(req)

	resp, err := tt.next.RoundTrip(req)
	if err != nil {
		tt.tracer.write("", "<<< TRANSPORT ERROR: "+err.Error())
		return nil, err
	}

	tt.tracer.response(resp)
	return resp, nil
}

func (t *Tracer) request(req *http.Request) {
	lines := []string{"", fmt.Sprintf(">>> REQUEST: %s %s", req.Method, req.URL), "--- Request Headers ---"}
	lines = append(lines, headerLines(req.Header)...)

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
		if err == nil && len(body) > 0 {
			lines = append(lines, "--- Request Body ---", MaskBody(body))
		}
	}
	t.write(lines...)
}

func (t *Tracer) response(resp *http.Response) {
	lines := []string{"", fmt.Sprintf("<<< RESPONSE: %s", resp.Status)}
	if resp.Request != nil {
		lines = append(lines, fmt.Sprintf("    URL: %s", resp.Request.URL))
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		lines = append(lines, fmt.Sprintf("    -> Location: %s", loc))
	}
	lines = append(lines, "--- Response Headers ---")
	lines = append(lines, headerLines(resp.Header)...)

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		lines = append(lines, "--- Response Body ---", "[read error: "+err.Error()+"]")
		t.write(lines...)
		return
	}

	lines = append(lines, "--- Response Body ---")
	contentType := resp.Header.Get("Content-Type")
	switch {
	case len(body) == 0:
		lines = append(lines, "[empty]")
	case strings.Contains(contentType, "json"):
		lines = append(lines, truncate(prettyJSON(body), maxJSONBody))
	case strings.Contains(contentType, "html"):
		lines = append(lines, fmt.Sprintf("[HTML Response - %d chars]", len(body)), truncate(string(body), maxHTMLBody))
	default:
		lines = append(lines, truncate(string(body), maxOtherBody))
	}
	t.write(lines...)
}

func (t *Tracer) write(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range lines {
		t.writeLocked(l)
	}
}

func (t *Tracer) writeLocked(line string) {
	if t.file == nil {
		return
	}
	_, _ = t.file.WriteString(line + "\n")
}

func headerLines(h http.Header) []string {
	var lines []string
	for k, values := range h {
		for _, v := range values {
			if strings.EqualFold(k, "Authorization") {
				v = truncate(v, 20)
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", k, truncate(v, maxHeaderValue)))
		}
	}
	return lines
}

// MaskBody pretty-prints a JSON request body with every "password" field masked.
// Non-JSON bodies are truncated as-is.
func MaskBody(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return truncate(string(body), 500)
	}
	maskPasswords(v)
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return truncate(string(body), 500)
	}
	return string(out)
}

func maskPasswords(v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if strings.EqualFold(k, "password") {
				val[k] = maskedValue
				continue
			}
			maskPasswords(child)
		}
	case []any:
		for _, child := range val {
			maskPasswords(child)
		}
	}
}

func prettyJSON(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
