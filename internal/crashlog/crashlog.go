// Package crashlog writes sanitized, newline-delimited JSON crash records for
// the core. It is grounded on the teacher's key-based JSON redaction
// (internal/observability/redact.go) generalized to the pattern-based
// redaction the original crash reporter performs: home directory and OS
// user name substrings, and any run of 32 or more hex characters (API keys,
// hashes, session tokens), are replaced regardless of which JSON key they
// sit under.
package crashlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var hexRun = regexp.MustCompile(`[0-9a-fA-F]{32,}`)

// Record is a single sanitized crash entry.
type Record struct {
	Time    time.Time      `json:"time"`
	Message string         `json:"message"`
	Kind    string         `json:"kind,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Reporter appends sanitized crash records to a file under dir.
type Reporter struct {
	mu   sync.Mutex
	path string
	home string
	user string
}

// New returns a Reporter that writes to "crash.log" under dir, creating dir
// if necessary. home and user are the substrings to scrub from every record;
// pass the real values from os.UserHomeDir/os.Getenv("USER") in production
// and empty strings only in tests that don't need scrubbing.
func New(dir, home, user string) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("crashlog: create dir: %w", err)
	}
	return &Reporter{path: filepath.Join(dir, "crash.log"), home: home, user: user}, nil
}

// Report sanitizes err and ctx and appends a record to the crash log.
func (r *Reporter) Report(err error, kind string, ctx map[string]any) error {
	if err == nil {
		return nil
	}
	rec := Record{
		Time:    time.Now().UTC(),
		Message: r.sanitizeString(err.Error()),
		Kind:    kind,
		Context: r.sanitizeMap(ctx),
	}
	line, mErr := json.Marshal(rec)
	if mErr != nil {
		return fmt.Errorf("crashlog: marshal: %w", mErr)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	f, oErr := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if oErr != nil {
		return fmt.Errorf("crashlog: open: %w", oErr)
	}
	defer f.Close()
	_, wErr := f.Write(line)
	return wErr
}

func (r *Reporter) sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.sanitizeValue(v)
	}
	return out
}

func (r *Reporter) sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.sanitizeString(val)
	case map[string]any:
		return r.sanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = r.sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

// sanitizeString applies the home/user substring scrub and the hex-run scrub.
func (r *Reporter) sanitizeString(s string) string {
	if r.home != "" {
		s = strings.ReplaceAll(s, r.home, "[HOME]")
	}
	if r.user != "" {
		s = strings.ReplaceAll(s, r.user, "[USER]")
	}
	return hexRun.ReplaceAllString(s, "[REDACTED]")
}
