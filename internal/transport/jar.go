package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Cookie is a single HTTP cookie persisted to JSON.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// Jar is a file-backed cookie jar. It implements http.CookieJar so the
// shared HTTP client records the cookies Twitch sets (unique_id, auth-token)
// and sends them back on subsequent requests, and it persists them to a JSON
// file so the session survives restarts.
type Jar struct {
	mu      sync.RWMutex
	path    string
	cookies []Cookie
}

// NewJar creates a jar backed by the JSON file at path. The file is not
// touched until Load or Save is called.
func NewJar(path string) *Jar {
	return &Jar{path: path}
}

// Load reads cookies from the backing file. A missing file is not an error.
func (j *Jar) Load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading cookie file %s: %w", j.path, err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("parsing cookie file %s: %w", j.path, err)
	}

	j.cookies = cookies
	return nil
}

// Save writes the cookies to the backing file, creating parent directories
// as needed. The write goes to a temp file first and is renamed into place
// so a crash cannot corrupt the stored session.
func (j *Jar) Save() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cookie directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(j.cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cookies: %w", err)
	}

	tmpPath := j.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing temp cookie file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("renaming temp cookie file %s to %s: %w", tmpPath, j.path, err)
	}

	return nil
}

// SetCookies implements http.CookieJar. Cookies with a negative MaxAge or an
// expiry in the past are removed from the jar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain := canonicalDomain(c.Domain)
		if domain == "" {
			domain = canonicalDomain(u.Hostname())
		}

		expired := c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now()))
		idx := j.indexOf(c.Name, domain)

		if expired {
			if idx >= 0 {
				j.cookies = append(j.cookies[:idx], j.cookies[idx+1:]...)
			}
			continue
		}

		stored := Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  domain,
			Path:    c.Path,
			Expires: c.Expires,
		}
		if idx >= 0 {
			j.cookies[idx] = stored
		} else {
			j.cookies = append(j.cookies, stored)
		}
	}
}

// Cookies implements http.CookieJar. Path matching is intentionally loose:
// every cookie this jar ever holds is scoped to a twitch.tv domain at "/".
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	host := canonicalDomain(u.Hostname())
	var out []*http.Cookie
	for _, c := range j.cookies {
		if !domainMatch(host, c.Domain) {
			continue
		}
		if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// Get returns the value of the named cookie, or "" if absent.
func (j *Jar) Get(name string) string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, c := range j.cookies {
		if c.Name == name && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// Set adds or updates a cookie scoped to the Twitch domain.
func (j *Jar) Set(name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i, c := range j.cookies {
		if c.Name == name {
			j.cookies[i].Value = value
			return
		}
	}
	j.cookies = append(j.cookies, Cookie{
		Name:   name,
		Value:  value,
		Domain: "twitch.tv",
		Path:   "/",
	})
}

// ClearDomain removes every cookie scoped to the given domain or one of its
// subdomains. Used when a 401 invalidates the stored session.
func (j *Jar) ClearDomain(domain string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	domain = canonicalDomain(domain)
	kept := j.cookies[:0]
	for _, c := range j.cookies {
		if !domainMatch(c.Domain, domain) {
			kept = append(kept, c)
		}
	}
	j.cookies = kept
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

// indexOf must be called with mu held.
func (j *Jar) indexOf(name, domain string) int {
	for i, c := range j.cookies {
		if c.Name == name && c.Domain == domain {
			return i
		}
	}
	return -1
}

func canonicalDomain(d string) string {
	return strings.ToLower(strings.TrimPrefix(d, "."))
}

// domainMatch reports whether host is domain itself or a subdomain of it.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
