package runbook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/version"
)

// DocService resolves a runbook's reference document: the operator-facing
// markdown that explains what the runbook does and when to approve it.
// Documents live next to the SOPs in a GitHub repo; fetched content is
// cached with a short TTL so repeated operator views don't hammer the API.
type DocService struct {
	httpClient *http.Client
	token      string

	mu      sync.RWMutex
	entries map[string]docEntry
	ttl     time.Duration
}

type docEntry struct {
	content   string
	fetchedAt time.Time
}

// NewDocService creates the service. token may be empty (public repos
// only, lower rate limits). ttl <= 0 falls back to one minute.
func NewDocService(token string, ttl time.Duration) *DocService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DocService{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		entries:    make(map[string]docEntry),
		ttl:        ttl,
	}
}

// Resolve returns the reference document for a definition. Definitions
// without a DocURL get a generated stub so the endpoint always has
// something to show.
func (s *DocService) Resolve(ctx context.Context, def *Definition) (string, error) {
	if def.DocURL == "" {
		return fmt.Sprintf("# %s\n\nNo reference document configured.\nApplies to: %s\n",
			def.Label, joinTypes(def.AppliesTo)), nil
	}
	if err := ValidateDocURL(def.DocURL); err != nil {
		return "", fmt.Errorf("runbook %s: %w", def.ID, err)
	}

	if content, ok := s.cached(def.DocURL); ok {
		return content, nil
	}
	content, err := s.download(ctx, def.DocURL)
	if err != nil {
		return "", err
	}
	s.store(def.DocURL, content)
	return content, nil
}

func (s *DocService) cached(url string) (string, bool) {
	s.mu.RLock()
	e, ok := s.entries[url]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Since(e.fetchedAt) > s.ttl {
		// Expired, clean up lazily. Re-check under the write lock: a
		// concurrent store may have refreshed the entry in between.
		s.mu.Lock()
		if cur, ok := s.entries[url]; ok && time.Since(cur.fetchedAt) > s.ttl {
			delete(s.entries, url)
		}
		s.mu.Unlock()
		return "", false
	}
	return e.content, true
}

func (s *DocService) store(url, content string) {
	s.mu.Lock()
	s.entries[url] = docEntry{content: content, fetchedAt: time.Now()}
	s.mu.Unlock()
}

// download fetches the document, converting GitHub blob URLs to raw
// content URLs first.
func (s *DocService) download(ctx context.Context, rawURL string) (string, error) {
	downloadURL := ConvertToRawURL(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.Full())
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch doc from %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("doc host returned HTTP %d for %s", resp.StatusCode, downloadURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read doc body: %w", err)
	}
	return string(body), nil
}

// githubBlobPattern matches GitHub blob or tree URL paths:
// /{owner}/{repo}/{blob|tree}/{ref}/{path...}
var githubBlobPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)(?:/(.*))?$`)

// ConvertToRawURL converts a GitHub blob URL to a raw content URL.
// Returns the URL unchanged if already raw or not a recognized GitHub URL.
func ConvertToRawURL(docURL string) string {
	parsed, err := url.Parse(docURL)
	if err != nil {
		return docURL
	}
	if parsed.Host == "raw.githubusercontent.com" {
		return docURL
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return docURL
	}
	m := githubBlobPattern.FindStringSubmatch(parsed.Path)
	if m == nil {
		return docURL
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s",
		m[1], m[2], m[4], m[5])
}

// ValidateDocURL checks the URL scheme before any fetch.
func ValidateDocURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed doc URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid doc URL scheme %q: only http and https allowed", parsed.Scheme)
	}
	return nil
}

func joinTypes(types []anomaly.Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
