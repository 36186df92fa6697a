// Package commits lists recent commits of the executor repository from GitHub.
package commits

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/config"
	"github.com/Renetatomm/renetato-s-executor/internal/model"
	"github.com/Renetatomm/renetato-s-executor/internal/telemetry"
)

const (
	userAgent      = "Renetato-Executor-Panel"
	acceptHeader   = "application/vnd.github.v3+json"
	requestTimeout = 10 * time.Second
)

// Lister fetches the commit listing and caches successful responses.
// Failures never reach the caller: they degrade to a static listing.
type Lister struct {
	httpClient *http.Client
	endpoint   string
	repo       string
	token      string
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mutex    sync.Mutex
	cached   []model.Commit
	cachedAt time.Time
}

// newListerWithURL is the internal constructor that allows for a custom API base URL, making it testable.
func newListerWithURL(cfg config.GitHubConfig, apiURL string, logger *slog.Logger) (*Lister, error) {
	base, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/commits?per_page=%d", base.String(), cfg.Repo, cfg.PerPage)

	return &Lister{
		httpClient: &http.Client{Timeout: requestTimeout},
		endpoint:   endpoint,
		repo:       cfg.Repo,
		token:      cfg.Token,
		cacheTTL:   cfg.CacheDuration(),
		logger:     logger.With("component", "commits"),
		now:        time.Now,
	}, nil
}

// NewLister creates a Lister against the configured GitHub API.
func NewLister(cfg config.GitHubConfig, logger *slog.Logger) (*Lister, error) {
	return newListerWithURL(cfg, cfg.APIURL, logger)
}

// List returns the recent commits. It serves from cache while the cache is fresh,
// otherwise fetches, and falls back to the static listing if the fetch fails.
func (l *Lister) List(ctx context.Context) []model.Commit {
	now := l.now()

	l.mutex.Lock()
	if l.cached != nil && now.Sub(l.cachedAt) < l.cacheTTL {
		commits := l.cached
		l.mutex.Unlock()
		return commits
	}
	l.mutex.Unlock()

	commits, err := l.fetch(ctx)
	if err != nil {
		telemetry.CommitsFallbackTotal.Inc()
		l.logger.Warn("Failed to fetch commits, serving fallback", "repo", l.repo, "error", err)
		return Fallback(l.repo, now)
	}

	l.mutex.Lock()
	l.cached = commits
	l.cachedAt = now
	l.mutex.Unlock()

	l.logger.Debug("Fetched commits", "repo", l.repo, "count", len(commits))
	return commits
}

func (l *Lister) fetch(ctx context.Context) ([]model.Commit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GitHub API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var commits []model.Commit
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return nil, fmt.Errorf("failed to decode commits: %w", err)
	}
	if commits == nil {
		commits = []model.Commit{}
	}
	return commits, nil
}

var fallbackCommits = []struct {
	sha     string
	message string
}{
	{"abc123", "Updated executor core functionality"},
	{"def456", "Fixed injection stability issues"},
	{"ghi789", "Enhanced script execution performance"},
	{"jkl012", "Added new security features"},
	{"mno345", "Updated UI and user experience"},
}

// Fallback returns the static listing served when GitHub is unreachable.
// The i-th commit is dated i days before now.
func Fallback(repo string, now time.Time) []model.Commit {
	owner, _, _ := strings.Cut(repo, "/")
	commits := make([]model.Commit, len(fallbackCommits))
	for i, fc := range fallbackCommits {
		commits[i] = model.Commit{
			SHA: fc.sha,
			Commit: model.CommitDetail{
				Message: fc.message,
				Author: model.CommitAuthor{
					Name: owner,
					Date: now.AddDate(0, 0, -i),
				},
			},
			HTMLURL: fmt.Sprintf("https://github.com/%s/commit/%s", repo, fc.sha),
		}
	}
	return commits
}
