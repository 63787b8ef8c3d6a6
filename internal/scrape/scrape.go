// Package scrape fetches public profile pages and extracts the usernames
// mentioned in their biography.
package scrape

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	cwerrors "chainwatch/internal/errors"
)

var (
	bioPattern      = regexp.MustCompile(`<meta +property="og:description" +content="(.+?)".*>`)
	usernamePattern = regexp.MustCompile(`@([a-zA-Z][\w\d]{4,31})`)
)

// maxPageBytes caps how much of a profile page is read.
const maxPageBytes = 1 << 20

// Fetcher returns the usernames a profile's biography mentions.
type Fetcher interface {
	Mentions(ctx context.Context, username string) ([]string, error)
}

// ExtractBio returns the unescaped biography from a profile page.
func ExtractBio(page string) (string, bool) {
	m := bioPattern.FindStringSubmatch(page)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(m[1]), true
}

// ExtractMentions returns the distinct usernames mentioned in text, in order
// of first appearance, without the leading @.
func ExtractMentions(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range usernamePattern.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Options configures an HTTPFetcher.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// HTTPFetcher reads profile pages over HTTP behind a circuit breaker.
type HTTPFetcher struct {
	client    *http.Client
	baseURL   string
	userAgent string
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewHTTPFetcher creates a fetcher for pages at BaseURL + username.
func NewHTTPFetcher(opts Options, logger *slog.Logger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = time.Minute
	}
	maxFailures := opts.MaxFailures

	settings := gobreaker.Settings{
		Name:        "profile-fetch",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &HTTPFetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/") + "/",
		userAgent: opts.UserAgent,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		logger:    logger,
	}
}

// Mentions fetches the profile page of username and extracts mentions. A
// page without a biography yields no mentions and no error.
func (f *HTTPFetcher) Mentions(ctx context.Context, username string) ([]string, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx, username)
	})
	if err != nil {
		return nil, cwerrors.NewError(cwerrors.FetchFailed, fmt.Sprintf("profile @%s unavailable", username), err, nil)
	}
	bio, ok := ExtractBio(result.(string))
	if !ok {
		f.logger.Debug("Profile has no biography", "username", username)
		return nil, nil
	}
	return ExtractMentions(bio), nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, username string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+url.PathEscape(username), nil)
	if err != nil {
		return "", err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Results holds the outcome of FetchAll keyed by participant id.
type Results struct {
	Mentions map[string][]string
	Failures map[string]error
}

// FetchAll fetches every profile in usernames (participant id -> username)
// with at most concurrency requests in flight. Individual failures are
// collected, not returned; only context cancellation aborts the batch.
func FetchAll(ctx context.Context, f Fetcher, usernames map[string]string, concurrency int) (*Results, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	res := &Results{
		Mentions: make(map[string][]string, len(usernames)),
		Failures: make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for id, username := range usernames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mentions, err := f.Mentions(gctx, username)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures[id] = err
				return nil
			}
			res.Mentions[id] = mentions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, ctx.Err()
}
