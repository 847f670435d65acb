package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"pinokio-tracker/internal/model"
)

const defaultRawBaseURL = "https://raw.githubusercontent.com"

// Client is a wrapper around the go-github client. Every API request is
// counted, and requests that fail on an exhausted rate limit are retried
// after sleeping until the reset reported by the server.
type Client struct {
	gh         *github.Client
	quota      *github.Client
	raw        *http.Client
	rawBaseURL string
	logger     *slog.Logger
	calls      atomic.Int64
}

// countingTransport increments the call counter once per outbound
// request, including attempts that come back rate-limited.
type countingTransport struct {
	base  http.RoundTripper
	calls *atomic.Int64
}

func (t *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return t.base.RoundTrip(req)
}

// NewClient creates and configures a new Client instance. An empty token
// is allowed; requests are then unauthenticated with the reduced quota.
func NewClient(token string, logger *slog.Logger) *Client {
	c := &Client{
		raw:        &http.Client{Timeout: 30 * time.Second},
		rawBaseURL: defaultRawBaseURL,
		logger:     logger,
	}

	base := http.RoundTripper(http.DefaultTransport)
	if token != "" {
		base = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   base,
		}
	}
	c.gh = github.NewClient(&http.Client{
		Transport: &countingTransport{base: base, calls: &c.calls},
		Timeout:   30 * time.Second,
	})
	// The rate limit endpoint does not consume quota, so its requests
	// stay out of the counter as well.
	c.quota = github.NewClient(&http.Client{
		Transport: base,
		Timeout:   30 * time.Second,
	})

	return c
}

// WithBaseURLs points the client at alternate API and raw-content hosts,
// keeping the counting transport. Used against test servers.
func (c *Client) WithBaseURLs(apiURL, rawURL string) error {
	gh, err := c.gh.WithEnterpriseURLs(apiURL, apiURL)
	if err != nil {
		return err
	}
	quota, err := c.quota.WithEnterpriseURLs(apiURL, apiURL)
	if err != nil {
		return err
	}
	c.gh = gh
	c.quota = quota
	c.rawBaseURL = strings.TrimRight(rawURL, "/")
	return nil
}

// Calls reports how many API requests this client has issued so far.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

// withRateLimitRetry runs fn until it returns something other than a
// rate-limit error, sleeping until the reported reset (at least one
// second) between attempts. All other errors propagate immediately.
func withRateLimitRetry[T any](ctx context.Context, c *Client, fn func() (T, error)) (T, error) {
	for {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		var rle *github.RateLimitError
		if !errors.As(err, &rle) {
			return v, err
		}
		wait := time.Until(rle.Rate.Reset.Time)
		if wait < time.Second {
			wait = time.Second
		}
		c.logger.Info("Rate limit exhausted, sleeping until reset", "wait", wait.Round(time.Second).String())
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// ListOrgRepos fetches every repository of an organization, following
// pagination until exhausted.
func (c *Client) ListOrgRepos(ctx context.Context, org string) ([]model.Repo, error) {
	var all []model.Repo

	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		c.logger.Debug("Fetching organization repos page", "org", org, "page", opts.Page)

		var resp *github.Response
		repos, err := withRateLimitRetry(ctx, c, func() ([]*github.Repository, error) {
			var err error
			var page []*github.Repository
			page, resp, err = c.gh.Repositories.ListByOrg(ctx, org, opts)
			return page, err
		})
		if err != nil {
			return nil, err
		}

		for _, repo := range repos {
			all = append(all, toRepo(repo))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// GetRepository fetches a single repository's metadata as an upstream
// snapshot.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*model.Upstream, error) {
	repo, err := withRateLimitRetry(ctx, c, func() (*github.Repository, error) {
		r, _, err := c.gh.Repositories.Get(ctx, owner, name)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	return toUpstream(repo), nil
}

// FetchFileContent fetches a file through the contents API, decoded from
// its base64 transport representation.
func (c *Client) FetchFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	file, err := withRateLimitRetry(ctx, c, func() (*github.RepositoryContent, error) {
		f, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
		return f, err
	})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("%s in %s/%s is not a file", path, owner, repo)
	}
	return file.GetContent()
}

// FetchReadme fetches the README text, trying the raw host first (it
// costs no API quota), then falling back to the contents API.
func (c *Client) FetchReadme(ctx context.Context, owner, repo string) (string, error) {
	if text, err := c.fetchRawReadme(ctx, owner, repo); err == nil {
		return text, nil
	}

	readme, err := withRateLimitRetry(ctx, c, func() (*github.RepositoryContent, error) {
		r, _, err := c.gh.Repositories.GetReadme(ctx, owner, repo, nil)
		return r, err
	})
	if err != nil {
		return "", err
	}
	return readme.GetContent()
}

func (c *Client) fetchRawReadme(ctx context.Context, owner, repo string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/main/README.md", c.rawBaseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.raw.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("raw readme fetch for %s/%s: status %d", owner, repo, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("raw readme fetch for %s/%s: empty body", owner, repo)
	}
	return string(body), nil
}

// RateLimitRemaining reports the remaining core API quota. The check is
// free on the API side and therefore issued through the uncounted
// client, so it never skews the usage snapshot.
func (c *Client) RateLimitRemaining(ctx context.Context) (int, error) {
	limits, _, err := c.quota.RateLimit.Get(ctx)
	if err != nil {
		return 0, err
	}
	return limits.GetCore().Remaining, nil
}

// toRepo translates a github.Repository to our internal model.Repo.
func toRepo(r *github.Repository) model.Repo {
	return model.Repo{
		Name:        r.GetName(),
		Description: r.GetDescription(),
		HTMLURL:     r.GetHTMLURL(),
		CreatedAt:   r.GetCreatedAt().Time,
		UpdatedAt:   r.GetUpdatedAt().Time,
		PushedAt:    r.GetPushedAt().Time,
		OpenIssues:  r.GetOpenIssuesCount(),
	}
}

// toUpstream translates a github.Repository to an upstream snapshot.
func toUpstream(r *github.Repository) *model.Upstream {
	return &model.Upstream{
		Name:       r.GetFullName(),
		URL:        r.GetHTMLURL(),
		CreatedAt:  r.GetCreatedAt().Time,
		UpdatedAt:  r.GetUpdatedAt().Time,
		OpenIssues: r.GetOpenIssuesCount(),
	}
}
