package resolver

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	custom_errors "pinokio-tracker/internal/errors"
	"pinokio-tracker/internal/model"
)

// recipeFiles are probed in this order before falling back to the
// README. First file that yields a GitHub URL wins.
var recipeFiles = []string{"pinokio.json", "install.json"}

var githubURLPattern = regexp.MustCompile(`https://github\.com/[\w.-]+/[\w.-]+`)

// ContentFetcher is the slice of the GitHub client the resolver needs.
type ContentFetcher interface {
	FetchFileContent(ctx context.Context, owner, repo, path string) (string, error)
	FetchReadme(ctx context.Context, owner, repo string) (string, error)
	GetRepository(ctx context.Context, owner, name string) (*model.Upstream, error)
}

// Resolver discovers the upstream source repository a packaging repo
// references, by scanning its recipe files and README.
type Resolver struct {
	client ContentFetcher
	logger *slog.Logger
}

// New creates a new Resolver instance.
func New(client ContentFetcher, logger *slog.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Resolve returns the upstream snapshot for org/name, or nil when no
// upstream could be found. A nil result is a normal outcome, not an
// error: every failing probe falls through to the next candidate
// source, and a reference that cannot be resolved is simply dropped.
func (r *Resolver) Resolve(ctx context.Context, org, name string) *model.Upstream {
	logger := r.logger.With("owner", org, "repo", name)

	url := r.findUpstreamURL(ctx, logger, org, name)
	if url == "" {
		logger.Debug("No upstream reference found")
		return nil
	}

	owner, repo, err := splitOwnerRepo(url)
	if err != nil {
		logger.Debug("Upstream reference is malformed", "url", url, "error", err)
		return nil
	}

	upstream, err := r.client.GetRepository(ctx, owner, repo)
	if err != nil {
		logger.Debug("Upstream reference did not resolve", "url", url, "error", err)
		return nil
	}

	logger.Debug("Resolved upstream", "upstream", upstream.Name)
	return upstream
}

func (r *Resolver) findUpstreamURL(ctx context.Context, logger *slog.Logger, org, name string) string {
	for _, file := range recipeFiles {
		content, err := r.client.FetchFileContent(ctx, org, name, file)
		if err != nil {
			logger.Debug("Recipe file not readable", "file", file, "error", err)
			continue
		}
		var data any
		if err := json.Unmarshal([]byte(content), &data); err != nil {
			logger.Debug("Recipe file is not valid JSON", "file", file, "error", err)
			continue
		}
		if url := findGitHubURL(data); url != "" {
			return url
		}
	}

	text, err := r.client.FetchReadme(ctx, org, name)
	if err != nil {
		logger.Debug("README not readable", "error", err)
		return ""
	}
	return githubURLPattern.FindString(text)
}

// findGitHubURL walks a decoded JSON value depth-first and returns the
// first scalar string carrying a github.com/<owner>/<repo> URL. Map keys
// are visited in sorted order so the walk is deterministic.
func findGitHubURL(v any) string {
	switch v := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if url := findGitHubURL(v[k]); url != "" {
				return url
			}
		}
	case []any:
		for _, item := range v {
			if url := findGitHubURL(item); url != "" {
				return url
			}
		}
	case string:
		if strings.Contains(v, "github.com") {
			return githubURLPattern.FindString(v)
		}
	}
	return ""
}

// splitOwnerRepo extracts the trailing owner/repo pair from a GitHub
// URL, stripping a trailing slash and a trailing .git suffix.
func splitOwnerRepo(url string) (string, string, error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", &custom_errors.ErrInvalidRepoRef{Ref: url}
	}
	owner, repo := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" || owner == "github.com" {
		return "", "", &custom_errors.ErrInvalidRepoRef{Ref: url}
	}
	return owner, repo, nil
}
