package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pinokio-tracker/internal/model"
)

// RepoLister is the slice of the GitHub client the syncer needs.
type RepoLister interface {
	ListOrgRepos(ctx context.Context, org string) ([]model.Repo, error)
	RateLimitRemaining(ctx context.Context) (int, error)
	Calls() int64
}

// UpstreamResolver discovers the upstream snapshot for a repository, or
// nil when none can be found.
type UpstreamResolver interface {
	Resolve(ctx context.Context, org, name string) *model.Upstream
}

// Store is the cache the syncer reads staleness decisions from and
// writes merged records to.
type Store interface {
	ShouldRefresh(ctx context.Context, name string, observedUpdatedAt time.Time) (bool, error)
	Upsert(ctx context.Context, rec model.RepoRecord) error
	ReadAll(ctx context.Context) ([]model.RepoRecord, error)
	RecordUsage(ctx context.Context, snap model.UsageSnapshot) error
}

// Syncer orchestrates one refresh pass over the organization.
type Syncer struct {
	store    Store
	client   RepoLister
	resolver UpstreamResolver
	logger   *slog.Logger
	org      string

	now func() time.Time
}

// New creates a new Syncer instance.
func New(store Store, client RepoLister, resolver UpstreamResolver, logger *slog.Logger, org string) *Syncer {
	return &Syncer{
		store:    store,
		client:   client,
		resolver: resolver,
		logger:   logger,
		org:      org,
		now:      time.Now,
	}
}

// Run performs one synchronization pass: list the organization, refresh
// every stale record, write the usage snapshot, and return the full row
// set for export. Repositories are processed strictly one at a time.
func (s *Syncer) Run(ctx context.Context) ([]model.RepoRecord, error) {
	remaining, err := s.client.RateLimitRemaining(ctx)
	if err != nil {
		s.logger.Warn("Could not read rate limit quota", "error", err)
		remaining = 0
	}

	repos, err := s.client.ListOrgRepos(ctx, s.org)
	if err != nil {
		return nil, fmt.Errorf("listing repositories of %q: %w", s.org, err)
	}
	s.logger.Info("Fetched organization listing", "org", s.org, "repos", len(repos))

	refreshed := 0
	for _, repo := range repos {
		logger := s.logger.With("repo", repo.Name)

		stale, err := s.store.ShouldRefresh(ctx, repo.Name, repo.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if !stale {
			logger.Debug("Record is fresh, skipping")
			continue
		}

		rec := model.RepoRecord{
			Repo:        repo,
			Upstream:    s.resolver.Resolve(ctx, s.org, repo.Name),
			LastChecked: s.now().UTC(),
		}
		if err := s.store.Upsert(ctx, rec); err != nil {
			return nil, err
		}
		refreshed++
		logger.Info("Record refreshed", "upstream", rec.UpstreamName())
	}

	records, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading back records: %w", err)
	}

	// Best effort: a failed snapshot never fails the run.
	calls := s.client.Calls()
	snap := model.UsageSnapshot{
		LastRun:        s.now().UTC(),
		CallsUsed:      calls,
		CallsRemaining: max(int64(remaining)-calls, 0),
	}
	if err := s.store.RecordUsage(ctx, snap); err != nil {
		s.logger.Warn("Could not record usage snapshot", "error", err)
	}

	s.logger.Info("Sync pass finished", "repos", len(records), "refreshed", refreshed, "api_calls", calls)
	return records, nil
}
