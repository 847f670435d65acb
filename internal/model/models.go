package model

import "time"

// Repo holds the metadata we track for a repository in the organization.
type Repo struct {
	Name        string
	Description string
	HTMLURL     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PushedAt    time.Time
	OpenIssues  int
}

// Upstream is a snapshot of the source repository a packaging repo was
// built from, taken at resolution time. A record carries either a full
// snapshot or none at all, which is why RepoRecord holds a pointer.
type Upstream struct {
	Name       string
	URL        string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	OpenIssues int
}

// RepoRecord is one row of the repos table: the repository's own
// metadata plus the optional upstream snapshot.
type RepoRecord struct {
	Repo
	Upstream    *Upstream
	LastChecked time.Time
}

// UsageSnapshot is an append-only log entry recording how much API
// quota a run consumed.
type UsageSnapshot struct {
	LastRun        time.Time
	CallsUsed      int64
	CallsRemaining int64
}

// UpstreamName returns the sort key used by the exporters: the upstream
// full name, or the empty string when no upstream was resolved.
func (r *RepoRecord) UpstreamName() string {
	if r.Upstream == nil {
		return ""
	}
	return r.Upstream.Name
}
