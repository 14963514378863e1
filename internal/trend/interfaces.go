package trend

import (
	"context"
	"time"
)

// RepoStore persists per-repository crawl state.
type RepoStore interface {
	Get(ctx context.Context, id int64) (Repo, bool, error)
	Upsert(ctx context.Context, repo Repo) error
}

// CandidateStore persists promoted repositories and their pipeline status.
// The three conditional writes (CreateIfAbsent, MarkDispatched,
// AcquireNotificationLock) must be atomic against concurrent callers.
type CandidateStore interface {
	// CreateIfAbsent inserts the candidate unless one already exists for
	// the repo id. Returns true when a row was created.
	CreateIfAbsent(ctx context.Context, cand Candidate) (bool, error)
	// Upsert overwrites the candidate row, used by the force-candidate
	// diagnostic path.
	Upsert(ctx context.Context, cand Candidate) error
	Get(ctx context.Context, repoID int64) (Candidate, bool, error)
	// ListUndispatched returns up to limit candidates with
	// dispatched=false, oldest promotion first.
	ListUndispatched(ctx context.Context, limit int) ([]Candidate, error)
	// MarkDispatched claims the candidate only if it is still
	// undispatched. Returns false when another run already claimed it.
	MarkDispatched(ctx context.Context, repoID int64, jobHandle string, at time.Time) (bool, error)
	RecordDispatchFailure(ctx context.Context, repoID int64, at time.Time) error
	// ListAwaitingNotification returns dispatched candidates with a job
	// handle, no notification sent, promoted at or after the cutoff.
	ListAwaitingNotification(ctx context.Context, promotedSince time.Time) ([]Candidate, error)
	// AcquireNotificationLock is the lease compare-and-set: it writes a
	// fresh lock timestamp only when the notification is unsent and any
	// existing lock is older than the lease. Returns true on ownership.
	AcquireNotificationLock(ctx context.Context, repoID int64, now time.Time, lease time.Duration) (bool, error)
	ReleaseNotificationLock(ctx context.Context, repoID int64) error
	// MarkNotified stamps the sent timestamp and clears the lock.
	MarkNotified(ctx context.Context, repoID int64, at time.Time) error
}

// ComicStore receives finished generation results and serves handle lookups.
type ComicStore interface {
	Insert(ctx context.Context, comic Comic) error
	FindByJobHandle(ctx context.Context, jobHandle string) (Comic, bool, error)
}

// SubscriberStore persists newsletter subscriptions.
type SubscriberStore interface {
	Upsert(ctx context.Context, sub Subscriber) error
	FindByToken(ctx context.Context, token string) (Subscriber, bool, error)
	Confirm(ctx context.Context, email string, at time.Time) error
	ListConfirmed(ctx context.Context) ([]Subscriber, error)
}

// MetadataSource is the read-only, rate-limited repository search API.
type MetadataSource interface {
	SearchRepositories(ctx context.Context, query SearchQuery, page int) ([]RepoSummary, error)
	FetchRepository(ctx context.Context, fullName string) (Repo, error)
	// FetchReadme performs a conditional GET using the cached ETag; a 304
	// or 404 yields Fresh=false and no error.
	FetchReadme(ctx context.Context, fullName, etag string) (ReadmeResult, error)
}

// GenerationClient submits artifacts to the external generation service.
type GenerationClient interface {
	// SubmitJob returns the job handle; a success response without a
	// handle is a protocol violation and reported as an error.
	SubmitJob(ctx context.Context, req GenerationRequest) (string, error)
}

// NotificationSink delivers a rendered notification to its recipients.
type NotificationSink interface {
	Send(ctx context.Context, msg Notification) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes pipeline events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
