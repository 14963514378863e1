// Package trend defines core types shared across pipeline stages.
package trend

import "time"

// Stage values of the promotion machine.
const (
	StageNone      = 0
	StageFirstPass = 1
	StageConfirmed = 2
)

// Repo is the persisted crawl and scoring state for one tracked repository.
type Repo struct {
	ID          int64     `json:"id"`
	FullName    string    `json:"full_name"`
	Name        string    `json:"name"`
	OwnerLogin  string    `json:"owner_login"`
	HTMLURL     string    `json:"html_url"`
	Description string    `json:"description,omitempty"`
	Language    string    `json:"language,omitempty"`
	StarCount   int       `json:"star_count"`
	CreatedAt   time.Time `json:"created_at"`
	PushedAt    time.Time `json:"pushed_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`

	ReadmeText    string `json:"readme_text,omitempty"`
	ReadmeSHA     string `json:"readme_sha,omitempty"`
	ReadmeETag    string `json:"readme_etag,omitempty"`
	ReadmeBlobURI string `json:"readme_blob_uri,omitempty"`

	PreviousStarCount int       `json:"previous_star_count"`
	GrowthRate        float64   `json:"growth_rate"`
	TrendScore        float64   `json:"trend_score"`
	TrendStage        int       `json:"trend_stage"`
	LastCheckedAt     time.Time `json:"last_checked_at,omitzero"`
	LastCrawledAt     time.Time `json:"last_crawled_at,omitzero"`
}

// Candidate is a repository confirmed at stage 2 and queued for generation.
type Candidate struct {
	RepoID     int64     `json:"repo_id"`
	FullName   string    `json:"full_name"`
	PromotedAt time.Time `json:"promoted_at"`
	Forced     bool      `json:"forced,omitempty"`

	Dispatched          bool       `json:"dispatched"`
	JobHandle           string     `json:"job_handle,omitempty"`
	DispatchRequestedAt *time.Time `json:"dispatch_requested_at,omitempty"`
	DispatchFailedAt    *time.Time `json:"dispatch_failed_at,omitempty"`

	NotificationSentAt    *time.Time `json:"notification_sent_at,omitempty"`
	NotificationSucceeded bool       `json:"notification_succeeded"`
	NotificationLockAt    *time.Time `json:"notification_lock_at,omitempty"`
}

// Comic is a finished generation result posted back by the worker.
// Only intake and lookup-by-handle are part of this service; feed CRUD
// lives elsewhere.
type Comic struct {
	ID          string    `json:"id"`
	JobHandle   string    `json:"job_handle"`
	RepoName    string    `json:"repo_name"`
	RepoURL     string    `json:"repo_url"`
	Stars       int       `json:"stars"`
	Language    string    `json:"language,omitempty"`
	Panels      []string  `json:"panels"`
	Title       string    `json:"title,omitempty"`
	KeyInsights string    `json:"key_insights,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Subscriber statuses.
const (
	SubscriberPending   = "pending"
	SubscriberConfirmed = "confirmed"
)

// Subscriber is one newsletter subscription keyed by email.
type Subscriber struct {
	Email       string     `json:"email"`
	Token       string     `json:"token"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// RepoSummary is one search result row; only identity is needed before
// the full metadata fetch.
type RepoSummary struct {
	ID       int64
	FullName string
}

// SearchQuery captures the crawl search window.
type SearchQuery struct {
	MinStars     int
	CreatedAfter time.Time
	PerPage      int
}

// ReadmeResult is the outcome of a conditional README fetch.
// Fresh=false covers both 304 and 404; only fresh results carry a body.
type ReadmeResult struct {
	Fresh bool
	Text  string
	SHA   string
	ETag  string
}

// GenerationRequest is the payload sent to the generation service.
type GenerationRequest struct {
	ArtifactText string `json:"artifactText"`
	RepoName     string `json:"repoName"`
	RepoURL      string `json:"repoUrl"`
	StarCount    int    `json:"starCount"`
	Language     string `json:"language"`
}

// Notification is a rendered message handed to the sink.
type Notification struct {
	Recipients []string
	Subject    string
	HTMLBody   string
	RepoName   string
	ComicID    string
}
