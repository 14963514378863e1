// Package watcher sends the newsletter notification once a dispatched
// candidate's comic has arrived.
package watcher

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/trend"
)

// Config tunes the notification pass.
type Config struct {
	// FreshnessWindow bounds how old a promotion may be and still
	// trigger a notification.
	FreshnessWindow time.Duration
	// LockLease is how long a notification lock is honored before a
	// later run may assume the holder died.
	LockLease time.Duration
}

// Stats summarizes one notification pass.
type Stats struct {
	Considered int
	Notified   int
	Pending    int
	Skipped    int
	Failures   []string
}

// Watcher scans dispatched candidates and notifies subscribers when
// their comics are ready. The lock lease keeps concurrent passes from
// double-sending.
type Watcher struct {
	cfg         Config
	candidates  trend.CandidateStore
	comics      trend.ComicStore
	subscribers trend.SubscriberStore
	sink        trend.NotificationSink
	publisher   trend.Publisher
	clock       trend.Clock
	logger      *zap.Logger
}

// New creates a Watcher.
func New(
	cfg Config,
	candidates trend.CandidateStore,
	comics trend.ComicStore,
	subscribers trend.SubscriberStore,
	sink trend.NotificationSink,
	publisher trend.Publisher,
	clock trend.Clock,
	logger *zap.Logger,
) *Watcher {
	return &Watcher{
		cfg:         cfg,
		candidates:  candidates,
		comics:      comics,
		subscribers: subscribers,
		sink:        sink,
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
	}
}

// SentEvent is published after a notification goes out.
type SentEvent struct {
	RepoID   int64     `json:"repoId"`
	FullName string    `json:"fullName"`
	ComicID  string    `json:"comicId"`
	At       time.Time `json:"at"`
}

// Run scans candidates awaiting notification. For each, it requires the
// comic to have arrived, takes the notification lock, and sends exactly
// one message. The sent timestamp is stamped only on delivery success,
// so a failed send releases the lock and stays retryable.
func (w *Watcher) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	now := w.clock.Now()
	cutoff := now.Add(-w.cfg.FreshnessWindow)

	pending, err := w.candidates.ListAwaitingNotification(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("list candidates awaiting notification: %w", err)
	}

	for _, cand := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Considered++

		if err := w.notifyOne(ctx, cand, &stats); err != nil {
			w.logger.Warn("notification failed",
				zap.String("repo", cand.FullName),
				zap.Error(err),
			)
			stats.Failures = append(stats.Failures, fmt.Sprintf("%s: %v", cand.FullName, err))
			metrics.ObserveNotification("failed")
		}
	}

	w.logger.Info("notification pass finished",
		zap.Int("considered", stats.Considered),
		zap.Int("notified", stats.Notified),
		zap.Int("pending", stats.Pending),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failures", len(stats.Failures)),
	)
	return stats, nil
}

func (w *Watcher) notifyOne(ctx context.Context, cand trend.Candidate, stats *Stats) error {
	comic, found, err := w.comics.FindByJobHandle(ctx, cand.JobHandle)
	if err != nil {
		return fmt.Errorf("look up comic: %w", err)
	}
	if !found {
		// Generation still running; a later pass will pick it up.
		stats.Pending++
		metrics.ObserveNotification("pending")
		return nil
	}

	now := w.clock.Now()
	acquired, err := w.candidates.AcquireNotificationLock(ctx, cand.RepoID, now, w.cfg.LockLease)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		// Another pass holds the lock or already sent.
		stats.Skipped++
		metrics.ObserveNotification("locked")
		return nil
	}

	recipients, err := w.subscribers.ListConfirmed(ctx)
	if err != nil {
		w.releaseLock(ctx, cand.RepoID)
		return fmt.Errorf("list subscribers: %w", err)
	}
	if len(recipients) == 0 {
		// Nobody to notify; leave the candidate for a future pass once
		// subscribers exist.
		w.releaseLock(ctx, cand.RepoID)
		stats.Skipped++
		metrics.ObserveNotification("no_subscribers")
		return nil
	}

	emails := make([]string, 0, len(recipients))
	for _, sub := range recipients {
		emails = append(emails, sub.Email)
	}

	msg := renderNotification(cand, comic, emails)
	if err := w.sink.Send(ctx, msg); err != nil {
		w.releaseLock(ctx, cand.RepoID)
		return fmt.Errorf("send: %w", err)
	}

	if err := w.candidates.MarkNotified(ctx, cand.RepoID, w.clock.Now()); err != nil {
		// The message went out; a later duplicate is possible but the
		// send itself succeeded.
		return fmt.Errorf("mark notified: %w", err)
	}

	stats.Notified++
	metrics.ObserveNotification("sent")
	w.logger.Info("notification sent",
		zap.String("repo", cand.FullName),
		zap.String("comicId", comic.ID),
		zap.Int("recipients", len(emails)),
	)

	if w.publisher != nil {
		event := SentEvent{
			RepoID:   cand.RepoID,
			FullName: cand.FullName,
			ComicID:  comic.ID,
			At:       w.clock.Now(),
		}
		if _, err := w.publisher.Publish(ctx, "notification.sent", event); err != nil {
			w.logger.Warn("failed to publish notification event",
				zap.String("repo", cand.FullName),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (w *Watcher) releaseLock(ctx context.Context, repoID int64) {
	if err := w.candidates.ReleaseNotificationLock(ctx, repoID); err != nil {
		w.logger.Error("failed to release notification lock",
			zap.Int64("repoId", repoID),
			zap.Error(err),
		)
	}
}

func renderNotification(cand trend.Candidate, comic trend.Comic, recipients []string) trend.Notification {
	title := comic.Title
	if title == "" {
		title = comic.RepoName
	}

	var b strings.Builder
	b.WriteString("<h1>" + html.EscapeString(title) + "</h1>")
	b.WriteString(fmt.Sprintf("<p><a href=%q>%s</a> is trending on GitHub.</p>",
		comic.RepoURL, html.EscapeString(comic.RepoName)))
	if comic.KeyInsights != "" {
		b.WriteString("<p>" + html.EscapeString(comic.KeyInsights) + "</p>")
	}
	for _, panel := range comic.Panels {
		b.WriteString(fmt.Sprintf("<img src=%q alt=\"comic panel\"/>", panel))
	}

	return trend.Notification{
		Recipients: recipients,
		Subject:    "New trending repo: " + comic.RepoName,
		HTMLBody:   b.String(),
		RepoName:   cand.FullName,
		ComicID:    comic.ID,
	}
}
