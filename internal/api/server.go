// Package api exposes the HTTP interface for the pipeline service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/config"
	"github.com/trendfeed/pipeline/internal/crawler"
	"github.com/trendfeed/pipeline/internal/dispatcher"
	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/notify"
	"github.com/trendfeed/pipeline/internal/pipeline"
	"github.com/trendfeed/pipeline/internal/trend"
	"github.com/trendfeed/pipeline/internal/watcher"
)

// RepoStore extends the stage-facing store with the listing used by the
// diagnostics endpoint. Both storage backends provide it.
type RepoStore interface {
	trend.RepoStore
	List(ctx context.Context) ([]trend.Repo, error)
}

// Server wires HTTP handlers to the pipeline stages and stores.
type Server struct {
	router      chi.Router
	pipeline    *pipeline.Pipeline
	crawler     *crawler.Crawler
	dispatcher  *dispatcher.Dispatcher
	watcher     *watcher.Watcher
	source      trend.MetadataSource
	repos       RepoStore
	candidates  trend.CandidateStore
	comics      trend.ComicStore
	subscribers trend.SubscriberStore
	sink        trend.NotificationSink
	clock       trend.Clock
	cfg         config.Config
	logger      *zap.Logger
}

// Deps bundles the server's collaborators.
type Deps struct {
	Pipeline    *pipeline.Pipeline
	Crawler     *crawler.Crawler
	Dispatcher  *dispatcher.Dispatcher
	Watcher     *watcher.Watcher
	Source      trend.MetadataSource
	Repos       RepoStore
	Candidates  trend.CandidateStore
	Comics      trend.ComicStore
	Subscribers trend.SubscriberStore
	Sink        trend.NotificationSink
	Clock       trend.Clock
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		pipeline:    deps.Pipeline,
		crawler:     deps.Crawler,
		dispatcher:  deps.Dispatcher,
		watcher:     deps.Watcher,
		source:      deps.Source,
		repos:       deps.Repos,
		candidates:  deps.Candidates,
		comics:      deps.Comics,
		subscribers: deps.Subscribers,
		sink:        deps.Sink,
		clock:       deps.Clock,
		cfg:         cfg,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}

		r.Post("/crawl", s.runPipeline)
		r.Post("/dispatch", s.runDispatch)
		r.Post("/notifications/run", s.runNotifications)

		r.Route("/repos", func(r chi.Router) {
			r.Get("/", s.listRepos)
			r.Post("/ingest", s.ingestRepo)
			r.Post("/force-candidate", s.forceCandidate)
		})

		r.Get("/candidates", s.listCandidates)
		r.Post("/comics", s.intakeComic)

		r.Route("/newsletter", func(r chi.Router) {
			r.Post("/subscribe", s.subscribe)
			r.Get("/confirm", s.confirm)
			r.Post("/confirm", s.confirm)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The repo store is the hard dependency; a failed read means the
	// database is unreachable.
	if _, _, err := s.repos.Get(r.Context(), 0); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.Run(r.Context(), "manual")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) runDispatch(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.cfg.Dispatch.BatchLimit)
	stats, err := s.dispatcher.Dispatch(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"considered": stats.Considered,
		"dispatched": stats.Dispatched,
		"skipped":    stats.Skipped,
		"failures":   stats.Failures,
	})
}

func (s *Server) runNotifications(w http.ResponseWriter, r *http.Request) {
	stats, err := s.watcher.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"considered": stats.Considered,
		"notified":   stats.Notified,
		"pending":    stats.Pending,
		"skipped":    stats.Skipped,
		"failures":   stats.Failures,
	})
}

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.repos.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": repos})
}

type repoRequest struct {
	FullName string `json:"full_name"`
}

func (s *Server) ingestRepo(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FullName == "" {
		writeError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	promoted, err := s.crawler.IngestOne(r.Context(), req.FullName)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := map[string]any{
		"full_name": req.FullName,
		"promoted":  promoted,
	}
	if meta, err := s.source.FetchRepository(r.Context(), req.FullName); err == nil {
		if repo, found, err := s.repos.Get(r.Context(), meta.ID); err == nil && found {
			resp["trend_stage"] = repo.TrendStage
			resp["trend_score"] = repo.TrendScore
			resp["growth_rate"] = repo.GrowthRate
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// forceCandidate marks a repository confirmed and queues it for
// dispatch regardless of its score. Diagnostic path.
func (s *Server) forceCandidate(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FullName == "" {
		writeError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	if _, err := s.crawler.IngestOne(r.Context(), req.FullName); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	meta, err := s.source.FetchRepository(r.Context(), req.FullName)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	repo, found, err := s.repos.Get(r.Context(), meta.ID)
	if err != nil || !found {
		writeError(w, http.StatusInternalServerError, "repository state unavailable")
		return
	}

	repo.TrendStage = trend.StageConfirmed
	if err := s.repos.Upsert(r.Context(), repo); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.candidates.Upsert(r.Context(), trend.Candidate{
		RepoID:     repo.ID,
		FullName:   repo.FullName,
		PromotedAt: s.clock.Now(),
		Forced:     true,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"full_name": repo.FullName,
		"forced":    true,
	})
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.cfg.Dispatch.BatchLimit)
	cands, err := s.candidates.ListUndispatched(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

type comicRequest struct {
	JobHandle   string   `json:"job_handle"`
	RepoName    string   `json:"repo_name"`
	RepoURL     string   `json:"repo_url"`
	Stars       int      `json:"stars"`
	Language    string   `json:"language"`
	Panels      []string `json:"panels"`
	Title       string   `json:"title"`
	KeyInsights string   `json:"key_insights"`
}

// intakeComic receives a finished generation result posted back by the
// worker.
func (s *Server) intakeComic(w http.ResponseWriter, r *http.Request) {
	var req comicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.JobHandle == "" || req.RepoName == "" || len(req.Panels) == 0 {
		writeError(w, http.StatusBadRequest, "job_handle, repo_name, and panels are required")
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate id")
		return
	}
	comic := trend.Comic{
		ID:          id.String(),
		JobHandle:   req.JobHandle,
		RepoName:    req.RepoName,
		RepoURL:     req.RepoURL,
		Stars:       req.Stars,
		Language:    req.Language,
		Panels:      req.Panels,
		Title:       req.Title,
		KeyInsights: req.KeyInsights,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.comics.Insert(r.Context(), comic); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": comic.ID})
}

type subscribeRequest struct {
	Email string `json:"email"`
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	token, err := notify.NewToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate token")
		return
	}
	sub := trend.Subscriber{
		Email:     email,
		Token:     token,
		Status:    trend.SubscriberPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.subscribers.Upsert(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.sendConfirmation(r.Context(), email, token)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": trend.SubscriberPending})
}

// sendConfirmation mails the double-opt-in link. Best-effort: the
// subscription row exists either way and the token can be re-sent.
func (s *Server) sendConfirmation(ctx context.Context, email, token string) {
	if s.sink == nil || s.cfg.Notify.ConfirmURL == "" {
		return
	}
	link := fmt.Sprintf("%s?token=%s", s.cfg.Notify.ConfirmURL, token)
	msg := trend.Notification{
		Recipients: []string{email},
		Subject:    "Confirm your trendfeed subscription",
		HTMLBody:   fmt.Sprintf(`<p>Click <a href=%q>here</a> to confirm your subscription.</p>`, link),
	}
	if err := s.sink.Send(ctx, msg); err != nil {
		s.logger.Warn("failed to send confirmation email",
			zap.String("email", email),
			zap.Error(err),
		)
	}
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.Token
		}
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	sub, found, err := s.subscribers.FindByToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown token")
		return
	}
	if err := s.subscribers.Confirm(r.Context(), sub.Email, s.clock.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": trend.SubscriberConfirmed})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
