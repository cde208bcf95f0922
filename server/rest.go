package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/feedcourier/feedcourier/pkg/domain"
	"github.com/feedcourier/feedcourier/pkg/feed"
	"github.com/feedcourier/feedcourier/pkg/repository"
)

// sourceResponse is the JSON representation of a tracked source
type sourceResponse struct {
	ID                int64      `json:"id"`
	URL               string     `json:"url"`
	Name              string     `json:"name"`
	WebhookURL        string     `json:"webhook_url"`
	PollInterval      int        `json:"poll_interval"`
	NextPollAt        *time.Time `json:"next_poll_at,omitempty"`
	LastPollAt        *time.Time `json:"last_poll_at,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastError         string     `json:"last_error,omitempty"`
	WarmupRemaining   int        `json:"warmup_remaining"`
	CreatedAt         time.Time  `json:"created_at"`
}

// createSourceRequest is the JSON body for adding a source
type createSourceRequest struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"status":  "ok",
		"version": s.cfg.Version,
		"time":    time.Now().UTC(),
		"sources": len(sources),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// listSourcesHandler returns all tracked sources with their scheduling state
func (s *Server) listSourcesHandler(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to list sources: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := lo.Map(sources, func(src *domain.Source, _ int) sourceResponse { return toSourceResponse(src) })
	renderJSON(w, r, http.StatusOK, resp)
}

// createSourceHandler adds a new source. The URL is run through feed
// discovery, so a plain site URL works as well as a direct feed URL.
func (s *Server) createSourceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		renderError(w, r, fmt.Errorf("url is required"), http.StatusBadRequest)
		return
	}
	if req.WebhookURL == "" {
		renderError(w, r, fmt.Errorf("webhook_url is required"), http.StatusBadRequest)
		return
	}

	feedURL, err := s.resolver.Discover(ctx, req.URL)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	name := req.Name
	if name == "" {
		name = s.feedTitle(ctx, feedURL)
	}
	if name == "" {
		name = feedURL
	}

	src := &domain.Source{
		URL:             feedURL,
		Name:            name,
		WebhookURL:      req.WebhookURL,
		PollInterval:    s.cfg.DefaultInterval,
		WarmupRemaining: s.cfg.WarmupCycles,
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		log.Printf("[ERROR] failed to create source: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	// poll right away with background context so the HTTP request
	// completing doesn't cancel the first fetch
	go func() {
		if err := s.scheduler.PollNow(context.Background(), src.ID); err != nil {
			log.Printf("[ERROR] failed to poll new source %d: %v", src.ID, err)
		}
	}()

	renderJSON(w, r, http.StatusCreated, toSourceResponse(src))
}

// getSourceHandler returns one source's status
func (s *Server) getSourceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid source ID"), http.StatusBadRequest)
		return
	}

	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			renderError(w, r, err, http.StatusNotFound)
			return
		}
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, toSourceResponse(src))
}

// deleteSourceHandler removes a source and its forwarded-item records
func (s *Server) deleteSourceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid source ID"), http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteSource(r.Context(), id); err != nil {
		log.Printf("[ERROR] failed to delete source: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pollSourceHandler triggers an immediate poll of one source
func (s *Server) pollSourceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid source ID"), http.StatusBadRequest)
		return
	}

	if err := s.scheduler.PollNow(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			renderError(w, r, err, http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to poll source %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// feedTitle fetches the feed once to pull its declared title, empty on any
// failure - naming is best-effort
func (s *Server) feedTitle(ctx context.Context, feedURL string) string {
	res := s.fetcher.Fetch(ctx, feed.Request{URL: feedURL})
	if res.Kind != feed.OutcomeSuccess || res.Info == nil {
		return ""
	}
	return res.Info.Title
}

func toSourceResponse(src *domain.Source) sourceResponse {
	return sourceResponse{
		ID:                src.ID,
		URL:               src.URL,
		Name:              src.Name,
		WebhookURL:        src.WebhookURL,
		PollInterval:      src.PollInterval,
		NextPollAt:        src.NextPollAt,
		LastPollAt:        src.LastPollAt,
		ConsecutiveErrors: src.ConsecutiveErrors,
		LastError:         src.LastError,
		WarmupRemaining:   src.WarmupRemaining,
		CreatedAt:         src.CreatedAt,
	}
}
