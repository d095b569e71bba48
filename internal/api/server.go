package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/metrics"
)

// CrawlManager is the scheduling surface the API exposes.
type CrawlManager interface {
	ParseTime(value string) (*time.Time, error)
	AddCrawl(ctx context.Context, req crawler.CrawlRequest) ([]string, error)
	StopCrawl(ctx context.Context, id string) (crawler.StopOutcome, error)
	RemoveCrawl(ctx context.Context, id string) error
	GetCrawl(id string) (crawler.JobSnapshot, error)
	ListCrawls() []crawler.JobSnapshot
	ListCampaignCrawls(campaignID string) ([]crawler.JobSnapshot, error)
	GetCampaign(campaignID string) (crawler.CampaignSnapshot, error)
	GetCampaignIDs() []string
	GetLoad() map[string]int
}

// Config controls middleware behavior.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the crawl manager.
type Server struct {
	router  chi.Router
	manager CrawlManager
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. m may be nil.
func NewServer(manager CrawlManager, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	s := &Server{
		manager: manager,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(m.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", m.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.addCrawl)
			r.Get("/", s.listCrawls)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Delete("/", s.removeCrawl)
				r.Post("/stop", s.stopCrawl)
			})
		})
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.listCampaigns)
			r.Get("/{id}", s.getCampaign)
		})
		r.Get("/load", s.getLoad)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "load": s.manager.GetLoad()})
}

type crawlRequest struct {
	Platform    string   `json:"platform"`
	Strategy    string   `json:"strategy"`
	Parameters  []string `json:"parameters"`
	CampaignID  string   `json:"campaign_id"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	PeriodHours float64  `json:"period_hours"`
	ID          string   `json:"id"`
}

func (s *Server) addCrawl(w http.ResponseWriter, r *http.Request) {
	var body crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	start, err := s.manager.ParseTime(body.Start)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	end, err := s.manager.ParseTime(body.End)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	ids, err := s.manager.AddCrawl(r.Context(), crawler.CrawlRequest{
		Platform:    body.Platform,
		Strategy:    body.Strategy,
		Parameters:  body.Parameters,
		CampaignID:  body.CampaignID,
		Start:       start,
		End:         end,
		PeriodHours: body.PeriodHours,
		ID:          body.ID,
	})
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

func (s *Server) listCrawls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"crawls": s.manager.ListCrawls()})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.GetCrawl(chi.URLParam(r, "id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, err := s.manager.StopCrawl(r.Context(), id)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	status := http.StatusOK
	if outcome == crawler.StopOutcomeAlreadyStopped {
		status = http.StatusNotAcceptable
	}
	writeJSON(w, status, map[string]string{"id": id, "outcome": outcome.String()})
}

func (s *Server) removeCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.RemoveCrawl(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "removed"})
}

func (s *Server) listCampaigns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": s.manager.GetCampaignIDs()})
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.manager.GetCampaign(chi.URLParam(r, "id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	crawls, err := s.manager.ListCampaignCrawls(campaign.ID)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaign": campaign, "crawls": crawls})
}

func (s *Server) getLoad(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetLoad())
}

// statusFor maps scheduling errors to response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrInvalidRequest), errors.Is(err, crawler.ErrNotRemovable):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrStopTimeout):
		return http.StatusMethodNotAllowed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
