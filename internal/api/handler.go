package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/risk"
	"github.com/rival420/donwatcher/internal/scoring"
)

var validate = validator.New()

// RiskService is the engine surface served over HTTP.
type RiskService interface {
	GetGlobalRisk(ctx context.Context, domain string) (*domain.GlobalRiskScore, error)
	GetRiskBreakdown(ctx context.Context, domain string) (*domain.DomainRiskAssessment, error)
	GetRiskHistory(ctx context.Context, domain string, days int) ([]*domain.GlobalRiskScore, error)
	LatestAssessment(ctx context.Context, domain string) (*domain.DomainRiskAssessment, error)
	Recalculate(ctx context.Context, domain string) (*domain.GlobalRiskScore, error)
	Invalidate(ctx context.Context, domain string) error
	AcceptMember(ctx context.Context, domain, group, member string, accepted bool) error
	ScoringConfig() scoring.Config
	CacheStats() risk.CacheStats
}

// Store is the repository surface the handlers need directly.
type Store interface {
	ListDomains(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     RiskService
	store   Store
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc RiskService, store Store, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		store:   store,
		bus:     bus,
		version: version,
	}
}

// AcceptanceRequest is the request body for the acceptance endpoint.
type AcceptanceRequest struct {
	Accepted *bool `json:"accepted" validate:"required"`
}

// HistoryResponse wraps the score history of a domain.
type HistoryResponse struct {
	Domain string                    `json:"domain"`
	Days   int                       `json:"days"`
	Scores []*domain.GlobalRiskScore `json:"scores"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the repository answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListDomains returns every domain with facts or history.
func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.store.ListDomains(r.Context())
	if err != nil {
		writeError(w, r, errors.Join(domain.ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domains": domains,
		"count":   len(domains),
	})
}

// GetGlobalRisk handles GET /domains/{domain}/risk.
func (h *Handler) GetGlobalRisk(w http.ResponseWriter, r *http.Request) {
	score, err := h.svc.GetGlobalRisk(r.Context(), pathParam(r, "domain"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// GetRiskBreakdown handles GET /domains/{domain}/risk/breakdown.
func (h *Handler) GetRiskBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.svc.GetRiskBreakdown(r.Context(), pathParam(r, "domain"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// GetLatestAssessment handles GET /domains/{domain}/risk/breakdown/latest.
// It serves the last recorded breakdown and never triggers a computation.
func (h *Handler) GetLatestAssessment(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.svc.LatestAssessment(r.Context(), pathParam(r, "domain"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// GetRiskHistory handles GET /domains/{domain}/risk/history?days=N.
func (h *Handler) GetRiskHistory(w http.ResponseWriter, r *http.Request) {
	days := risk.DefaultHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "days must be an integer",
			})
			return
		}
		days = n
	}

	domainName := pathParam(r, "domain")
	scores, err := h.svc.GetRiskHistory(r.Context(), domainName, days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Domain: domainName,
		Days:   days,
		Scores: scores,
	})
}

// Recalculate handles POST /domains/{domain}/risk/recalculate.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	score, err := h.svc.Recalculate(r.Context(), pathParam(r, "domain"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// Invalidate handles DELETE /domains/{domain}/risk/cache.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	domainName := pathParam(r, "domain")
	if err := h.svc.Invalidate(r.Context(), domainName); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "cache invalidated",
		"domain":  domainName,
	})
}

// SetAcceptance handles PUT /domains/{domain}/groups/{group}/members/{member}/acceptance.
func (h *Handler) SetAcceptance(w http.ResponseWriter, r *http.Request) {
	var req AcceptanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "accepted is required",
		})
		return
	}

	domainName := pathParam(r, "domain")
	group := pathParam(r, "group")
	member := pathParam(r, "member")

	if err := h.svc.AcceptMember(r.Context(), domainName, group, member, *req.Accepted); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain":   domainName,
		"group":    group,
		"member":   member,
		"accepted": *req.Accepted,
	})
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheStats())
}

// ScoringConfig handles GET /scoring.
func (h *Handler) ScoringConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ScoringConfig())
}

// pathParam returns a decoded URL parameter. Group and member names may
// carry escaped characters.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// writeError maps service errors onto HTTP status codes. Collaborator
// failures are reported as a degraded service, not a broken one.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrUnavailable):
		slog.Warn("request degraded",
			"path", r.URL.Path,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  err.Error(),
			"status": "degraded",
		})
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
