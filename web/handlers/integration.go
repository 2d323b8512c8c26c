package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/analytics"
	"github.com/Vector/vector-leads-crm/integrations"
	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/web/auth"
)

const (
	defaultPageSize = 25
	maxPageSize     = 50
)

// TokenLifecycle is the part of integrations.TokenManager the handlers use.
type TokenLifecycle interface {
	AuthURL(ctx context.Context, userID string) (string, error)
	HandleCallback(ctx context.Context, code, state string) integrations.CallbackResult
	Status(ctx context.Context, userID string) (*models.IntegrationConfig, error)
	Revoke(ctx context.Context, userID string) error
}

// Catalog lists a user's public items.
type Catalog interface {
	ListPublicItems(ctx context.Context, userID string, desiredCount int, pageToken string) (*models.CatalogPage, error)
}

// KPIAggregator computes channel KPIs.
type KPIAggregator interface {
	Aggregate(ctx context.Context, userID, period string) models.AggregatedKPIs
}

// IntegrationHandler serves the YouTube connect flow and the analytics reads.
type IntegrationHandler struct {
	tokens     TokenLifecycle
	catalog    Catalog
	aggregator KPIAggregator
	// redirectURL receives the browser after the callback with a status
	// query parameter. Empty renders JSON instead.
	redirectURL string
	logger      *zap.Logger
}

func NewIntegrationHandler(tokens TokenLifecycle, catalog Catalog, aggregator KPIAggregator, redirectURL string, logger *zap.Logger) *IntegrationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IntegrationHandler{
		tokens:      tokens,
		catalog:     catalog,
		aggregator:  aggregator,
		redirectURL: redirectURL,
		logger:      logger.Named("integration_handler"),
	}
}

// RegisterRoutes mounts the callback, which is identified by its state
// parameter, on r and every other route under /api/v1 behind authenticate.
func (h *IntegrationHandler) RegisterRoutes(r *mux.Router, authenticate mux.MiddlewareFunc) {
	r.HandleFunc("/api/v1/integrations/youtube/callback", h.HandleCallback).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authenticate)

	api.HandleFunc("/integrations/youtube/auth", h.HandleAuth).Methods(http.MethodGet)
	api.HandleFunc("/integrations/youtube/status", h.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/integrations/youtube", h.HandleRevoke).Methods(http.MethodDelete)
	api.HandleFunc("/analytics/youtube/videos", h.HandleVideos).Methods(http.MethodGet)
	api.HandleFunc("/analytics/youtube/summary", h.HandleSummary).Methods(http.MethodGet)
}

type authURLResponse struct {
	URL string `json:"url"`
}

type statusResponse struct {
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scope     string     `json:"scope,omitempty"`
}

type callbackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type summaryResponse struct {
	models.AggregatedKPIs
	Degraded bool `json:"degraded"`
}

func (h *IntegrationHandler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	u, err := h.tokens.AuthURL(r.Context(), userID)
	if err != nil {
		h.logger.Error("issuing authorization url failed", zap.String("user_id", userID), zap.Error(err))
		renderError(w, http.StatusInternalServerError, "Failed to start authorization")

		return
	}

	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, u, http.StatusTemporaryRedirect)
		return
	}

	renderJSON(w, http.StatusOK, authURLResponse{URL: u})
}

func (h *IntegrationHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Warn("authorization denied by user", zap.String("error", providerErr))
		h.finishCallback(w, r, http.StatusBadRequest, "access_denied")

		return
	}

	res := h.tokens.HandleCallback(r.Context(), q.Get("code"), q.Get("state"))
	if res.Success {
		h.finishCallback(w, r, http.StatusOK, "")
		return
	}

	switch {
	case errors.Is(res.Err, models.ErrInvalidState):
		h.finishCallback(w, r, http.StatusBadRequest, "invalid_state")
	case errors.Is(res.Err, models.ErrTokenExchange):
		h.finishCallback(w, r, http.StatusBadGateway, "exchange_failed")
	default:
		h.logger.Error("authorization callback failed", zap.String("user_id", res.UserID), zap.Error(res.Err))
		h.finishCallback(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (h *IntegrationHandler) finishCallback(w http.ResponseWriter, r *http.Request, code int, reason string) {
	if h.redirectURL == "" {
		renderJSON(w, code, callbackResponse{Success: reason == "", Error: reason})
		return
	}

	target, err := url.Parse(h.redirectURL)
	if err != nil {
		renderError(w, http.StatusInternalServerError, "Invalid redirect configuration")
		return
	}

	q := target.Query()
	if reason == "" {
		q.Set("youtube", "connected")
	} else {
		q.Set("youtube", "error")
		q.Set("reason", reason)
	}

	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

func (h *IntegrationHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	cfg, err := h.tokens.Status(r.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderJSON(w, http.StatusOK, statusResponse{})
			return
		}

		h.logger.Error("reading integration status failed", zap.String("user_id", userID), zap.Error(err))
		renderError(w, http.StatusInternalServerError, "Failed to read integration status")

		return
	}

	expiry := cfg.Expiry
	renderJSON(w, http.StatusOK, statusResponse{Connected: true, ExpiresAt: &expiry, Scope: cfg.Scope})
}

func (h *IntegrationHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.tokens.Revoke(r.Context(), userID); err != nil {
		h.logger.Error("revoking integration failed", zap.String("user_id", userID), zap.Error(err))
		renderError(w, http.StatusInternalServerError, "Failed to disconnect integration")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *IntegrationHandler) HandleVideos(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	limit := defaultPageSize

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			renderError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}

		limit = n
	}

	page, err := h.catalog.ListPublicItems(r.Context(), userID, limit, q.Get("page_token"))
	if err != nil {
		h.renderProviderError(w, userID, err)
		return
	}

	if page.Items == nil {
		page.Items = []models.CatalogItem{}
	}

	renderJSON(w, http.StatusOK, page)
}

func (h *IntegrationHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	period := r.URL.Query().Get("period")
	if period != "" && !analytics.IsKnownPeriod(period) {
		renderError(w, http.StatusBadRequest, "unknown period")
		return
	}

	kpis := h.aggregator.Aggregate(r.Context(), userID, period)

	renderJSON(w, http.StatusOK, summaryResponse{AggregatedKPIs: kpis, Degraded: kpis.Degraded()})
}

func (h *IntegrationHandler) renderProviderError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, models.ErrReauthorizationRequired):
		renderError(w, http.StatusUnauthorized, "YouTube authorization required")
	case errors.Is(err, models.ErrRefreshInProgress):
		w.Header().Set("Retry-After", "2")
		renderError(w, http.StatusServiceUnavailable, "Token refresh in progress, retry shortly")
	case errors.Is(err, models.ErrFetch):
		h.logger.Warn("provider fetch failed", zap.String("user_id", userID), zap.Error(err))
		renderError(w, http.StatusBadGateway, "Failed to fetch data from YouTube")
	default:
		h.logger.Error("listing catalog failed", zap.String("user_id", userID), zap.Error(err))
		renderError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (h *IntegrationHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return "", false
	}

	return userID, true
}
