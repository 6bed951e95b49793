package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/finovahq/javob/internal/auth"
	"github.com/finovahq/javob/internal/correlate"
	"github.com/finovahq/javob/internal/ingest"
	"github.com/finovahq/javob/internal/kpi"
	"github.com/finovahq/javob/internal/model"
	"github.com/finovahq/javob/internal/storage"
)

// Store is the persistence surface the handlers use directly. Satisfied by
// *storage.DB; tests substitute a fake.
type Store interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	UpsertUser(ctx context.Context, u model.User) (model.User, error)
	ListActiveUsers(ctx context.Context) ([]model.User, error)
	GetKpiScore(ctx context.Context, userID uuid.UUID, periodStart, periodEnd time.Time) (model.KpiScore, error)
	ListKpiScoresForPeriod(ctx context.Context, periodStart, periodEnd time.Time, role *model.Role) ([]model.KpiScore, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store               Store
	jwtMgr              *auth.JWTManager
	ingestSvc           *ingest.Service
	engine              *correlate.Engine
	aggregator          *kpi.Aggregator
	adminAPIKey         string
	logger              *slog.Logger
	version             string
	startedAt           time.Time
	maxRequestBodyBytes int64
}

// HandlersDeps holds everything needed to construct Handlers.
type HandlersDeps struct {
	Store               Store
	JWTMgr              *auth.JWTManager
	IngestSvc           *ingest.Service
	Engine              *correlate.Engine
	Aggregator          *kpi.Aggregator
	AdminAPIKey         string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBytes := deps.MaxRequestBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Handlers{
		store:               deps.Store,
		jwtMgr:              deps.JWTMgr,
		ingestSvc:           deps.IngestSvc,
		engine:              deps.Engine,
		aggregator:          deps.Aggregator,
		adminAPIKey:         deps.AdminAPIKey,
		logger:              deps.Logger,
		version:             deps.Version,
		startedAt:           time.Now(),
		maxRequestBodyBytes: maxBytes,
	}
}

type authTokenRequest struct {
	APIKey string `json:"api_key"`
}

type authTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleAuthToken exchanges the configured admin API key for an admin JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req authTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if h.adminAPIKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.adminAPIKey)) != 1 {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, exp, err := h.jwtMgr.IssueToken("admin", model.RoleAdmin)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, authTokenResponse{Token: token, ExpiresAt: exp})
}

// HandleIngestMessage accepts one message event, stores it, and runs answer
// correlation for outgoing staff messages.
func (h *Handlers) HandleIngestMessage(w http.ResponseWriter, r *http.Request) {
	var req model.MessageEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	msg, err := h.ingestSvc.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	h.engine.Observe(r.Context(), msg)

	writeJSON(w, r, http.StatusCreated, msg)
}

// HandleGetUserKpi returns the stored KPI rollup for one user and period.
func (h *Handlers) HandleGetUserKpi(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid user id")
		return
	}
	start, end, err := periodFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	score, err := h.store.GetKpiScore(r.Context(), userID, start, end)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no kpi score for user and period")
			return
		}
		h.logger.Error("kpi lookup failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "kpi lookup failed")
		return
	}

	writeJSON(w, r, http.StatusOK, score)
}

// HandleListKpi returns all stored rollups for a period, best score first.
func (h *Handlers) HandleListKpi(w http.ResponseWriter, r *http.Request) {
	start, end, err := periodFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var role *model.Role
	if v := r.URL.Query().Get("role"); v != "" {
		candidate := model.Role(v)
		if !model.ValidRoles[candidate] {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown role")
			return
		}
		role = &candidate
	}

	scores, err := h.store.ListKpiScoresForPeriod(r.Context(), start, end, role)
	if err != nil {
		h.logger.Error("kpi listing failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "kpi listing failed")
		return
	}

	writeJSON(w, r, http.StatusOK, scores)
}

// HandleRecomputeKpi recomputes every active user's rollup for the period.
func (h *Handlers) HandleRecomputeKpi(w http.ResponseWriter, r *http.Request) {
	var req model.RecomputeKpiRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() || !req.PeriodStart.Before(req.PeriodEnd) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "period_start must precede period_end")
		return
	}

	scores, err := h.aggregator.ComputePeriod(r.Context(), req.PeriodStart.UTC(), req.PeriodEnd.UTC())
	if err != nil {
		h.logger.Error("kpi recomputation failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "kpi recomputation failed")
		return
	}

	writeJSON(w, r, http.StatusOK, scores)
}

// HandleCreateUser registers or updates a staff user.
func (h *Handlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ExternalID == "" || req.DisplayName == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "external_id and display_name are required")
		return
	}
	if !model.ValidRoles[req.Role] {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown role")
		return
	}
	if req.BaseSalary < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "base_salary must not be negative")
		return
	}

	user, err := h.store.UpsertUser(r.Context(), model.User{
		ExternalID:  req.ExternalID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		BaseSalary:  req.BaseSalary,
		Active:      true,
	})
	if err != nil {
		h.logger.Error("user upsert failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "user upsert failed")
		return
	}

	writeJSON(w, r, http.StatusCreated, user)
}

// HandleListUsers returns all active staff users.
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListActiveUsers(r.Context())
	if err != nil {
		h.logger.Error("user listing failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "user listing failed")
		return
	}
	writeJSON(w, r, http.StatusOK, users)
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// HandleHealth reports service and database health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Version:  h.version,
		Postgres: "connected",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Postgres = "disconnected"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, r, status, resp)
}

func periodFromQuery(r *http.Request) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("period_start"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("period_start must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("period_end"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("period_end must be RFC3339")
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("period_start must precede period_end")
	}
	return start.UTC(), end.UTC(), nil
}
