package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/graphstore"
	"github.com/aeluslabs/tenantgate/internal/queue"
	"github.com/aeluslabs/tenantgate/internal/quota"
	"github.com/aeluslabs/tenantgate/internal/repository"
	"github.com/aeluslabs/tenantgate/internal/security"
	"github.com/aeluslabs/tenantgate/internal/telemetry"
	"github.com/aeluslabs/tenantgate/internal/tenantctx"
	"github.com/aeluslabs/tenantgate/internal/token"
)

type HandlerConfig struct {
	Ledger   quota.Ledger
	Graph    graphstore.GraphStore
	Ingest   queue.Queue
	Checkers []HealthChecker

	// Directory and Codec back the api-key-for-token exchange. When either
	// is nil the exchange endpoint reports itself unavailable.
	Directory repository.TenantDirectory
	Codec     *token.Codec

	// DefaultQuotas fills in limits for tenants whose record has none.
	DefaultQuotas map[string]int64
}

type Handler struct {
	ledger        quota.Ledger
	graph         graphstore.GraphStore
	ingest        queue.Queue
	directory     repository.TenantDirectory
	codec         *token.Codec
	defaultQuotas map[string]int64
	mux           *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	defaults := cfg.DefaultQuotas
	if defaults == nil {
		defaults = domain.DefaultQuotas()
	}

	h := &Handler{
		ledger:        cfg.Ledger,
		graph:         cfg.Graph,
		ingest:        cfg.Ingest,
		directory:     cfg.Directory,
		codec:         cfg.Codec,
		defaultQuotas: defaults,
		mux:           http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /{$}", h.handleRoot)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /healthz", h.handleHealthLive)
	h.mux.HandleFunc("GET /readyz", handleHealthReadyWithCheckers(cfg.Checkers, 5*time.Second))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.mux.HandleFunc("POST /v1/auth/token", h.handleTokenExchange)
	h.mux.HandleFunc("GET /v1/usage", h.handleUsage)
	h.mux.HandleFunc("POST /v1/graph/query", h.handleGraphQuery)
	h.mux.HandleFunc("POST /v1/ingest", h.handleIngest)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "tenantgate",
		"status":  "ok",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type tokenExchangeRequest struct {
	APIKey string `json:"api_key"`
}

// handleTokenExchange trades a tenant API key for a short-lived bearer
// token. This is the only authenticated entry point that accepts the raw
// key; every other route requires the token it returns.
func (h *Handler) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil || h.codec == nil {
		writeError(w, http.StatusServiceUnavailable, "token issuance is not configured")
		return
	}

	var req tokenExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	tenant, err := h.directory.GetByAPIKey(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	// The lookup is by key hash, so a hit already implies a match. The
	// constant-time comparison guards directory implementations that
	// resolve keys some other way.
	if !security.VerifyAPIKey(req.APIKey, tenant.APIKeyHash) {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	if !tenant.Usable() {
		slog.Warn("token exchange refused for unusable tenant", "tenant_id", tenant.ID)
		writeError(w, http.StatusForbidden, "tenant is not active")
		return
	}

	accessToken, err := h.codec.Issue(tenant.ID, nil, nil)
	if err != nil {
		slog.Error("token issue failed", "tenant_id", tenant.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_in":   int64(h.codec.TTL().Seconds()),
		"tenant_id":    tenant.ID,
	})
}

// handleUsage reports the calling tenant's counters next to its
// effective limits.
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	rc := tenantctx.From(r.Context())
	if rc == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "usage.read")
	defer span.End()
	telemetry.AddRequestAttributes(span, rc.TenantID.String(), r.URL.Path, rc.RequestID)

	usage, err := h.ledger.GetUsage(ctx, rc.TenantID.String())
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		slog.Error("usage read failed",
			"tenant_id", rc.TenantID,
			"error", err,
			"request_id", rc.RequestID,
		)
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	limits := h.defaultQuotas
	if rc.Tenant != nil && len(rc.Tenant.Quotas) > 0 {
		limits = rc.Tenant.Quotas
	}
	telemetry.AddQuotaAttributes(span, domain.QuotaVectors, usage.VectorCount, limits[domain.QuotaVectors])

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant_id": rc.TenantID,
		"usage": map[string]int64{
			domain.ResourceAPICalls:     usage.APICalls,
			domain.ResourceVectorCount:  usage.VectorCount,
			domain.ResourceStorageBytes: usage.StorageBytes,
		},
		"limits": limits,
	})
}

type graphQueryRequest struct {
	Query  string                 `json:"query"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// handleGraphQuery runs a read query against the tenant's slice of the
// code graph. The store validates tenant scoping before execution; a
// scope violation is a bug in the caller and is logged as such.
func (h *Handler) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	rc := tenantctx.From(r.Context())
	if rc == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "graph.query")
	defer span.End()
	telemetry.AddRequestAttributes(span, rc.TenantID.String(), r.URL.Path, rc.RequestID)

	var req graphQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	rows, err := h.graph.QueryGraph(ctx, rc.TenantID.String(), req.Query, req.Params)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		slog.Error("graph query failed",
			"tenant_id", rc.TenantID,
			"error", err,
			"request_id", rc.RequestID,
		)
		writeError(w, http.StatusBadRequest, "query could not be executed")
		return
	}

	if rows == nil {
		rows = []map[string]interface{}{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	})
}

type ingestRequest struct {
	RepoID  string `json:"repo_id"`
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch,omitempty"`
	Full    bool   `json:"full,omitempty"`
}

// handleIngest enqueues a repository indexing job. The heavy lifting
// happens in the pipeline workers; the gate only validates and accepts.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	rc := tenantctx.From(r.Context())
	if rc == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "ingest.enqueue")
	defer span.End()
	telemetry.AddRequestAttributes(span, rc.TenantID.String(), r.URL.Path, rc.RequestID)

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoID == "" || req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_id and repo_url are required")
		return
	}

	job := queue.IngestJob{
		ID:        uuid.New().String(),
		TenantID:  rc.TenantID.String(),
		RepoID:    req.RepoID,
		RepoURL:   req.RepoURL,
		Branch:    req.Branch,
		Full:      req.Full,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.ingest.Enqueue(ctx, job); err != nil {
		telemetry.AddErrorAttribute(span, err)
		slog.Error("ingest enqueue failed",
			"tenant_id", rc.TenantID,
			"repo_id", req.RepoID,
			"error", err,
			"request_id", rc.RequestID,
		)
		writeError(w, http.StatusServiceUnavailable, "ingestion queue unavailable")
		return
	}

	slog.Info("ingest job enqueued",
		"tenant_id", rc.TenantID,
		"job_id", job.ID,
		"repo_id", req.RepoID,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"job_id": job.ID,
		"status": "queued",
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": message})
}
