package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"costwatch/internal/compare"
	"costwatch/internal/config"
	"costwatch/internal/database"
	"costwatch/internal/domain"
	"costwatch/internal/export"
	"costwatch/internal/metrics"
	"costwatch/internal/models"
	"costwatch/internal/pipeline"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SyncEnqueuer accepts new historical sync requests.
type SyncEnqueuer interface {
	Enqueue(ctx context.Context, tenantID string, start, end time.Time) (*models.SyncJob, error)
}

// Comparer computes period-over-period variance reports.
type Comparer interface {
	Compare(ctx context.Context, req models.ComparisonRequest) (*models.ComparisonResult, error)
}

// HTTPServer exposes the sync and comparison API.
type HTTPServer struct {
	cfg      config.APIConfig
	db       *database.DB
	worker   SyncEnqueuer
	engine   Comparer
	progress domain.ProgressCache
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, db *database.DB, worker SyncEnqueuer, engine Comparer, progress domain.ProgressCache, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:      cfg,
		db:       db,
		worker:   worker,
		engine:   engine,
		progress: progress,
		logger:   logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/sync/", srv.handleSyncStatus)
	mux.HandleFunc("/api/v1/compare", srv.handleCompare)
	mux.HandleFunc("/api/v1/compare/export", srv.handleCompareExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the configured handler chain for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

type syncRequest struct {
	TenantID  string `json:"tenant_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body syncRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.TenantID) == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	start, err := parseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date; expected YYYY-MM-DD")
		return
	}
	end, err := parseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date; expected YYYY-MM-DD")
		return
	}

	job, err := s.worker.Enqueue(r.Context(), body.TenantID, start, end)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSyncAlreadyRunning):
			writeError(w, http.StatusConflict, "a sync job is already running for this tenant")
		case errors.Is(err, pipeline.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, database.ErrCredentialsNotFound):
			writeError(w, http.StatusBadRequest, "no billing credentials configured for tenant")
		default:
			s.logger.Error().Err(err).Msg("enqueue sync job")
			writeError(w, http.StatusInternalServerError, "failed to enqueue sync job")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/sync/"
	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, prefix))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	// Сначала быстрый снимок из кэша, затем основное хранилище
	if s.progress != nil {
		if job, err := s.progress.GetJob(r.Context(), jobID); err == nil && job != nil {
			writeJSON(w, http.StatusOK, job)
			return
		}
	}

	job, err := s.db.GetSyncJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sync job not found")
			return
		}
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("load sync job")
		writeError(w, http.StatusInternalServerError, "failed to load sync job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

type compareRequest struct {
	Period1Start          string   `json:"period1_start"`
	Period1End            string   `json:"period1_end"`
	Period2Start          string   `json:"period2_start"`
	Period2End            string   `json:"period2_end"`
	TenantID              string   `json:"tenant_id"`
	ExcludeResourceGroups []string `json:"exclude_resource_groups"`
	Categories            []string `json:"categories"`
}

func (s *HTTPServer) decodeCompareRequest(r *http.Request) (models.ComparisonRequest, error) {
	var body compareRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		return models.ComparisonRequest{}, fmt.Errorf("invalid JSON body")
	}

	req := models.ComparisonRequest{
		TenantID:              strings.TrimSpace(body.TenantID),
		ExcludeResourceGroups: body.ExcludeResourceGroups,
		Categories:            body.Categories,
	}

	var err error
	if req.Period1Start, err = parseDate(body.Period1Start); err != nil {
		return req, fmt.Errorf("invalid period1_start; expected YYYY-MM-DD")
	}
	if req.Period1End, err = parseDate(body.Period1End); err != nil {
		return req, fmt.Errorf("invalid period1_end; expected YYYY-MM-DD")
	}
	if req.Period2Start, err = parseDate(body.Period2Start); err != nil {
		return req, fmt.Errorf("invalid period2_start; expected YYYY-MM-DD")
	}
	if req.Period2End, err = parseDate(body.Period2End); err != nil {
		return req, fmt.Errorf("invalid period2_end; expected YYYY-MM-DD")
	}
	return req, nil
}

func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := s.decodeCompareRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Compare(r.Context(), req)
	if err != nil {
		if errors.Is(err, compare.ErrInvalidPeriod) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("compute comparison")
		writeError(w, http.StatusInternalServerError, "failed to compute comparison")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCompareExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := s.decodeCompareRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Compare(r.Context(), req)
	if err != nil {
		if errors.Is(err, compare.ErrInvalidPeriod) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("compute comparison for export")
		writeError(w, http.StatusInternalServerError, "failed to compute comparison")
		return
	}

	file, err := export.BuildComparisonWorkbook(req, result)
	if err != nil {
		s.logger.Error().Err(err).Msg("build comparison workbook")
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer file.Close()

	filename := fmt.Sprintf("cost-comparison-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if err := file.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("write comparison workbook")
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(models.DateLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		metrics.IncHTTP(r.Method, r.URL.Path, strconv.Itoa(recorder.status))
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg      config.APIConfig
	clients  map[string]config.APIClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		// Health endpoint stays open for probes.
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if err == errPermissionDenied {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errPermissionDenied = fmt.Errorf("permission denied")

func (a *HTTPAuth) headerAPIKey() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		h = "x-api-key"
	}
	return h
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerAPIKey()))
	if apiKey == "" {
		return fmt.Errorf("missing api key header")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return fmt.Errorf("invalid api key")
	}

	return a.checkPermissions(client, r)
}

func (a *HTTPAuth) checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermissionHTTP(r)
	if required == "" {
		return nil
	}
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/api/v1/sync" && r.Method == http.MethodPost:
		return "write:sync"
	case strings.HasPrefix(path, "/api/v1/sync"):
		return "read:sync"
	case strings.HasPrefix(path, "/api/v1/compare"):
		return "read:compare"
	}
	return ""
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	key := a.clientKey(r)
	lim := a.getLimiter(key)
	if !lim.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerAPIKey())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}
