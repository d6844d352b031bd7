// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"motor-quality-service/internal/ingest"
	"motor-quality-service/internal/models"
	"motor-quality-service/internal/pipeline"
	"motor-quality-service/internal/quality"
	"motor-quality-service/internal/service"
	"motor-quality-service/internal/storage"
	"motor-quality-service/internal/taxonomy"
	"motor-quality-service/internal/temporal"
	"motor-quality-service/internal/worker"
)

// StatsStore источник счетчиков и последних итогов
type StatsStore interface {
	Stats(ctx context.Context) (models.StatsResponse, error)
	RecentSummaries(ctx context.Context, count int64) ([]models.DeploymentSummary, error)
	Ping(ctx context.Context) error
}

// Pinger проверяемая зависимость
type Pinger interface {
	Ping(ctx context.Context) error
}

// CodeStore сохраненные коды качества
type CodeStore interface {
	Pinger
	CountByCode(ctx context.Context, deploymentID int64) ([]storage.CodeCount, error)
}

// Deps зависимости обработчиков; Cache, DB и Pool необязательны
type Deps struct {
	Service      *service.DeploymentService
	Taxonomy     *taxonomy.Taxonomy
	Pool         *worker.Pool
	Cache        StatsStore
	DB           CodeStore
	BatchWorkers int
	Logger       *zap.Logger
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	svc          *service.DeploymentService
	tax          *taxonomy.Taxonomy
	pool         *worker.Pool
	cache        StatsStore
	db           CodeStore
	batchWorkers int
	logger       *zap.Logger
	startTime    time.Time
}

// NewHandler создает новый обработчик
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.BatchWorkers < 1 {
		d.BatchWorkers = 1
	}
	return &Handler{
		svc:          d.Service,
		tax:          d.Taxonomy,
		pool:         d.Pool,
		cache:        d.Cache,
		db:           d.DB,
		batchWorkers: d.BatchWorkers,
		logger:       d.Logger.Named("http"),
		startTime:    time.Now(),
	}
}

// Register настраивает маршруты API
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/deployments/process", h.BatchProcessHandler).Methods(http.MethodPost)
	router.HandleFunc("/deployments/recent", h.RecentHandler).Methods(http.MethodGet)
	router.HandleFunc("/deployments/{id:[0-9]+}/process", h.ProcessHandler).Methods(http.MethodPost)
	router.HandleFunc("/deployments/{id:[0-9]+}/summary", h.SummaryHandler).Methods(http.MethodGet)
	router.HandleFunc("/deployments/{id:[0-9]+}/codes", h.StoredCodesHandler).Methods(http.MethodGet)
	router.HandleFunc("/quality/analyze", h.AnalyzeHandler).Methods(http.MethodPost)
	router.HandleFunc("/quality/codes", h.CodesHandler).Methods(http.MethodGet)
	router.HandleFunc("/taxonomy", h.TaxonomyHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.StatsHandler).Methods(http.MethodGet)
}

func deploymentID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// ProcessHandler обрабатывает POST /deployments/{id}/process.
// С параметром async=true задание ставится в очередь пула, ответ 202.
func (h *Handler) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deploymentID(r)
	if err != nil {
		h.respondError(w, "Invalid deployment id", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, id)
		return
	}

	resp, err := h.svc.Run(r.Context(), id)
	if err != nil {
		h.respondError(w, err.Error(), statusFor(err))
		return
	}
	h.respondJSON(w, resp, http.StatusOK)
}

func (h *Handler) enqueue(w http.ResponseWriter, id int64) {
	if h.pool == nil {
		h.respondError(w, "Async processing not available", http.StatusServiceUnavailable)
		return
	}
	err := h.pool.Submit(func(ctx context.Context) error {
		_, err := h.svc.Run(ctx, id)
		return err
	})
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		h.respondError(w, "Processing queue is full", http.StatusServiceUnavailable)
	case err != nil:
		h.respondError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.respondJSON(w, map[string]interface{}{
			"despliegue_id": id,
			"status":        "accepted",
		}, http.StatusAccepted)
	}
}

// BatchProcessHandler обрабатывает POST /deployments/process - пакетная обработка
func (h *Handler) BatchProcessHandler(w http.ResponseWriter, r *http.Request) {
	var req models.BatchProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.DeploymentIDs) == 0 {
		h.respondError(w, "deployment_ids is empty", http.StatusBadRequest)
		return
	}

	outcomes := h.svc.RunMany(r.Context(), req.DeploymentIDs, h.batchWorkers)

	resp := service.BatchProcessResponse{Results: make([]service.BatchItem, 0, len(outcomes))}
	for _, o := range outcomes {
		item := service.BatchItem{DeploymentID: o.DeploymentID, Result: o.Response}
		if o.Err != nil {
			item.Error = o.Err.Error()
			resp.Failed++
		} else {
			resp.Processed++
		}
		resp.Results = append(resp.Results, item)
	}
	h.respondJSON(w, resp, http.StatusOK)
}

// SummaryHandler обрабатывает GET /deployments/{id}/summary - последний итог из кэша
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deploymentID(r)
	if err != nil {
		h.respondError(w, "Invalid deployment id", http.StatusBadRequest)
		return
	}

	summary, err := h.svc.Summary(r.Context(), id)
	if errors.Is(err, service.ErrSummaryNotFound) {
		h.respondError(w, "Summary not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.respondError(w, "Failed to get summary: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, summary, http.StatusOK)
}

// StoredCodesHandler возвращает распределение кодов, сохраненных в PostgreSQL
func (h *Handler) StoredCodesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deploymentID(r)
	if err != nil {
		h.respondError(w, "Invalid deployment id", http.StatusBadRequest)
		return
	}
	if h.db == nil {
		h.respondError(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	counts, err := h.db.CountByCode(r.Context(), id)
	if err != nil {
		h.respondError(w, "Failed to count codes: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, counts, http.StatusOK)
}

// RecentHandler возвращает последние итоги из кэша
func (h *Handler) RecentHandler(w http.ResponseWriter, r *http.Request) {
	count := int64(20)
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if c, err := strconv.ParseInt(countStr, 10, 64); err == nil && c > 0 && c <= 100 {
			count = c
		}
	}

	if h.cache == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}

	summaries, err := h.cache.RecentSummaries(r.Context(), count)
	if err != nil {
		h.respondError(w, "Failed to get summaries: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, summaries, http.StatusOK)
}

// AnalyzeHandler обрабатывает POST /quality/analyze - оценка переданных измерений без сохранения
func (h *Handler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	d := models.Deployment{ID: req.DeploymentID}
	resp, err := h.svc.Process(r.Context(), d, req.Measurements, false)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, temporal.ErrMissingField) || errors.Is(err, pipeline.ErrGridTooLarge) {
			status = http.StatusBadRequest
		}
		h.respondError(w, err.Error(), status)
		return
	}
	h.respondJSON(w, resp, http.StatusOK)
}

// CodesHandler возвращает таблицу кодов качества
func (h *Handler) CodesHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, quality.Codes(), http.StatusOK)
}

// TaxonomyHandler возвращает переменные по группам
func (h *Handler) TaxonomyHandler(w http.ResponseWriter, r *http.Request) {
	out := make(map[taxonomy.Group][]string, len(taxonomy.Groups))
	for _, g := range taxonomy.Groups {
		if vars := h.tax.Variables(g); len(vars) > 0 {
			out[g] = vars
		}
	}
	h.respondJSON(w, out, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Redis:     probe(ctx, h.cache),
		Postgres:  probe(ctx, h.db),
		Uptime:    time.Since(h.startTime).String(),
	}
	if status.Postgres == "error" {
		status.Status = "degraded"
	}

	h.respondJSON(w, status, http.StatusOK)
}

func probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "error"
	}
	return "connected"
}

// StatsHandler обрабатывает GET /stats - статистика сервиса
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.respondJSON(w, models.StatsResponse{}, http.StatusOK)
		return
	}
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.respondError(w, "Failed to get stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, stats, http.StatusOK)
}

// statusFor сопоставляет ошибки обработки с HTTP статусами
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrOpenDeployment):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoMeasurements),
		errors.Is(err, pipeline.ErrGridTooLarge),
		errors.Is(err, temporal.ErrMissingField):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
