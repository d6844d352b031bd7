package models

import "time"

// AnalyzeRequest тело запроса POST /quality/analyze
type AnalyzeRequest struct {
	DeploymentID int64         `json:"despliegue_id"`
	Measurements []Measurement `json:"measurements"`
}

// DeploymentSummary краткий итог обработки развертывания, кэшируется в Redis
type DeploymentSummary struct {
	RunID           string         `json:"run_id"`
	DeploymentID    int64          `json:"despliegue_id"`
	ProcessedAt     time.Time      `json:"processed_at"`
	RawRows         int            `json:"raw_rows"`
	OutOfRange      int            `json:"out_of_range"`
	DedupedRows     int            `json:"deduped_rows"`
	DuplicateKeys   int            `json:"duplicate_keys"`
	Gaps            int            `json:"gaps"`
	SmallDeltas     int            `json:"small_deltas"`
	Abstentions     int            `json:"abstentions"`
	CodeCounts      map[string]int `json:"code_counts"`
	GridSlots       int            `json:"grid_slots"`
	Columns         int            `json:"columns"`
	ExcludedJitter  int            `json:"excluded_jitter"`
	ImputedCells    int            `json:"imputed_cells"`
	MissingCells    int            `json:"missing_cells"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// PersistStats результаты сохранения записей качества
type PersistStats struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Add суммирует статистику двух приемников
func (p PersistStats) Add(o PersistStats) PersistStats {
	return PersistStats{
		Inserted:   p.Inserted + o.Inserted,
		Duplicates: p.Duplicates + o.Duplicates,
		Failed:     p.Failed + o.Failed,
		Skipped:    p.Skipped + o.Skipped,
	}
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
	Postgres  string    `json:"postgres"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse содержит статистику сервиса
type StatsResponse struct {
	DeploymentsProcessed int64 `json:"deployments_processed"`
	DeploymentsFailed    int64 `json:"deployments_failed"`
	MeasurementsTotal    int64 `json:"measurements_total"`
	NonOKTotal           int64 `json:"non_ok_total"`
}

// BatchProcessRequest тело запроса POST /deployments/process
type BatchProcessRequest struct {
	DeploymentIDs []int64 `json:"deployment_ids"`
}
