package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"motor-quality-service/internal/models"
)

const insertQuality = `
	INSERT INTO mediciones_calidad (despliegue_id, ts_utc, variable, valor, indicador_calidad)
	VALUES (:despliegue_id, :ts_utc, :variable, :valor, :indicador_calidad)
	ON CONFLICT DO NOTHING`

const upsertClean = `
	INSERT INTO dataset_limpio (despliegue_id, ts_utc, variable, valor, procedencia)
	VALUES (:despliegue_id, :ts_utc, :variable, :valor, :procedencia)
	ON CONFLICT (despliegue_id, ts_utc, variable)
	DO UPDATE SET valor = EXCLUDED.valor, procedencia = EXCLUDED.procedencia`

// QualityRepository репозиторий результатов обработки
type QualityRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewQualityRepository создает репозиторий
func NewQualityRepository(db *sqlx.DB, logger *zap.Logger) *QualityRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityRepository{db: db, logger: logger.Named("storage")}
}

// SaveQuality сохраняет индикаторы качества в одной транзакции.
// Уже существующая запись не ошибка, а дубликат.
func (r *QualityRepository) SaveQuality(ctx context.Context, records []models.QualityRecord) (models.PersistStats, error) {
	var stats models.PersistStats
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		res, err := tx.NamedExecContext(ctx, insertQuality, rec)
		if err != nil {
			return models.PersistStats{Failed: len(records)}, fmt.Errorf("failed to insert quality record %s@%s: %w",
				rec.Variable, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return models.PersistStats{Failed: len(records)}, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			stats.Duplicates++
		} else {
			stats.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return models.PersistStats{Failed: len(records)}, fmt.Errorf("failed to commit quality records: %w", err)
	}

	r.logger.Info("Quality records saved",
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates))
	return stats, nil
}

// SaveClean сохраняет очищенный набор данных; повторный запуск перезаписывает ячейки
func (r *QualityRepository) SaveClean(ctx context.Context, records []models.CleanRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if _, err := tx.NamedExecContext(ctx, upsertClean, rec); err != nil {
			return 0, fmt.Errorf("failed to upsert clean record %s: %w", rec.Variable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit clean records: %w", err)
	}

	r.logger.Info("Clean dataset saved", zap.Int("cells", len(records)))
	return len(records), nil
}

// CodeCount количество сохраненных записей с кодом
type CodeCount struct {
	Code  int `db:"indicador_calidad" json:"code"`
	Count int `db:"count" json:"count"`
}

// CountByCode распределение сохраненных кодов качества развертывания
func (r *QualityRepository) CountByCode(ctx context.Context, deploymentID int64) ([]CodeCount, error) {
	var out []CodeCount
	query := `
		SELECT indicador_calidad, COUNT(*) AS count
		FROM mediciones_calidad
		WHERE despliegue_id = $1
		GROUP BY indicador_calidad
		ORDER BY indicador_calidad`
	if err := r.db.SelectContext(ctx, &out, query, deploymentID); err != nil {
		return nil, fmt.Errorf("failed to count quality codes: %w", err)
	}
	return out, nil
}

// Ping проверяет соединение
func (r *QualityRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Describe имя приемника для логов и метрик
func (r *QualityRepository) Describe() string {
	return "postgres"
}
