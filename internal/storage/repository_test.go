package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motor-quality-service/internal/models"
)

func newMockRepo(t *testing.T) (*QualityRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQualityRepository(sqlx.NewDb(db, "postgres"), nil), mock
}

var ts = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "mqs", Password: "pw", DBName: "motors"}
	assert.Equal(t, "host=db port=5432 user=mqs password=pw dbname=motors sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}

func TestSaveQuality_CountsDuplicates(t *testing.T) {
	repo, mock := newMockRepo(t)
	v := 1500.0
	records := []models.QualityRecord{
		{DeploymentID: 1, Timestamp: ts, Variable: "Speed", Value: &v, QualityCode: 0},
		{DeploymentID: 1, Timestamp: ts, Variable: "Skin Temperature", QualityCode: 1},
	}

	insert := regexp.QuoteMeta("INSERT INTO mediciones_calidad")
	mock.ExpectBegin()
	mock.ExpectExec(insert).
		WithArgs(int64(1), ts, "Speed", 1500.0, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).
		WithArgs(int64(1), ts, "Skin Temperature", nil, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	stats, err := repo.SaveQuality(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, models.PersistStats{Inserted: 1, Duplicates: 1}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveQuality_RollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	records := []models.QualityRecord{{DeploymentID: 1, Timestamp: ts, Variable: "Speed"}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mediciones_calidad").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	stats, err := repo.SaveQuality(context.Background(), records)
	require.Error(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveQuality_Empty(t *testing.T) {
	repo, mock := newMockRepo(t)
	stats, err := repo.SaveQuality(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveClean(t *testing.T) {
	repo, mock := newMockRepo(t)
	v := 0.4
	records := []models.CleanRecord{
		{DeploymentID: 1, Slot: ts, Variable: "overall_vibration", Value: &v, Provenance: "original"},
		{DeploymentID: 1, Slot: ts, Variable: "speed", Provenance: "missing_not_imputed"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dataset_limpio").
		WithArgs(int64(1), ts, "overall_vibration", 0.4, "original").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dataset_limpio").
		WithArgs(int64(1), ts, "speed", nil, "missing_not_imputed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.SaveClean(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByCode(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT indicador_calidad, COUNT").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"indicador_calidad", "count"}).
			AddRow(0, 40).
			AddRow(3, 2))

	counts, err := repo.CountByCode(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []CodeCount{{Code: 0, Count: 40}, {Code: 3, Count: 2}}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
