package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motor-quality-service/internal/models"
)

func TestDeduplicate_ExactDuplicatesCollapse(t *testing.T) {
	ms := []models.Measurement{
		meas(0, "Speed", models.Number(1500)),
		meas(0, "Speed", models.Number(1500)),
		meas(0, "Speed", models.Number(1500)),
	}

	out, stats := Deduplicate(ms)
	require.Len(t, out, 1)
	assert.False(t, out[0].IsDuplicateKey)
	assert.Equal(t, 2, stats.ExactDropped)
}

func TestDeduplicate_AllMissingKeepsOne(t *testing.T) {
	ms := []models.Measurement{
		meas(0, "Speed", models.Missing()),
		meas(0, "Speed", models.Missing()),
	}

	out, _ := Deduplicate(ms)
	require.Len(t, out, 1)
	assert.True(t, out[0].Value.IsMissing())
}

func TestDeduplicate_MissingNeverMasksRealValue(t *testing.T) {
	ms := []models.Measurement{
		meas(0, "Speed", models.Missing()),
		meas(0, "Speed", models.Number(1500)),
		meas(0, "Speed", models.Missing()),
	}

	out, stats := Deduplicate(ms)
	require.Len(t, out, 1)
	v, ok := out[0].Value.Float()
	require.True(t, ok)
	assert.Equal(t, 1500.0, v)
	assert.False(t, out[0].IsDuplicateKey)
	assert.Equal(t, 1, stats.MaskedDropped)
}

func TestDeduplicate_ConflictsAreFlaggedNotDropped(t *testing.T) {
	ms := []models.Measurement{
		meas(0, "Speed", models.Number(1500)),
		meas(0, "Speed", models.Number(1490)),
		meas(0, "Speed", models.Missing()),
		meas(900*time.Second, "Speed", models.Number(1500)),
	}

	out, stats := Deduplicate(ms)
	require.Len(t, out, 3)
	assert.True(t, out[0].IsDuplicateKey)
	assert.True(t, out[1].IsDuplicateKey)
	assert.False(t, out[2].IsDuplicateKey)
	assert.Equal(t, 1, stats.ConflictKeys)
}

func TestDeduplicate_KeyIncludesAssetAndMotor(t *testing.T) {
	a := meas(0, "Speed", models.Number(1))
	b := meas(0, "Speed", models.Number(2))
	b.MotorCode = "M2"

	out, stats := Deduplicate([]models.Measurement{a, b})
	require.Len(t, out, 2)
	assert.Zero(t, stats.ConflictKeys)
}

func TestDeduplicate_Idempotent(t *testing.T) {
	ms := []models.Measurement{
		meas(900*time.Second, "Speed", models.Number(1)),
		meas(0, "Speed", models.Number(1)),
		meas(0, "Speed", models.Number(1)),
		meas(0, "Speed", models.Number(2)),
		meas(0, "Bearing Condition", models.Missing()),
		meas(0, "Bearing Condition", models.Invalid("ON")),
	}

	first, _ := Deduplicate(ms)

	again := make([]models.Measurement, len(first))
	for i, e := range first {
		again[i] = e.Measurement
	}
	second, stats := Deduplicate(again)

	assert.Equal(t, first, second)
	assert.Zero(t, stats.ExactDropped)
	assert.Zero(t, stats.MaskedDropped)
}
