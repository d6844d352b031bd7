package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"motor-quality-service/internal/imputation"
	"motor-quality-service/internal/models"
	"motor-quality-service/internal/quality"
	"motor-quality-service/internal/taxonomy"
	"motor-quality-service/internal/temporal"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func testTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tax, err := taxonomy.New(taxonomy.Tables{
		Groups: map[taxonomy.Group][]string{
			taxonomy.GroupVibration:    {"Overall Vibration"},
			taxonomy.GroupPhysical:     {"Speed"},
			taxonomy.GroupCategorical:  {"Bearing Condition"},
			taxonomy.GroupAccumulative: {"Total Running Time"},
		},
		Canonical: map[string]string{
			"Overall Vibration":  "overall_vibration",
			"Speed":              "speed",
			"Bearing Condition":  "bearing_condition",
			"Total Running Time": "total_run_time",
		},
		Domains:        map[string][]int{"Bearing Condition": {0, 1, 2, 3, 4}},
		JumpThresholds: map[string]float64{"Speed": 1800},
	})
	require.NoError(t, err)
	return tax
}

func deployment() models.Deployment {
	end := t0.Add(3 * time.Hour)
	return models.Deployment{ID: 3, AssetCode: "A-01", MotorCode: "M-07", Start: t0, End: &end}
}

// measurements 12 отсчетов по четырем переменным с одной аномалией каждого вида
func measurements() []models.Measurement {
	var ms []models.Measurement
	add := func(i int, variable string, v models.Value) {
		ms = append(ms, models.Measurement{
			DeploymentID: 3,
			AssetCode:    "A-01",
			MotorCode:    "M-07",
			Timestamp:    t0.Add(time.Duration(i) * 15 * time.Minute),
			Variable:     variable,
			Value:        v,
		})
	}

	vibration := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 20, 100}
	for i := 0; i < 12; i++ {
		add(i, "Overall Vibration", models.Number(vibration[i]))

		speed := models.Number(1500 + 10*float64(i))
		if i == 5 {
			speed = models.Missing()
		}
		add(i, "Speed", speed)

		bearing := 1.0
		if i == 3 {
			bearing = 7
		}
		add(i, "Bearing Condition", models.Number(bearing))

		counter := 100 + float64(i)
		if i == 6 {
			counter = 90
		}
		add(i, "Total Running Time", models.Number(counter))
	}
	return ms
}

func newProcessor(t *testing.T, cfg Config) *Processor {
	t.Helper()
	p, err := NewProcessor(cfg, testTaxonomy(t), nil)
	require.NoError(t, err)
	return p
}

func codeOf(t *testing.T, res *Result, variable string, i int) quality.Code {
	t.Helper()
	ts := t0.Add(time.Duration(i) * 15 * time.Minute)
	for k := 0; k < res.Series.Len(); k++ {
		r := res.Series.At(k)
		if r.Variable == variable && r.Timestamp.Equal(ts) {
			return res.Codes[k]
		}
	}
	t.Fatalf("no record for %s at %d", variable, i)
	return 0
}

func TestProcess_EndToEnd(t *testing.T) {
	res, err := newProcessor(t, DefaultConfig()).Process(deployment(), measurements())
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)

	require.Len(t, res.Codes, 48)
	assert.Equal(t, quality.CodeExtreme, codeOf(t, res, "Overall Vibration", 10))
	assert.Equal(t, quality.CodeExtreme, codeOf(t, res, "Overall Vibration", 11))
	assert.Equal(t, quality.CodeMissing, codeOf(t, res, "Speed", 5))
	assert.Equal(t, quality.CodeInvalidCategory, codeOf(t, res, "Bearing Condition", 3))
	assert.Equal(t, quality.CodeCounterIntegrity, codeOf(t, res, "Total Running Time", 6))
	assert.Equal(t, quality.CodeOK, codeOf(t, res, "Total Running Time", 7))

	assert.Equal(t, 5, res.Report.NonOK())
	assert.Equal(t, map[string]int{"0": 43, "1": 1, "3": 2, "4": 1, "6": 1}, res.Summary.CodeCounts)

	assert.Equal(t, 12, res.Sync.Slots)
	assert.Equal(t, []string{"bearing_condition", "overall_vibration", "speed", "total_run_time"}, res.Table.Columns())

	// выброс заменен пропуском и восстановлен переносом вперед
	_, ok := res.Table.Value(11, "overall_vibration")
	assert.False(t, ok)
	v, ok := res.Imputed.Table.Value(11, "overall_vibration")
	require.True(t, ok)
	assert.Equal(t, 20.0, v)
	assert.Equal(t, imputation.ProvenanceImputedFFill, res.Imputed.Provenance["overall_vibration"][11])

	v, ok = res.Imputed.Table.Value(5, "speed")
	require.True(t, ok)
	assert.InDelta(t, 1550, v, 1e-9)
	assert.Equal(t, imputation.ProvenanceImputedLinear, res.Imputed.Provenance["speed"][5])

	assert.Len(t, res.Quality, 48)
	assert.Len(t, res.Clean, 48)
	assert.Equal(t, 2, res.Summary.ImputedCells)
	assert.Equal(t, 0, res.Summary.MissingCells)
	assert.Equal(t, 48, res.Summary.RawRows)
	assert.Equal(t, 48, res.Summary.DedupedRows)
	assert.Equal(t, 0, res.Summary.Gaps)
	assert.Equal(t, int64(3), res.Summary.DeploymentID)
}

func TestProcess_QualityRecords(t *testing.T) {
	res, err := newProcessor(t, DefaultConfig()).Process(deployment(), measurements())
	require.NoError(t, err)

	for _, rec := range res.Quality {
		assert.Equal(t, int64(3), rec.DeploymentID)
		if rec.Variable == "Speed" && rec.Timestamp.Equal(t0.Add(75*time.Minute)) {
			assert.Nil(t, rec.Value)
			assert.Equal(t, int(quality.CodeMissing), rec.QualityCode)
		} else {
			require.NotNil(t, rec.Value)
			assert.False(t, math.IsNaN(*rec.Value))
		}
	}
}

func TestProcess_QualityFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityFilter = []int{3, 4}
	res, err := newProcessor(t, cfg).Process(deployment(), measurements())
	require.NoError(t, err)

	require.Len(t, res.Quality, 3)
	for _, rec := range res.Quality {
		assert.Contains(t, []int{3, 4}, rec.QualityCode)
	}
	assert.Len(t, res.Codes, 48, "filter affects only the records handed to sinks")
}

func TestProcess_ConflictingDuplicatesAreCounted(t *testing.T) {
	ms := measurements()
	dup := ms[1]
	dup.Value = models.Number(1499)
	ms = append(ms, dup)

	res, err := newProcessor(t, DefaultConfig()).Process(deployment(), ms)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.DuplicateKeys)
	assert.Equal(t, 49, res.Summary.DedupedRows)
}

func TestProcess_Empty(t *testing.T) {
	_, err := newProcessor(t, DefaultConfig()).Process(deployment(), nil)
	assert.True(t, errors.Is(err, ErrNoMeasurements))
}

func TestProcess_InvalidValueIsLoggedAndStoredAsNull(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := NewProcessor(DefaultConfig(), testTaxonomy(t), zap.New(core))
	require.NoError(t, err)

	ms := measurements()
	ms[1].Value = models.Invalid("1,5e3")
	res, err := p.Process(deployment(), ms)
	require.NoError(t, err)

	found := false
	for _, rec := range res.Quality {
		if rec.Variable == "Speed" && rec.Timestamp.Equal(t0) {
			found = true
			assert.Nil(t, rec.Value)
			assert.Equal(t, int(quality.CodeImpossible), rec.QualityCode)
		}
	}
	require.True(t, found)

	entries := logs.FilterMessage("Invalid value stored as NULL").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1,5e3", entries[0].ContextMap()["raw"])
	assert.Equal(t, "Speed", entries[0].ContextMap()["variable"])
}

func TestProcess_MissingFieldIsFatal(t *testing.T) {
	p := newProcessor(t, DefaultConfig())

	ms := measurements()
	ms[4].Timestamp = time.Time{}
	_, err := p.Process(deployment(), ms)
	assert.ErrorIs(t, err, temporal.ErrMissingField)

	ms = measurements()
	ms[2].Variable = ""
	_, err = p.Process(deployment(), ms)
	assert.ErrorIs(t, err, temporal.ErrMissingField)
}

func TestProcess_OutsideDeploymentWindowExcluded(t *testing.T) {
	ms := measurements()
	before := ms[0]
	before.Timestamp = t0.Add(-time.Hour)
	after := ms[0]
	after.Timestamp = t0.Add(3 * time.Hour) // End не входит в окно
	ms = append(ms, before, after)

	res, err := newProcessor(t, DefaultConfig()).Process(deployment(), ms)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Summary.RawRows)
	assert.Equal(t, 2, res.Summary.OutOfRange)
	assert.Equal(t, 48, res.Summary.DedupedRows)
	assert.Equal(t, 12, res.Sync.Slots)

	_, err = newProcessor(t, DefaultConfig()).Process(deployment(), []models.Measurement{before, after})
	assert.ErrorIs(t, err, ErrNoMeasurements)
}

func TestProcess_OpenDeploymentKeepsLateReadings(t *testing.T) {
	d := deployment()
	d.End = nil
	ms := measurements()
	late := ms[0]
	late.Timestamp = t0.Add(5 * time.Hour)
	ms = append(ms, late)

	res, err := newProcessor(t, DefaultConfig()).Process(d, ms)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.OutOfRange)
	assert.Equal(t, 49, res.Summary.DedupedRows)
}

func TestProcess_GridLimit(t *testing.T) {
	d := deployment()
	d.End = nil
	ms := measurements()
	stale := ms[0]
	stale.Timestamp = t0.AddDate(-10, 0, 0)
	ms = append(ms, stale)

	_, err := newProcessor(t, DefaultConfig()).Process(d, ms)
	assert.ErrorIs(t, err, ErrGridTooLarge)

	cfg := DefaultConfig()
	cfg.MaxGridSlots = 12
	_, err = newProcessor(t, cfg).Process(deployment(), measurements())
	require.NoError(t, err, "12 slots fit exactly")

	cfg.MaxGridSlots = 11
	_, err = newProcessor(t, cfg).Process(deployment(), measurements())
	assert.ErrorIs(t, err, ErrGridTooLarge)
}

func TestNewProcessor_ConfigErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Imputation.Strategies = map[string]string{"physical": "spline"}
	_, err := NewProcessor(cfg, testTaxonomy(t), nil)
	assert.True(t, errors.Is(err, imputation.ErrUnknownStrategy))

	cfg = DefaultConfig()
	cfg.QualityFilter = []int{42}
	_, err = NewProcessor(cfg, testTaxonomy(t), nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Grid.CollapseMode = "median"
	_, err = NewProcessor(cfg, testTaxonomy(t), nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.MaxGridSlots = -1
	_, err = NewProcessor(cfg, testTaxonomy(t), nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Detectors.StuckWindow = -2
	_, err = NewProcessor(cfg, testTaxonomy(t), nil)
	assert.ErrorContains(t, err, "stuck_window")

	cfg = DefaultConfig()
	cfg.Imputation.MaxGapSteps = -1
	_, err = NewProcessor(cfg, testTaxonomy(t), nil)
	assert.Error(t, err)

	_, err = NewProcessor(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
