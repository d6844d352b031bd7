package imputation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motor-quality-service/internal/grid"
	"motor-quality-service/internal/taxonomy"
)

var nan = math.NaN()

func tableOf(t *testing.T, column string, group taxonomy.Group, values ...float64) *grid.Table {
	t.Helper()
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	slots := make([]time.Time, len(values))
	for i := range slots {
		slots[i] = t0.Add(time.Duration(i) * 15 * time.Minute)
	}
	table := grid.NewTable(slots, []string{column}, map[string]taxonomy.Group{column: group})
	require.NoError(t, table.SetColumn(column, values))
	return table
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func assertValues(t *testing.T, expected, actual []float64) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		if math.IsNaN(expected[i]) {
			assert.True(t, math.IsNaN(actual[i]), "index %d: expected missing, got %v", i, actual[i])
			continue
		}
		assert.InDelta(t, expected[i], actual[i], 1e-9, "index %d", i)
	}
}

func TestRuns(t *testing.T) {
	assert.Nil(t, Runs([]float64{1, 2}))
	assert.Equal(t, []Run{{Start: 0, Len: 1}, {Start: 2, Len: 3}, {Start: 6, Len: 1}},
		Runs([]float64{nan, 1, nan, nan, nan, 2, nan}))
}

func TestImpute_LinearWithinBound(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	res := e.Impute(tableOf(t, "speed", taxonomy.GroupPhysical, 10, nan, nan, 40))

	assertValues(t, []float64{10, 20, 30, 40}, res.Table.Column("speed"))
	assert.Equal(t, []Provenance{
		ProvenanceOriginal, ProvenanceImputedLinear, ProvenanceImputedLinear, ProvenanceOriginal,
	}, res.Provenance["speed"])
	assert.Equal(t, 2, res.Imputed())
}

func TestImpute_RunLongerThanBoundStaysMissing(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	res := e.Impute(tableOf(t, "speed", taxonomy.GroupPhysical, 10, nan, nan, nan, 50))

	assertValues(t, []float64{10, nan, nan, nan, 50}, res.Table.Column("speed"))
	for _, p := range res.Provenance["speed"][1:4] {
		assert.Equal(t, ProvenanceMissingNotImputed, p)
	}
	assert.Equal(t, 0, res.Imputed())
}

func TestImpute_BoundIsConfigurable(t *testing.T) {
	for _, maxGap := range []int{1, 2, 3, 5} {
		e := newEngine(t, Config{MaxGapSteps: maxGap})

		exact := make([]float64, maxGap+2)
		over := make([]float64, maxGap+3)
		for i := range exact {
			exact[i] = nan
		}
		for i := range over {
			over[i] = nan
		}
		exact[0], exact[len(exact)-1] = 1, 1
		over[0], over[len(over)-1] = 1, 1

		res := e.Impute(tableOf(t, "acc", taxonomy.GroupVibration, exact...))
		assert.Equal(t, maxGap, res.Counts[ProvenanceImputedLinear], "max %d", maxGap)

		res = e.Impute(tableOf(t, "acc", taxonomy.GroupVibration, over...))
		assert.Equal(t, maxGap+1, res.Counts[ProvenanceMissingNotImputed], "max %d", maxGap)
	}
}

func TestImpute_LinearBoundaries(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	res := e.Impute(tableOf(t, "speed", taxonomy.GroupPhysical, nan, 5, 6, nan))

	assertValues(t, []float64{5, 5, 6, 6}, res.Table.Column("speed"))
	assert.Equal(t, ProvenanceImputedBFill, res.Provenance["speed"][0])
	assert.Equal(t, ProvenanceImputedFFill, res.Provenance["speed"][3])
}

func TestImpute_FFillBFillForCounters(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	res := e.Impute(tableOf(t, "total_run_time", taxonomy.GroupAccumulative, nan, 100, nan, nan, 110))

	assertValues(t, []float64{100, 100, 100, 100, 110}, res.Table.Column("total_run_time"))
	assert.Equal(t, []Provenance{
		ProvenanceImputedBFill, ProvenanceOriginal, ProvenanceImputedFFill, ProvenanceImputedFFill, ProvenanceOriginal,
	}, res.Provenance["total_run_time"])
}

func TestImpute_FFillOnlyLeavesLeadingRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategies = map[string]string{"categorical": "ffill"}
	e := newEngine(t, cfg)
	res := e.Impute(tableOf(t, "bearing_condition", taxonomy.GroupCategorical, nan, 1, nan))

	assertValues(t, []float64{nan, 1, 1}, res.Table.Column("bearing_condition"))
	assert.Equal(t, ProvenanceMissingNotImputed, res.Provenance["bearing_condition"][0])
}

func TestImpute_UnknownGroupAndEmptyColumn(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	res := e.Impute(tableOf(t, "Humidity", taxonomy.GroupUnknown, 1, nan, 3))
	assert.Equal(t, ProvenanceMissingNotImputed, res.Provenance["Humidity"][1])

	res = e.Impute(tableOf(t, "speed", taxonomy.GroupPhysical, nan, nan))
	assert.Equal(t, []Provenance{ProvenanceMissingNotImputed, ProvenanceMissingNotImputed}, res.Provenance["speed"])
}

func TestImpute_ColumnOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Columns = map[string]string{"speed": "none"}
	e := newEngine(t, cfg)
	assert.Equal(t, StrategyNone, e.StrategyFor("speed", taxonomy.GroupPhysical))
	assert.Equal(t, StrategyLinear, e.StrategyFor("skin_temp", taxonomy.GroupPhysical))
}

func TestImpute_DoesNotMutateInput(t *testing.T) {
	table := tableOf(t, "speed", taxonomy.GroupPhysical, 1, nan, 3)
	newEngine(t, DefaultConfig()).Impute(table)
	assertValues(t, []float64{1, nan, 3}, table.Column("speed"))
}

func TestImpute_ProvenanceConsistentWithValues(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	res := e.Impute(tableOf(t, "speed", taxonomy.GroupPhysical, nan, 1, nan, nan, nan, 4, nan, 6, nan))

	for _, rec := range res.Records(7) {
		assert.Equal(t, int64(7), rec.DeploymentID)
		if rec.Provenance == string(ProvenanceMissingNotImputed) {
			assert.Nil(t, rec.Value)
		} else {
			assert.NotNil(t, rec.Value)
		}
	}
}

func TestNewEngine_UnknownStrategyIsFatal(t *testing.T) {
	_, err := NewEngine(Config{Strategies: map[string]string{"physical": "spline"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStrategy))

	_, err = NewEngine(Config{Columns: map[string]string{"speed": "cubic"}})
	assert.True(t, errors.Is(err, ErrUnknownStrategy))

	_, err = NewEngine(Config{Strategies: map[string]string{"thermal": "linear"}})
	assert.Error(t, err)

	_, err = NewEngine(Config{MaxGapSteps: -3})
	assert.Error(t, err)
}

func TestImpute_ZeroBoundKeepsEveryGap(t *testing.T) {
	e := newEngine(t, Config{MaxGapSteps: 0})
	assert.Equal(t, 0, e.MaxGapSteps())

	res := e.Impute(tableOf(t, "speed", taxonomy.GroupPhysical, 10, nan, 30))
	assertValues(t, []float64{10, nan, 30}, res.Table.Column("speed"))
	assert.Equal(t, ProvenanceMissingNotImputed, res.Provenance["speed"][1])
	assert.Equal(t, 0, res.Imputed())

	res = e.Impute(tableOf(t, "total_run_time", taxonomy.GroupAccumulative, nan, 100, nan))
	assert.Equal(t, 2, res.Counts[ProvenanceMissingNotImputed])
}
