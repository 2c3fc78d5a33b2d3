package sensor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FreshnessTracker/internal/domain"
)

var tick = time.Date(2025, time.June, 3, 13, 45, 12, 0, time.UTC)

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, stage := range domain.Stages() {
		first := Generate(stage, tick, 7)
		second := Generate(stage, tick.Add(300*time.Millisecond), 7)
		assert.Equal(t, first, second, "stage %s", stage)
	}
}

func TestGenerateVariesAcrossPatchesAndTicks(t *testing.T) {
	t.Parallel()

	a := Generate(domain.StageStorage, tick, 7)
	b := Generate(domain.StageStorage, tick, 8)
	c := Generate(domain.StageStorage, tick.Add(time.Second), 7)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerateStorage(t *testing.T) {
	t.Parallel()

	r := Generate(domain.StageStorage, tick, 7)

	require.NotNil(t, r.Humidity)
	assert.GreaterOrEqual(t, *r.Humidity, 95.0)
	assert.LessOrEqual(t, *r.Humidity, 97.0)
	require.NotNil(t, r.Temperature)
	assert.InDelta(t, 0, *r.Temperature, 0.5)
	require.NotNil(t, r.Airflow)
	assert.InDelta(t, 5, *r.Airflow, 0.5)
	assert.Nil(t, r.Sunlight)
	assert.Nil(t, r.SoilMoisture)
	require.NotNil(t, r.Vibration)
	assert.Zero(t, *r.Vibration)
}

func TestGenerateFieldApplicability(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stage    domain.Stage
		sunlight bool
		soil     bool
	}{
		{domain.StageOrigin, true, true},
		{domain.StageStorage, false, false},
		{domain.StageTransit, false, false},
		{domain.StagePOS, true, false},
	}

	for _, tc := range cases {
		r := Generate(tc.stage, tick, 42)
		assert.Equal(t, tc.sunlight, r.Sunlight != nil, "sunlight for %s", tc.stage)
		assert.Equal(t, tc.soil, r.SoilMoisture != nil, "soil for %s", tc.stage)
		assert.NotNil(t, r.Temperature, "temperature for %s", tc.stage)
		assert.NotNil(t, r.Humidity, "humidity for %s", tc.stage)
		assert.NotNil(t, r.Vibration, "vibration for %s", tc.stage)
	}
}

func TestGenerateUnknownStageIsEmpty(t *testing.T) {
	t.Parallel()

	r := Generate(domain.Stage("warehouse"), tick, 1)
	assert.True(t, r.Empty())
}

func TestGenerateRoundsToTwoDecimals(t *testing.T) {
	t.Parallel()

	for _, stage := range domain.Stages() {
		for patch := domain.PatchID(1); patch <= 20; patch++ {
			r := Generate(stage, tick, patch)
			for _, v := range []*float64{r.Temperature, r.Humidity, r.Sunlight, r.SoilMoisture, r.Airflow, r.Vibration} {
				if v == nil {
					continue
				}
				scaled := *v * 100
				assert.InDelta(t, math.Round(scaled), scaled, 1e-6, "stage %s patch %d value %v", stage, patch, *v)
			}
		}
	}
}

func TestGenerateTransitShocks(t *testing.T) {
	t.Parallel()

	shocks := 0
	total := 0
	for s := 0; s < 200; s++ {
		at := tick.Add(time.Duration(s) * time.Second)
		for patch := domain.PatchID(1); patch <= 20; patch++ {
			r := Generate(domain.StageTransit, at, patch)
			require.NotNil(t, r.Vibration)
			assert.GreaterOrEqual(t, *r.Vibration, 0.0)
			assert.LessOrEqual(t, *r.Vibration, 4.0)
			if *r.Vibration > 1 {
				shocks++
			}
			total++
		}
	}

	rate := float64(shocks) / float64(total)
	assert.Greater(t, rate, 0.02)
	assert.Less(t, rate, 0.08)
}

func TestGenerateSunlightNeverNegative(t *testing.T) {
	t.Parallel()

	night := time.Date(2025, time.June, 3, 2, 0, 0, 0, time.UTC)
	for patch := domain.PatchID(1); patch <= 50; patch++ {
		for _, stage := range []domain.Stage{domain.StageOrigin, domain.StagePOS} {
			r := Generate(stage, night, patch)
			require.NotNil(t, r.Sunlight)
			assert.GreaterOrEqual(t, *r.Sunlight, 0.0)
		}
	}
}

func TestRound(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.24, Round(1.235001))
	assert.Equal(t, -0.5, Round(-0.499999))
	assert.Equal(t, 96.0, Round(96))
}
