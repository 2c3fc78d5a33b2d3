// Package sensor synthesizes patch readings for each supply-chain stage.
package sensor

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"FreshnessTracker/internal/domain"
)

// Granularity is the resolution at which tick times seed the generator.
const Granularity = time.Second

// shockProbability is the per-reading chance of a handling shock in transit.
const shockProbability = 0.05

// Generate returns the reading of one patch in one stage at the given tick.
// The result depends only on its arguments; unknown stages yield an empty reading.
func Generate(stage domain.Stage, at time.Time, patch domain.PatchID) domain.Reading {
	rng := rand.New(rand.NewSource(Seed(stage, at, patch)))
	hour := hourOfDay(at)

	switch stage {
	case domain.StageOrigin:
		return origin(rng, hour)
	case domain.StageStorage:
		return storage(rng)
	case domain.StageTransit:
		return transit(rng)
	case domain.StagePOS:
		return pointOfSale(rng, hour)
	default:
		return domain.Reading{}
	}
}

// Seed derives the PRNG seed of a (stage, tick, patch) triple.
func Seed(stage domain.Stage, at time.Time, patch domain.PatchID) int64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(at.Truncate(Granularity).Unix()))
	binary.BigEndian.PutUint64(buf[8:], uint64(patch))

	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(stage))
	return int64(h.Sum64())
}

func origin(rng *rand.Rand, hour float64) domain.Reading {
	temp := 20 + 5*diurnal(hour, 14) + uniform(rng, -1, 1)
	humidity := 85 + 5*diurnal(hour, 6) + uniform(rng, -2, 2)
	sunlight := math.Max(0, 800*diurnal(hour, 6)) + uniform(rng, -50, 50)
	soil := 70 + 5*diurnal(hour, 12) + uniform(rng, -3, 3)
	airflow := 0.3 + uniform(rng, -0.1, 0.1)

	return domain.Reading{
		Temperature:  measure(temp),
		Humidity:     measure(humidity),
		Sunlight:     measure(math.Max(0, sunlight)),
		SoilMoisture: measure(soil),
		Airflow:      measure(airflow),
		Vibration:    measure(0),
	}
}

func storage(rng *rand.Rand) domain.Reading {
	temp := uniform(rng, -0.5, 0.5)
	humidity := 96 + uniform(rng, -1, 1)
	airflow := 5 + uniform(rng, -0.5, 0.5)

	return domain.Reading{
		Temperature: measure(temp),
		Humidity:    measure(humidity),
		Airflow:     measure(airflow),
		Vibration:   measure(0),
	}
}

func transit(rng *rand.Rand) domain.Reading {
	temp := uniform(rng, -1, 1)
	humidity := 96 + uniform(rng, -2, 2)
	airflow := 5 + uniform(rng, -0.5, 0.5)

	// both draws are always taken so the stream stays aligned
	vibration := uniform(rng, 0, 1)
	roll := rng.Float64()
	shock := uniform(rng, 1, 3)
	if roll < shockProbability {
		vibration += shock
	}

	return domain.Reading{
		Temperature: measure(temp),
		Humidity:    measure(humidity),
		Airflow:     measure(airflow),
		Vibration:   measure(vibration),
	}
}

func pointOfSale(rng *rand.Rand, hour float64) domain.Reading {
	temp := 22 + 3*diurnal(hour, 12) + uniform(rng, -1, 1)
	humidity := 88 + 5*diurnal(hour, 12) + uniform(rng, -3, 3)
	sunlight := math.Max(0, 500*diurnal(hour, 8)) + uniform(rng, -20, 20)
	airflow := 0.5 + uniform(rng, -0.1, 0.1)

	return domain.Reading{
		Temperature: measure(temp),
		Humidity:    measure(humidity),
		Sunlight:    measure(math.Max(0, sunlight)),
		Airflow:     measure(airflow),
		Vibration:   measure(0),
	}
}

func hourOfDay(at time.Time) float64 {
	return float64(at.Hour()) + float64(at.Minute())/60
}

// diurnal is a 24h sinusoid peaking six hours after shift.
func diurnal(hour, shift float64) float64 {
	return math.Sin((hour - shift) * math.Pi / 12)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func measure(v float64) *float64 {
	return domain.Value(Round(v))
}

// Round rounds to two decimal places.
func Round(v float64) float64 {
	out, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return out
}
