// Package freshness maps stage readings to a bounded freshness score.
package freshness

import (
	"math"

	"FreshnessTracker/internal/domain"
)

const (
	// Max is the score of a reading sitting exactly on every set-point.
	Max = 100.0
	// Min is the floor of every model.
	Min = 0.0
)

// Score evaluates the stage's penalty model. Absent fields carry no penalty;
// unknown stages score Min.
func Score(stage domain.Stage, r domain.Reading) float64 {
	var penalty float64

	switch stage {
	case domain.StageOrigin:
		penalty = deviation(r.Temperature, 21.5, 1.5) +
			deviation(r.Humidity, 90, 0.5) +
			deviation(r.SoilMoisture, 75, 0.3) +
			sunlightBand(r.Sunlight, 200, 800, 500)
	case domain.StageStorage:
		penalty = deviation(r.Temperature, 0.5, 2.0) +
			deviation(r.Humidity, 96.5, 0.5) +
			deviation(r.Airflow, 5, 1.0)
	case domain.StageTransit:
		penalty = deviation(r.Temperature, 2.5, 1.5) +
			deviation(r.Humidity, 90, 0.3) +
			deviation(r.Vibration, 0, 2.0)
	case domain.StagePOS:
		penalty = deviation(r.Temperature, 4.0, 1.0) +
			deviation(r.Humidity, 92.5, 0.4) +
			sunlightAbove(r.Sunlight, 200)
	default:
		return Min
	}

	return clamp(Max - penalty)
}

func deviation(actual *float64, ideal, weight float64) float64 {
	if actual == nil {
		return 0
	}
	return weight * math.Abs(*actual-ideal)
}

// sunlightBand penalizes light outside [lo, hi] by its distance from center, per 100 lux.
func sunlightBand(sunlight *float64, lo, hi, center float64) float64 {
	if sunlight == nil {
		return 0
	}
	s := *sunlight
	if s >= lo && s <= hi {
		return 0
	}
	return math.Abs(s-center) / 100
}

// sunlightAbove penalizes light over limit, per 200 lux.
func sunlightAbove(sunlight *float64, limit float64) float64 {
	if sunlight == nil || *sunlight <= limit {
		return 0
	}
	return (*sunlight - limit) / 200
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return Min
	}
	return math.Max(Min, math.Min(Max, v))
}
