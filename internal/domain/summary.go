package domain

// HistoryPoint is one persisted freshness value of a patch in a stage.
type HistoryPoint struct {
	TimestampMillis int64   `json:"timestamp"`
	Freshness       float64 `json:"freshness"`
}

// StageSummary aggregates the latest tick of one stage.
type StageSummary struct {
	Stage          Stage   `json:"phase"`
	AvgFreshness   float64 `json:"avg_freshness"`
	MinFreshness   float64 `json:"min_freshness"`
	MaxFreshness   float64 `json:"max_freshness"`
	FreshnessStd   float64 `json:"freshness_std"`
	AvgTemperature float64 `json:"avg_temp"`
	AvgHumidity    float64 `json:"avg_humidity"`
	AvgAirflow     float64 `json:"avg_airflow"`
	WarningPatches int     `json:"warning_patches"`
}

// PatchAverage is the trailing 24h freshness average of a patch in a stage.
type PatchAverage struct {
	PatchID      PatchID `json:"patch_id"`
	Stage        Stage   `json:"phase"`
	AvgFreshness float64 `json:"avg_freshness"`
}

// WarningThreshold is the freshness below which a patch is counted as a warning.
const WarningThreshold = 70.0
