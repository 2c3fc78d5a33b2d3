package domain

import "time"

// Reading is one synthetic sensor sample. Nil fields are not applicable
// to the stage that produced the reading.
type Reading struct {
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	Sunlight     *float64 `json:"sunlight"`
	SoilMoisture *float64 `json:"soil_moisture"`
	Airflow      *float64 `json:"airflow"`
	Vibration    *float64 `json:"vibration"`
}

// Value boxes a measurement.
func Value(v float64) *float64 {
	return &v
}

// Empty reports whether every field is absent.
func (r Reading) Empty() bool {
	return r.Temperature == nil && r.Humidity == nil && r.Sunlight == nil &&
		r.SoilMoisture == nil && r.Airflow == nil && r.Vibration == nil
}

// Sample is a scored reading for one (stage, patch, tick) triple.
type Sample struct {
	Time      time.Time
	PatchID   PatchID
	Stage     Stage
	Reading   Reading
	Freshness float64
}

// Row is the persisted form of a sample.
type Row struct {
	Time         time.Time
	PatchID      PatchID
	Stage        Stage
	Temperature  *float64
	Humidity     *float64
	Sunlight     *float64
	SoilMoisture *float64
	Airflow      *float64
	Vibration    *float64
	Freshness    float64
}

// Payload is the subscriber-facing form of a sample.
type Payload struct {
	PatchID      PatchID  `json:"patch_id"`
	Stage        Stage    `json:"phase"`
	Time         string   `json:"time"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	SoilMoisture *float64 `json:"soil_moisture"`
	Sunlight     *float64 `json:"sunlight"`
	Airflow      *float64 `json:"airflow"`
	Vibration    *float64 `json:"vibration"`
	Freshness    float64  `json:"freshness"`
}

// TopicSensorUpdate is the broadcast topic for per-reading payloads.
const TopicSensorUpdate = "sensor_update"

// Row converts the sample into its persisted form.
func (s Sample) Row() Row {
	return Row{
		Time:         s.Time,
		PatchID:      s.PatchID,
		Stage:        s.Stage,
		Temperature:  s.Reading.Temperature,
		Humidity:     s.Reading.Humidity,
		Sunlight:     s.Reading.Sunlight,
		SoilMoisture: s.Reading.SoilMoisture,
		Airflow:      s.Reading.Airflow,
		Vibration:    s.Reading.Vibration,
		Freshness:    s.Freshness,
	}
}

// Payload converts the sample into its broadcast form.
func (s Sample) Payload() Payload {
	return Payload{
		PatchID:      s.PatchID,
		Stage:        s.Stage,
		Time:         s.Time.Format(time.RFC3339Nano),
		Temperature:  s.Reading.Temperature,
		Humidity:     s.Reading.Humidity,
		SoilMoisture: s.Reading.SoilMoisture,
		Sunlight:     s.Reading.Sunlight,
		Airflow:      s.Reading.Airflow,
		Vibration:    s.Reading.Vibration,
		Freshness:    s.Freshness,
	}
}
