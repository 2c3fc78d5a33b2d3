package storage

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

const defaultMeasurement = "sensor_freshness"

// InfluxConfig locates the bucket the sink writes into.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink mirrors tick batches into InfluxDB as one point per row.
type InfluxSink struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

var _ ports.ReadingSink = (*InfluxSink)(nil)

// NewInfluxSink builds a blocking-write sink.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return newInfluxSink(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement)
}

func newInfluxSink(client influxdb2.Client, writer pointWriter, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = defaultMeasurement
	}
	return &InfluxSink{client: client, writer: writer, measurement: measurement}
}

// InsertBatch writes the rows; absent measurements are omitted from each point.
func (s *InfluxSink) InsertBatch(ctx context.Context, rows []domain.Row) error {
	if len(rows) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(rows))
	for _, row := range rows {
		points = append(points, s.point(row))
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %d points: %w", len(points), err)
	}
	return nil
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *InfluxSink) point(row domain.Row) *write.Point {
	tags := map[string]string{
		"patch_id": strconv.Itoa(int(row.PatchID)),
		"phase":    string(row.Stage),
	}
	fields := map[string]interface{}{"freshness": row.Freshness}
	for key, v := range map[string]*float64{
		"temperature":   row.Temperature,
		"humidity":      row.Humidity,
		"sunlight":      row.Sunlight,
		"soil_moisture": row.SoilMoisture,
		"airflow":       row.Airflow,
		"vibration":     row.Vibration,
	} {
		if v != nil {
			fields[key] = *v
		}
	}
	return influxdb2.NewPoint(s.measurement, tags, fields, row.Time)
}
