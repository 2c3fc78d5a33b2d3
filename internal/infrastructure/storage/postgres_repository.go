package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

const (
	// DefaultTable mirrors the Timescale hypertable used by the dashboards.
	DefaultTable    = "sensor_freshness"
	defaultPageSize = 100
	historyWindow   = 24 * time.Hour
)

// ErrHypertableUnavailable marks a schema whose table exists but could not be
// turned into a Timescale hypertable, e.g. on plain Postgres.
var ErrHypertableUnavailable = errors.New("hypertable unavailable")

var identifierExpr = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

var rowColumns = []string{
	"time", "patch_id", "phase",
	"temperature", "humidity", "sunlight",
	"soil_moisture", "airflow", "vibration",
	"freshness",
}

// PostgresRepository persists tick batches into Postgres/TimescaleDB and
// serves history queries over them.
type PostgresRepository struct {
	db       *sql.DB
	ddl      execer
	table    string
	pageSize int
	builder  sq.StatementBuilderType
	now      func() time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var (
	_ ports.ReadingSink    = (*PostgresRepository)(nil)
	_ ports.ReadingHistory = (*PostgresRepository)(nil)
)

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresRepository wires a sql.DB implementation; table defaults to DefaultTable.
func NewPostgresRepository(db *sql.DB, table string) (*PostgresRepository, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifierExpr.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	r := &PostgresRepository{
		db:       db,
		table:    table,
		pageSize: defaultPageSize,
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:      time.Now,
	}
	if db != nil {
		r.ddl = db
	}
	return r, nil
}

// EnsureSchema creates the readings table and its index, then the hypertable
// when requested. Only the hypertable step fails with ErrHypertableUnavailable.
func (r *PostgresRepository) EnsureSchema(ctx context.Context, hypertable bool) error {
	if r.ddl == nil {
		return nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		time          TIMESTAMPTZ      NOT NULL,
		patch_id      INTEGER          NOT NULL,
		phase         TEXT             NOT NULL,
		temperature   DOUBLE PRECISION,
		humidity      DOUBLE PRECISION,
		sunlight      DOUBLE PRECISION,
		soil_moisture DOUBLE PRECISION,
		airflow       DOUBLE PRECISION,
		vibration     DOUBLE PRECISION,
		freshness     DOUBLE PRECISION NOT NULL
	)`, r.table)
	if _, err := r.ddl.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, describe(err))
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_patch_phase_time_idx ON %s (patch_id, phase, time DESC)`, r.table, r.table)
	if _, err := r.ddl.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create index: %w", describe(err))
	}

	if hypertable {
		if _, err := r.ddl.ExecContext(ctx, `SELECT create_hypertable($1, 'time', if_not_exists => TRUE)`, r.table); err != nil {
			return fmt.Errorf("%w: %w", ErrHypertableUnavailable, describe(err))
		}
	}
	return nil
}

// InsertBatch writes all rows in pages inside one transaction.
func (r *PostgresRepository) InsertBatch(ctx context.Context, rows []domain.Row) error {
	if r.db == nil || len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", describe(err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, page := range paginate(rows, r.pageSize) {
		query, args, err := r.insertQuery(page)
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %d rows: %w", len(page), describe(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", describe(err))
	}
	return nil
}

// History returns every persisted (time, freshness) point of one patch in one stage.
func (r *PostgresRepository) History(ctx context.Context, patch domain.PatchID, stage domain.Stage) ([]domain.HistoryPoint, error) {
	if r.db == nil {
		return []domain.HistoryPoint{}, nil
	}

	query, args, err := r.historyQuery(patch, stage).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", describe(err))
	}
	defer rows.Close()

	points := make([]domain.HistoryPoint, 0)
	for rows.Next() {
		var (
			millis    float64
			freshness float64
		)
		if err := rows.Scan(&millis, &freshness); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		points = append(points, domain.HistoryPoint{TimestampMillis: int64(millis), Freshness: freshness})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return points, nil
}

// Summary aggregates every stage at the most recent persisted tick.
func (r *PostgresRepository) Summary(ctx context.Context) ([]domain.StageSummary, error) {
	if r.db == nil {
		return []domain.StageSummary{}, nil
	}

	query, args, err := r.summaryQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summary query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", describe(err))
	}
	defer rows.Close()

	out := make([]domain.StageSummary, 0)
	for rows.Next() {
		var s domain.StageSummary
		var stage string
		if err := rows.Scan(&stage, &s.AvgFreshness, &s.MinFreshness, &s.MaxFreshness, &s.FreshnessStd,
			&s.AvgTemperature, &s.AvgHumidity, &s.AvgAirflow, &s.WarningPatches); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Stage = domain.Stage(stage)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// PatchAverages returns trailing 24h averages per patch; an empty stage covers all stages.
func (r *PostgresRepository) PatchAverages(ctx context.Context, stage domain.Stage) ([]domain.PatchAverage, error) {
	if r.db == nil {
		return []domain.PatchAverage{}, nil
	}

	query, args, err := r.patchAveragesQuery(stage).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build patch averages query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patch averages: %w", describe(err))
	}
	defer rows.Close()

	out := make([]domain.PatchAverage, 0)
	for rows.Next() {
		var (
			avg   domain.PatchAverage
			patch int
			phase string
		)
		if err := rows.Scan(&patch, &phase, &avg.AvgFreshness); err != nil {
			return nil, fmt.Errorf("scan patch average: %w", err)
		}
		avg.PatchID = domain.PatchID(patch)
		avg.Stage = domain.Stage(phase)
		out = append(out, avg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) insertQuery(rows []domain.Row) (string, []interface{}, error) {
	b := r.builder.Insert(r.table).Columns(rowColumns...)
	for _, row := range rows {
		b = b.Values(
			row.Time,
			int(row.PatchID),
			string(row.Stage),
			row.Temperature,
			row.Humidity,
			row.Sunlight,
			row.SoilMoisture,
			row.Airflow,
			row.Vibration,
			row.Freshness,
		)
	}
	return b.ToSql()
}

func (r *PostgresRepository) historyQuery(patch domain.PatchID, stage domain.Stage) sq.SelectBuilder {
	return r.builder.
		Select("EXTRACT(EPOCH FROM time) * 1000 AS timestamp", "freshness").
		From(r.table).
		Where(sq.Eq{"patch_id": int(patch)}).
		Where(sq.Eq{"phase": string(stage)}).
		OrderBy("time")
}

func (r *PostgresRepository) summaryQuery() sq.SelectBuilder {
	return r.builder.
		Select(
			"phase",
			"ROUND(AVG(freshness)::numeric, 2)",
			"MIN(freshness)",
			"MAX(freshness)",
			"COALESCE(ROUND(STDDEV(freshness)::numeric, 2), 0)",
			"COALESCE(ROUND(AVG(temperature)::numeric, 2), 0)",
			"COALESCE(ROUND(AVG(humidity)::numeric, 2), 0)",
			"COALESCE(ROUND(AVG(airflow)::numeric, 2), 0)",
			fmt.Sprintf("COUNT(*) FILTER (WHERE freshness < %g)", domain.WarningThreshold),
		).
		From(r.table).
		Where(fmt.Sprintf("time = (SELECT MAX(time) FROM %s)", r.table)).
		GroupBy("phase").
		OrderBy("phase")
}

func (r *PostgresRepository) patchAveragesQuery(stage domain.Stage) sq.SelectBuilder {
	q := r.builder.
		Select("patch_id", "phase", "ROUND(AVG(freshness)::numeric, 2)").
		From(r.table).
		Where(sq.GtOrEq{"time": r.now().Add(-historyWindow)})
	if stage != "" {
		q = q.Where(sq.Eq{"phase": string(stage)})
	}
	return q.GroupBy("patch_id", "phase").OrderBy("patch_id", "phase")
}

func paginate(rows []domain.Row, size int) [][]domain.Row {
	if size <= 0 {
		size = defaultPageSize
	}
	pages := make([][]domain.Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		pages = append(pages, rows[start:end])
	}
	return pages
}

// describe surfaces the Postgres error code when the driver reports one.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
}
