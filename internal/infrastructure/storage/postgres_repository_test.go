package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FreshnessTracker/internal/domain"
)

func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()
	repo, err := NewPostgresRepository(nil, "")
	require.NoError(t, err)
	repo.now = func() time.Time { return time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC) }
	return repo
}

func sampleRows(n int) []domain.Row {
	at := time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC)
	rows := make([]domain.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, domain.Row{
			Time:        at,
			PatchID:     domain.PatchID(i + 1),
			Stage:       domain.StageStorage,
			Temperature: domain.Value(3.1),
			Humidity:    domain.Value(95.5),
			Airflow:     domain.Value(0.4),
			Freshness:   98.2,
		})
	}
	return rows
}

func TestNewPostgresRepositoryRejectsBadTable(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresRepository(nil, "readings; DROP TABLE x")
	require.Error(t, err)

	repo, err := NewPostgresRepository(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, repo.table)
}

func TestInsertQueryBindsEveryColumn(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	rows := sampleRows(2)

	query, args, err := repo.insertQuery(rows)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO sensor_freshness (time,patch_id,phase,temperature,humidity,sunlight,soil_moisture,airflow,vibration,freshness) VALUES "), query)
	assert.Contains(t, query, "$20")
	assert.NotContains(t, query, "?")
	require.Len(t, args, 2*len(rowColumns))

	assert.Equal(t, 1, args[1])
	assert.Equal(t, "storage", args[2])
	assert.Nil(t, args[5], "absent sunlight binds NULL")
	assert.Equal(t, 98.2, args[9])
}

func TestPaginateSplitsIntoPagesOfHundred(t *testing.T) {
	t.Parallel()

	pages := paginate(sampleRows(250), defaultPageSize)
	require.Len(t, pages, 3)
	assert.Len(t, pages[0], 100)
	assert.Len(t, pages[1], 100)
	assert.Len(t, pages[2], 50)
	assert.Equal(t, domain.PatchID(201), pages[2][0].PatchID)

	assert.Empty(t, paginate(nil, defaultPageSize))
}

func TestHistoryQueryFiltersPatchAndStage(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	query, args, err := repo.historyQuery(7, domain.StageTransit).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "FROM sensor_freshness")
	assert.Contains(t, query, "patch_id = $1")
	assert.Contains(t, query, "phase = $2")
	assert.True(t, strings.HasSuffix(query, "ORDER BY time"), query)
	assert.Equal(t, []interface{}{7, "transit"}, args)
}

func TestSummaryQueryTargetsLatestTick(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	query, args, err := repo.summaryQuery().ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "time = (SELECT MAX(time) FROM sensor_freshness)")
	assert.Contains(t, query, "COUNT(*) FILTER (WHERE freshness < 70)")
	assert.Contains(t, query, "GROUP BY phase")
	assert.Empty(t, args)
}

func TestPatchAveragesQueryWindow(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)

	query, args, err := repo.patchAveragesQuery("").ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "time >= $1")
	assert.NotContains(t, query, "phase = ")
	require.Len(t, args, 1)
	assert.Equal(t, time.Date(2025, 5, 19, 12, 0, 0, 0, time.UTC), args[0])

	query, args, err = repo.patchAveragesQuery(domain.StagePOS).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "phase = $2")
	assert.Equal(t, "pos", args[1])
}

func TestRepositoryWithoutDatabaseIsNoop(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertBatch(ctx, sampleRows(3)))
	require.NoError(t, repo.EnsureSchema(ctx, true))

	history, err := repo.History(ctx, 1, domain.StageOrigin)
	require.NoError(t, err)
	assert.Empty(t, history)
}

type scriptedExec struct {
	statements []string
	failOn     string
	err        error
}

func (e *scriptedExec) ExecContext(_ context.Context, query string, _ ...interface{}) (sql.Result, error) {
	e.statements = append(e.statements, query)
	if e.failOn != "" && strings.Contains(query, e.failOn) {
		return nil, e.err
	}
	return nil, nil
}

func TestEnsureSchemaSeparatesHypertableFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("function create_hypertable does not exist")
	exec := &scriptedExec{failOn: "create_hypertable", err: boom}
	repo := newTestRepository(t)
	repo.ddl = exec

	err := repo.EnsureSchema(context.Background(), true)
	require.ErrorIs(t, err, ErrHypertableUnavailable)
	require.ErrorIs(t, err, boom)
	assert.Len(t, exec.statements, 3)

	exec = &scriptedExec{failOn: "create_hypertable", err: boom}
	repo.ddl = exec
	require.NoError(t, repo.EnsureSchema(context.Background(), false))
	assert.Len(t, exec.statements, 2)
}

func TestEnsureSchemaTableFailuresAreNotHypertableErrors(t *testing.T) {
	t.Parallel()

	for _, stmt := range []string{"CREATE TABLE", "CREATE INDEX"} {
		denied := errors.New("permission denied for schema public")
		repo := newTestRepository(t)
		repo.ddl = &scriptedExec{failOn: stmt, err: denied}

		err := repo.EnsureSchema(context.Background(), true)
		require.ErrorIs(t, err, denied, stmt)
		assert.NotErrorIs(t, err, ErrHypertableUnavailable, stmt)
	}
}
