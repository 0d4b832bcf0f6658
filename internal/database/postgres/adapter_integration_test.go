//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Rana718/crashetl/internal/types"
)

func startPostgres(t *testing.T) *Adapter {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("nyc"),
		tcpostgres.WithUsername("etl"),
		tcpostgres.WithPassword("etl"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	a := New()
	require.NoError(t, a.Connect(ctx, url))
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Ping(ctx))
	return a
}

var columns = []types.SchemaColumn{
	{Name: "collision_id", Type: types.ColumnInteger},
	{Name: "crash_date", Type: types.ColumnTimestamp},
	{Name: "location", Type: types.ColumnJSON, Nullable: true},
	{Name: "injured", Type: types.ColumnFloat, Nullable: true},
}

func rows(ids ...int64) [][]any {
	out := make([][]any, len(ids))
	for i, id := range ids {
		out[i] = []any{id, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), `{"latitude":"40.7"}`, nil}
	}
	return out
}

func TestPostgresReplaceTable(t *testing.T) {
	ctx := context.Background()
	a := startPostgres(t)

	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", columns, rows(1, 2, 3)))
	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", columns, rows(4)))

	count, err := a.GetTableRowCount(ctx, "raw_collisions")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	result, err := a.QueryTable(ctx, "raw_collisions")
	require.NoError(t, err)
	require.Equal(t, int64(4), result.Rows[0]["collision_id"])
	require.Equal(t, map[string]any{"latitude": "40.7"}, result.Rows[0]["location"])
	require.Nil(t, result.Rows[0]["injured"])
}

func TestPostgresReplaceFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	a := startPostgres(t)
	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", columns, rows(1, 2)))

	bad := rows(5, 6)
	bad[1][0] = nil
	require.Error(t, a.ReplaceTable(ctx, "raw_collisions", columns, bad))

	count, err := a.GetTableRowCount(ctx, "raw_collisions")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestPostgresExecuteScriptRollsBack(t *testing.T) {
	ctx := context.Background()
	a := startPostgres(t)
	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", columns, rows(1)))

	err := a.ExecuteScript(ctx, "CREATE TABLE s AS SELECT * FROM raw_collisions; SELECT 1/0;")
	require.Error(t, err)

	exists, err := a.CheckTableExists(ctx, "s")
	require.NoError(t, err)
	require.False(t, exists)

	names, err := a.GetAllTableNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"raw_collisions"}, names)
}
