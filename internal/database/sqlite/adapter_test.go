package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rana718/crashetl/internal/types"
)

func openTestDB(t *testing.T) *Adapter {
	t.Helper()
	a := New()
	require.NoError(t, a.Connect(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "etl.db")))
	t.Cleanup(func() { a.Close() })
	return a
}

var collisionColumns = []types.SchemaColumn{
	{Name: "collision_id", Type: types.ColumnInteger},
	{Name: "crash_date", Type: types.ColumnTimestamp},
	{Name: "borough", Type: types.ColumnText, Nullable: true},
	{Name: "injured", Type: types.ColumnFloat, Nullable: true},
	{Name: "flag", Type: types.ColumnBoolean, Nullable: true},
}

func collisionRows(ids ...int64) [][]any {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "QUEENS", 1.5, true}
	}
	return rows
}

func TestReplaceTableReplacesContents(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)

	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", collisionColumns, collisionRows(1, 2, 3, 4)))
	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", collisionColumns, collisionRows(7, 8)))

	count, err := a.GetTableRowCount(ctx, "raw_collisions")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	result, err := a.QueryTable(ctx, "raw_collisions")
	require.NoError(t, err)
	require.Equal(t, []string{"collision_id", "crash_date", "borough", "injured", "flag"}, result.Columns)
	require.Equal(t, int64(7), result.Rows[0]["collision_id"])
	require.Equal(t, "QUEENS", result.Rows[0]["borough"])
	require.Equal(t, true, result.Rows[0]["flag"])
	ts, ok := result.Rows[0]["crash_date"].(time.Time)
	require.True(t, ok)
	require.True(t, ts.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestReplaceTableLargeBatch(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)

	ids := make([]int64, 1000)
	for i := range ids {
		ids[i] = int64(i)
	}
	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", collisionColumns, collisionRows(ids...)))

	count, err := a.GetTableRowCount(ctx, "raw_collisions")
	require.NoError(t, err)
	require.Equal(t, 1000, count)
}

func TestReplaceTableFailureKeepsPreviousTable(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)
	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", collisionColumns, collisionRows(1, 2, 3)))

	bad := collisionRows(10, 11)
	bad[1][0] = nil // collision_id is NOT NULL
	require.Error(t, a.ReplaceTable(ctx, "raw_collisions", collisionColumns, bad))

	count, err := a.GetTableRowCount(ctx, "raw_collisions")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestReplaceTableWithoutColumns(t *testing.T) {
	require.Error(t, openTestDB(t).ReplaceTable(context.Background(), "t", nil, nil))
}

func TestConcurrentReplaceOfDistinctTables(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, name := range []string{"raw_collisions", "raw_collision_vehicles", "raw_collision_persons"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = a.ReplaceTable(ctx, name, collisionColumns, collisionRows(1, 2))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	names, err := a.GetAllTableNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"raw_collision_persons", "raw_collision_vehicles", "raw_collisions"}, names)
}

func TestExecuteScriptIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)
	require.NoError(t, a.ReplaceTable(ctx, "raw_collisions", collisionColumns, collisionRows(1, 2)))

	err := a.ExecuteScript(ctx, `
		CREATE TABLE summary AS SELECT collision_id FROM raw_collisions;
		SELECT * FROM missing_table;
	`)
	require.Error(t, err)

	exists, err := a.CheckTableExists(ctx, "summary")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, a.ExecuteScript(ctx, "CREATE TABLE summary AS SELECT collision_id FROM raw_collisions;"))
	exists, err = a.CheckTableExists(ctx, "summary")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestQueryMissingTable(t *testing.T) {
	_, err := openTestDB(t).QueryTable(context.Background(), "nope")
	require.Error(t, err)
}
