package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rana718/crashetl/internal/database"
	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/types"
)

func summaryStore(t *testing.T) database.DatabaseAdapter {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewAdapter("sqlite")
	require.NoError(t, err)
	require.NoError(t, db.Connect(ctx, filepath.Join(t.TempDir(), "etl.db")))
	t.Cleanup(func() { db.Close() })

	columns := []types.SchemaColumn{
		{Name: "collision_id", Type: types.ColumnInteger},
		{Name: "crash_date", Type: types.ColumnTimestamp},
		{Name: "borough", Type: types.ColumnText, Nullable: true},
		{Name: "vehicle_count", Type: types.ColumnInteger},
	}
	day := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	rows := [][]any{
		{int64(1), day, "QUEENS", int64(2)},
		{int64(2), day, nil, int64(0)},
		{int64(3), day, `STATEN "ISLAND", NY`, int64(1)},
	}
	require.NoError(t, db.ReplaceTable(ctx, "collision_summary", columns, rows))
	return db
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "collision_summary.csv")
	n, err := New(summaryStore(t)).Export(context.Background(), "collision_summary", path, FormatCSV)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"collision_id", "crash_date", "borough", "vehicle_count"},
		{"1", "2024-07-04T00:00:00Z", "QUEENS", "2"},
		{"2", "2024-07-04T00:00:00Z", "", "0"},
		{"3", "2024-07-04T00:00:00Z", `STATEN "ISLAND", NY`, "1"},
	}, records)
}

func TestExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	_, err := New(summaryStore(t)).Export(context.Background(), "collision_summary", path, FormatJSON)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 3)
	require.Equal(t, float64(1), rows[0]["collision_id"])
	require.Equal(t, "2024-07-04T00:00:00Z", rows[0]["crash_date"])
	require.Nil(t, rows[1]["borough"])
}

func TestExportSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.db")
	n, err := New(summaryStore(t)).Export(context.Background(), "collision_summary", path, FormatSQLite)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "collision_summary"`).Scan(&count))
	require.Equal(t, 3, count)
}

func TestExportEmptyTableWritesHeader(t *testing.T) {
	ctx := context.Background()
	db := summaryStore(t)
	require.NoError(t, db.ReplaceTable(ctx, "empty", []types.SchemaColumn{{Name: "a", Type: types.ColumnText}}, nil))

	path := filepath.Join(t.TempDir(), "empty.csv")
	n, err := New(db).Export(ctx, "empty", path, FormatCSV)
	require.NoError(t, err)
	require.Zero(t, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\n", string(data))
}

func TestExportMissingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.csv")
	_, err := New(summaryStore(t)).Export(context.Background(), "nope", path, FormatCSV)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrExport))

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := New(summaryStore(t)).Export(context.Background(), "collision_summary", filepath.Join(t.TempDir(), "x"), "xml")
	require.True(t, errors.Is(err, errors.ErrExport))
}

func TestExportOverwritesPreviousFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0644))

	_, err := New(summaryStore(t)).Export(context.Background(), "collision_summary", path, FormatCSV)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "stale")
}
