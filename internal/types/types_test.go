package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("2024-01-01T00:00:00", "2025-01-01")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), w.End)

	_, err = ParseWindow("2025-01-01", "2024-01-01")
	require.Error(t, err)

	_, err = ParseWindow("yesterday", "2024-01-01")
	require.Error(t, err)
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	w, err := ParseWindow("2024-01-01T00:00:00", "2024-02-01T00:00:00")
	require.NoError(t, err)

	require.True(t, w.Contains(w.Start))
	require.True(t, w.Contains(w.End.Add(-time.Millisecond)))
	require.False(t, w.Contains(w.End))
	require.False(t, w.Contains(w.Start.Add(-time.Millisecond)))
}

func TestWindowSoQL(t *testing.T) {
	w, err := ParseWindow("2024-10-01T00:00:00", "2024-11-01T00:00:00")
	require.NoError(t, err)
	require.Equal(t,
		"crash_date >= '2024-10-01T00:00:00.000' AND crash_date < '2024-11-01T00:00:00.000'",
		w.SoQL("crash_date"))
}

func TestParseTimestampLayouts(t *testing.T) {
	for _, in := range []string{
		"2024-03-05T10:11:12.000",
		"2024-03-05T10:11:12",
		"2024-03-05T10:11:12Z",
		"2024-03-05 10:11:12",
	} {
		ts, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		require.Equal(t, time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC), ts, in)
	}
}

func TestTableColumn(t *testing.T) {
	tbl := NewTable("raw_collisions", []string{"collision_id", "borough"})
	tbl.Rows = append(tbl.Rows, []any{"1", "BROOKLYN"}, []any{"2", nil})

	require.Equal(t, 2, tbl.Len())
	require.Equal(t, 1, tbl.ColumnIndex("borough"))
	require.Equal(t, -1, tbl.ColumnIndex("missing"))

	values, ok := tbl.Column("collision_id")
	require.True(t, ok)
	require.Equal(t, []any{"1", "2"}, values)

	_, ok = tbl.Column("missing")
	require.False(t, ok)

	var nilTable *Table
	require.Zero(t, nilTable.Len())
}

func TestDefaultEntities(t *testing.T) {
	entities := DefaultEntities()
	for _, name := range EntityOrder {
		e, ok := entities[name]
		require.True(t, ok, name)
		require.Equal(t, "crash_date", e.TimestampField)
		require.Equal(t, "collision_id", e.KeyField)
		require.Positive(t, e.RowCap)
	}
	require.Equal(t, "raw_collisions", entities[EntityCollisions].Table)
	require.Equal(t, "raw_collision_vehicles", entities[EntityVehicles].Table)
	require.Equal(t, "raw_collision_persons", entities[EntityPersons].Table)
}
