package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/types"
)

func sampleTable() *types.Table {
	t := types.NewTable("raw_collisions", []string{"collision_id", "borough", "injured", "on_street", "location", "flag", "contributing"})
	t.Rows = [][]any{
		{json.Number("4700001"), "QUEENS", json.Number("1"), `\N`, map[string]any{"latitude": "40.7"}, true, nil},
		{json.Number("4700002"), nil, json.Number("0.5"), `\\server`, nil, false, nil},
		{json.Number("4700003"), "", nil, "BROADWAY, W 42 ST", []any{json.Number("1"), "a"}, nil, nil},
	}
	return t
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_raw_collisions.csv")
	in := sampleTable()
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, in.Columns, out.Columns)
	require.Equal(t, in.Rows, out.Rows)
}

func TestAllNullColumnStaysNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	in := types.NewTable("t", []string{"a", "b"})
	in.Rows = [][]any{{nil, json.Number("1")}, {nil, json.Number("2")}}
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)
	a, _ := out.Column("a")
	require.Equal(t, []any{nil, nil}, a)
}

func TestMixedKindsKeepCellTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	in := types.NewTable("t", []string{"v"})
	in.Rows = [][]any{{"12"}, {json.Number("12")}, {true}, {nil}}
	require.NoError(t, Write(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "v:json\n"))

	out, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, in.Rows, out.Rows)
}

func TestEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	require.NoError(t, Write(path, types.NewTable("t", []string{"collision_id", "crash_date"})))

	out, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, []string{"collision_id", "crash_date"}, out.Columns)
	require.Zero(t, out.Len())
}

func TestReadPlainCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv")
	require.NoError(t, os.WriteFile(path, []byte("collision_id,crash_date\n1,2024-01-01T00:00:00.000\n"), 0644))

	out, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, []string{"collision_id", "crash_date"}, out.Columns)
	require.Equal(t, [][]any{{"1", "2024-01-01T00:00:00.000"}}, out.Rows)
}

func TestWriteReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	big := types.NewTable("t", []string{"a"})
	for i := 0; i < 100; i++ {
		big.Rows = append(big.Rows, []any{"x"})
	}
	require.NoError(t, Write(path, big))

	small := types.NewTable("t", []string{"a"})
	small.Rows = [][]any{{"y"}}
	require.NoError(t, Write(path, small))

	out, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, [][]any{{"y"}}, out.Rows)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteRejectsRaggedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	in := types.NewTable("t", []string{"a", "b"})
	in.Rows = [][]any{{"1"}}
	err := Write(path, in)
	require.True(t, errors.Is(err, errors.ErrSnapshot))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "missing.csv"))
	require.True(t, errors.Is(err, errors.ErrSnapshot))

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("n:number\nabc\n"), 0644))
	_, err = Read(bad)
	require.True(t, errors.Is(err, errors.ErrSnapshot))
}

func TestManifestRoundTripAndChecksum(t *testing.T) {
	dir := t.TempDir()
	window, err := types.ParseWindow("2024-10-01T00:00:00", "2024-11-01T00:00:00")
	require.NoError(t, err)

	entity := types.DefaultEntities()[types.EntityCollisions]
	path := filepath.Join(dir, "data_raw_collisions.csv")
	require.NoError(t, Write(path, sampleTable()))

	m := NewManifest(NewRunID(), window)
	require.NoError(t, m.Add(entity, path, types.EntityCounts{Rows: 3, Pages: 1, Discarded: 2}, dir))

	manifestPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, WriteManifest(manifestPath, m))

	got, err := ReadManifest(manifestPath)
	require.NoError(t, err)
	require.Equal(t, m.RunID, got.RunID)
	require.Len(t, got.RunID, 26)

	gotWindow, err := got.GetWindow()
	require.NoError(t, err)
	require.True(t, gotWindow.Start.Equal(window.Start))
	require.True(t, gotWindow.End.Equal(window.End))

	entry, ok := got.Entry(types.EntityCollisions)
	require.True(t, ok)
	require.Equal(t, "data_raw_collisions.csv", entry.File)
	require.Equal(t, 3, entry.Rows)
	require.Equal(t, 2, entry.Discarded)
	require.NoError(t, entry.VerifyChecksum(dir))

	require.NoError(t, os.WriteFile(path, []byte("tampered\n"), 0644))
	err = entry.VerifyChecksum(dir)
	require.True(t, errors.Is(err, errors.ErrSnapshot))
	require.Contains(t, err.Error(), "snapshot data_raw_collisions.csv of collisions changed")

	_, ok = got.Entry(types.EntityPersons)
	require.False(t, ok)
}
