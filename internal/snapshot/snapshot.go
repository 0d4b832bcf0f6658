package snapshot

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/types"
)

// Write serializes table to path as CSV, replacing any existing file. The
// file is written to a temp file in the same directory and renamed into place.
func Write(path string, table *types.Table) error {
	if table == nil {
		return errors.WrapError(nil, errors.ErrSnapshot, "nil table")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, "failed to create snapshot directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, "failed to create temp snapshot")
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, table); err != nil {
		tmp.Close()
		return errors.WrapError(err, errors.ErrSnapshot, fmt.Sprintf("failed to write %s", path))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WrapError(err, errors.ErrSnapshot, "failed to sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, "failed to close snapshot")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapError(err, errors.ErrSnapshot, "failed to move snapshot into place")
	}
	return nil
}

func encode(w io.Writer, table *types.Table) error {
	kinds := make([]Kind, len(table.Columns))
	header := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		values, _ := table.Column(col)
		kinds[i] = columnKind(values)
		header[i] = headerCell(col, kinds[i])
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}

	record := make([]string, len(table.Columns))
	for r, row := range table.Rows {
		if len(row) != len(table.Columns) {
			return fmt.Errorf("row %d has %d values for %d columns", r, len(row), len(table.Columns))
		}
		for i, v := range row {
			cell, err := encodeCell(kinds[i], v)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", r, table.Columns[i], err)
			}
			record[i] = cell
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// Read parses a snapshot written by Write. Plain CSV files without kinds in
// the header load as text columns.
func Read(path string) (*types.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrSnapshot, fmt.Sprintf("failed to open %s", path))
	}
	defer f.Close()

	table, err := decode(f)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrSnapshot, fmt.Sprintf("failed to read %s", path))
	}
	return table, nil
}

func decode(r io.Reader) (*types.Table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return types.NewTable("", []string{}), nil
	}
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(header))
	kinds := make([]Kind, len(header))
	for i, cell := range header {
		columns[i], kinds[i] = parseHeaderCell(cell)
	}

	table := types.NewTable("", columns)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make([]any, len(columns))
		for i, cell := range record {
			v, err := decodeCell(kinds[i], cell)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", len(table.Rows)+2, columns[i], err)
			}
			row[i] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Checksum returns the hex sha256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
