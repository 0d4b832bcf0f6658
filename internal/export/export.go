package export

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Rana718/crashetl/internal/database"
	"github.com/Rana718/crashetl/internal/database/common"
	"github.com/Rana718/crashetl/internal/errors"
)

const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatSQLite = "sqlite"
)

type Exporter struct {
	db database.DatabaseAdapter
}

func New(db database.DatabaseAdapter) *Exporter {
	return &Exporter{db: db}
}

// Export writes every row of table to path and returns the row count. The
// file is only replaced once it has been written completely.
func (e *Exporter) Export(ctx context.Context, table, path, format string) (int, error) {
	exists, err := e.db.CheckTableExists(ctx, table)
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrExport, fmt.Sprintf("failed to check table %s", table))
	}
	if !exists {
		return 0, errors.WrapError(nil, errors.ErrExport, fmt.Sprintf("table %s does not exist", table))
	}

	result, err := e.db.QueryTable(ctx, table)
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrExport, fmt.Sprintf("failed to read %s", table))
	}

	switch format {
	case FormatCSV, "":
		err = writeAtomic(path, func(w io.Writer) error { return writeCSV(w, result) })
	case FormatJSON:
		err = writeAtomic(path, func(w io.Writer) error { return writeJSON(w, result) })
	case FormatSQLite:
		err = writeSQLite(ctx, path, table, result)
	default:
		return 0, errors.WrapError(nil, errors.ErrExport, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrExport, fmt.Sprintf("failed to export %s to %s", table, path))
	}
	return len(result.Rows), nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)
	if err := write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeCSV(w io.Writer, result *common.QueryResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.Columns); err != nil {
		return err
	}

	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i, col := range result.Columns {
			record[i] = formatCell(row[col])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

func writeJSON(w io.Writer, result *common.QueryResult) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for r, row := range result.Rows {
		var buf bytes.Buffer
		if r > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  {")
		for i, col := range result.Columns {
			if i > 0 {
				buf.WriteString(", ")
			}
			key, _ := json.Marshal(col)
			value, err := json.Marshal(jsonValue(row[col]))
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", r, col, err)
			}
			buf.Write(key)
			buf.WriteString(": ")
			buf.Write(value)
		}
		buf.WriteString("}")
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	if len(result.Rows) > 0 {
		_, err := io.WriteString(w, "\n]\n")
		return err
	}
	_, err := io.WriteString(w, "]\n")
	return err
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	}
	return v
}

// writeSQLite copies the result into a standalone SQLite file.
func writeSQLite(ctx context.Context, path, table string, result *common.QueryResult) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	defer os.Remove(tmpPath)

	db, err := sql.Open("sqlite3", tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create SQLite database: %w", err)
	}

	if err := fillSQLite(ctx, db, table, result); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func fillSQLite(ctx context.Context, db *sql.DB, table string, result *common.QueryResult) error {
	quoted := make([]string, len(result.Columns))
	placeholders := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		quoted[i] = quoteSQLite(col)
		placeholders[i] = "?"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quoteSQLite(table), strings.Join(quoted, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteSQLite(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	values := make([]any, len(result.Columns))
	for r, row := range result.Rows {
		for i, col := range result.Columns {
			values[i] = sqliteValue(row[col])
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", r, err)
		}
	}
	return tx.Commit()
}

func sqliteValue(v any) any {
	switch x := v.(type) {
	case map[string]any, []any:
		data, _ := json.Marshal(x)
		return string(data)
	}
	return v
}

func quoteSQLite(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
