package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rana718/crashetl/internal/database/common"
	"github.com/Rana718/crashetl/internal/types"
)

func (s *Adapter) ReplaceTable(ctx context.Context, name string, columns []types.SchemaColumn, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %s has no columns", name)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, s.createTableSQL(name, columns)); err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = quote(col.Name)
	}

	batch := common.BatchSize(len(columns), maxParams)
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		insert := s.qb.Insert(quote(name)).Columns(names...)
		for _, row := range rows[start:end] {
			insert = insert.Values(row...)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert rows %d-%d into %s: %w", start, end-1, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit load of %s: %w", name, err)
	}
	return nil
}

func (s *Adapter) createTableSQL(name string, columns []types.SchemaColumn) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		def := quote(col.Name) + " " + s.MapColumnType(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(name), strings.Join(defs, ",\n  "))
}

func (s *Adapter) CheckTableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?",
		name).Scan(&exists)
	return exists, err
}

func (s *Adapter) GetTableRowCount(ctx context.Context, name string) (int, error) {
	query, args, err := s.qb.Select("COUNT(*)").From(quote(name)).ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in table %s: %w", name, err)
	}
	return count, nil
}

func (s *Adapter) GetAllTableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
