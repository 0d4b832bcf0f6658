package mysql

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Rana718/crashetl/internal/database/common"
	"github.com/Rana718/crashetl/internal/types"
)

func (m *Adapter) tableLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.swaps[name]
	if !ok {
		l = &sync.Mutex{}
		m.swaps[name] = l
	}
	return l
}

// ReplaceTable fills a staging table and swaps it in with one RENAME TABLE,
// since MySQL DDL cannot be rolled back. The previous table survives any
// failure before the swap.
func (m *Adapter) ReplaceTable(ctx context.Context, name string, columns []types.SchemaColumn, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %s has no columns", name)
	}

	lock := m.tableLock(name)
	lock.Lock()
	defer lock.Unlock()

	staging := name + "__staging"
	retired := name + "__retired"

	if _, err := m.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(staging)+", "+quote(retired)); err != nil {
		return fmt.Errorf("failed to clear staging for %s: %w", name, describe(err))
	}
	if _, err := m.db.ExecContext(ctx, m.createTableSQL(staging, columns)); err != nil {
		return fmt.Errorf("failed to create %s: %w", staging, describe(err))
	}

	if err := m.fill(ctx, staging, columns, rows); err != nil {
		m.db.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+quote(staging))
		return err
	}

	exists, err := m.CheckTableExists(ctx, name)
	if err != nil {
		return err
	}
	rename := fmt.Sprintf("RENAME TABLE %s TO %s", quote(staging), quote(name))
	if exists {
		rename = fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s", quote(name), quote(retired), quote(staging), quote(name))
	}
	if _, err := m.db.ExecContext(ctx, rename); err != nil {
		return fmt.Errorf("failed to swap %s into place: %w", name, describe(err))
	}
	if exists {
		if _, err := m.db.ExecContext(ctx, "DROP TABLE "+quote(retired)); err != nil {
			return fmt.Errorf("failed to drop previous %s: %w", name, describe(err))
		}
	}
	return nil
}

func (m *Adapter) fill(ctx context.Context, table string, columns []types.SchemaColumn, rows [][]any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = quote(col.Name)
	}

	batch := common.BatchSize(len(columns), maxParams)
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		insert := m.qb.Insert(quote(table)).Columns(names...)
		for _, row := range rows[start:end] {
			insert = insert.Values(row...)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert for %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert rows %d-%d into %s: %w", start, end-1, table, describe(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rows into %s: %w", table, err)
	}
	return nil
}

func (m *Adapter) createTableSQL(name string, columns []types.SchemaColumn) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		def := quote(col.Name) + " " + m.MapColumnType(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(name), strings.Join(defs, ",\n  "))
}

func (m *Adapter) CheckTableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?
	`, name).Scan(&count)
	return count > 0, err
}

func (m *Adapter) GetTableRowCount(ctx context.Context, name string) (int, error) {
	query, args, err := m.qb.Select("COUNT(*)").From(quote(name)).ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in table %s: %w", name, describe(err))
	}
	return count, nil
}

func (m *Adapter) GetAllTableNames(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
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
