package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/Rana718/crashetl/internal/types"
)

func (p *Adapter) ReplaceTable(ctx context.Context, name string, columns []types.SchemaColumn, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %s has no columns", name)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", name, describe(err))
	}
	if _, err := tx.Exec(ctx, p.createTableSQL(name, columns)); err != nil {
		return fmt.Errorf("failed to create %s: %w", name, describe(err))
	}

	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{name}, names, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy rows into %s: %w", name, describe(err))
	}
	if int(copied) != len(rows) {
		return fmt.Errorf("copied %d of %d rows into %s", copied, len(rows), name)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit load of %s: %w", name, describe(err))
	}
	return nil
}

func (p *Adapter) createTableSQL(name string, columns []types.SchemaColumn) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		def := pq.QuoteIdentifier(col.Name) + " " + p.MapColumnType(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", pq.QuoteIdentifier(name), strings.Join(defs, ",\n  "))
}

func (p *Adapter) CheckTableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_name = $1 AND table_schema = current_schema()
		)
	`, name).Scan(&exists)
	return exists, err
}

func (p *Adapter) GetTableRowCount(ctx context.Context, name string) (int, error) {
	query, args, err := p.qb.Select("COUNT(*)").From(pq.QuoteIdentifier(name)).ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in table %s: %w", name, describe(err))
	}
	return count, nil
}

func (p *Adapter) GetAllTableNames(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
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
