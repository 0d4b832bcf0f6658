package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Rana718/crashetl/internal/database/common"
	"github.com/Rana718/crashetl/internal/types"
)

// maxParams stays under the SQLITE_MAX_VARIABLE_NUMBER of older builds.
const maxParams = 999

type Adapter struct {
	db *sql.DB
	qb squirrel.StatementBuilderType

	// SQLite has a single writer; loads of different tables queue here
	// instead of failing with SQLITE_BUSY.
	writeMu sync.Mutex
}

var typeMap = map[types.ColumnType]string{
	types.ColumnText:      "TEXT",
	types.ColumnInteger:   "INTEGER",
	types.ColumnFloat:     "REAL",
	types.ColumnBoolean:   "BOOLEAN",
	types.ColumnTimestamp: "TIMESTAMP",
	types.ColumnJSON:      "TEXT",
}

func New() *Adapter {
	return &Adapter{
		qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

func (s *Adapter) Connect(ctx context.Context, url string) error {
	dbPath := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite://"), "sqlite3://")
	if !strings.Contains(dbPath, "?") {
		dbPath += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to open SQLite database %s: %w", dbPath, err)
	}

	s.db = db
	return nil
}

func (s *Adapter) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Adapter) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Adapter) ExecuteScript(ctx context.Context, script string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range common.ParseSQLStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit script transaction: %w", err)
	}
	return nil
}

func (s *Adapter) QueryTable(ctx context.Context, name string) (*common.QueryResult, error) {
	query, args, err := s.qb.Select("*").From(quote(name)).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", name, err)
	}
	defer rows.Close()

	return common.ScanRows(rows)
}

func (s *Adapter) MapColumnType(t types.ColumnType) string {
	if mapped, ok := typeMap[t]; ok {
		return mapped
	}
	return "TEXT"
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
