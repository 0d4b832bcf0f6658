package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	driver "github.com/go-sql-driver/mysql"

	"github.com/Rana718/crashetl/internal/database/common"
	"github.com/Rana718/crashetl/internal/types"
)

const maxParams = 65535

type Adapter struct {
	db *sql.DB
	qb squirrel.StatementBuilderType

	// guards the staging table swap per target table
	mu    sync.Mutex
	swaps map[string]*sync.Mutex
}

var typeMap = map[types.ColumnType]string{
	types.ColumnText:      "LONGTEXT",
	types.ColumnInteger:   "BIGINT",
	types.ColumnFloat:     "DOUBLE",
	types.ColumnBoolean:   "BOOLEAN",
	types.ColumnTimestamp: "DATETIME(3)",
	types.ColumnJSON:      "JSON",
}

func New() *Adapter {
	return &Adapter{
		qb:    squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		swaps: make(map[string]*sync.Mutex),
	}
}

// toDSN accepts either a driver DSN or a mysql:// URL.
func toDSN(url string) (string, error) {
	dsn := url
	if strings.HasPrefix(url, "mysql://") {
		dsn = strings.TrimPrefix(url, "mysql://")

		if at := strings.LastIndex(dsn, "@"); at > 0 {
			credentials := dsn[:at]
			remainder := dsn[at+1:]

			if slash := strings.Index(remainder, "/"); slash > 0 {
				hostPort := remainder[:slash]
				dbAndParams := remainder[slash+1:]

				dbAndParams = strings.ReplaceAll(dbAndParams, "ssl-mode=REQUIRED", "tls=skip-verify")
				dbAndParams = strings.ReplaceAll(dbAndParams, "ssl-mode=DISABLED", "tls=false")
				dbAndParams = strings.ReplaceAll(dbAndParams, "sslmode=require", "tls=skip-verify")
				dbAndParams = strings.ReplaceAll(dbAndParams, "sslmode=disable", "tls=false")

				dsn = fmt.Sprintf("%s@tcp(%s)/%s", credentials, hostPort, dbAndParams)
			}
		}
	}

	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = false
	return cfg.FormatDSN(), nil
}

func (m *Adapter) Connect(ctx context.Context, url string) error {
	dsn, err := toDSN(url)
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	m.db = db
	return nil
}

func (m *Adapter) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *Adapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// ExecuteScript runs the script in one transaction. MySQL commits DDL
// implicitly, so only the DML statements of a script are rolled back.
func (m *Adapter) ExecuteScript(ctx context.Context, script string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range common.ParseSQLStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w", i+1, describe(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit script transaction: %w", err)
	}
	return nil
}

func (m *Adapter) QueryTable(ctx context.Context, name string) (*common.QueryResult, error) {
	query, args, err := m.qb.Select("*").From(quote(name)).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", name, describe(err))
	}
	defer rows.Close()

	return common.ScanRows(rows)
}

func (m *Adapter) MapColumnType(t types.ColumnType) string {
	if mapped, ok := typeMap[t]; ok {
		return mapped
	}
	return "LONGTEXT"
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func describe(err error) error {
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		return fmt.Errorf("%w (error %d)", err, myErr.Number)
	}
	return err
}
