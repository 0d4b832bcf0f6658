package database

import (
	"context"
	"fmt"

	"github.com/Rana718/crashetl/internal/database/common"
	"github.com/Rana718/crashetl/internal/database/mysql"
	"github.com/Rana718/crashetl/internal/database/postgres"
	"github.com/Rana718/crashetl/internal/database/sqlite"
	"github.com/Rana718/crashetl/internal/types"
)

// DatabaseAdapter is the relational store the pipeline loads into,
// transforms in and exports from.
type DatabaseAdapter interface {
	Connect(ctx context.Context, url string) error
	Close() error
	Ping(ctx context.Context) error

	// ReplaceTable drops and recreates name with columns and inserts rows as
	// one all-or-nothing unit. Rows hold values already converted for columns.
	ReplaceTable(ctx context.Context, name string, columns []types.SchemaColumn, rows [][]any) error

	// ExecuteScript runs every statement of script in one transaction.
	ExecuteScript(ctx context.Context, script string) error

	QueryTable(ctx context.Context, name string) (*common.QueryResult, error)
	CheckTableExists(ctx context.Context, name string) (bool, error)
	GetTableRowCount(ctx context.Context, name string) (int, error)
	GetAllTableNames(ctx context.Context) ([]string, error)

	MapColumnType(t types.ColumnType) string
}

func NewAdapter(provider string) (DatabaseAdapter, error) {
	switch provider {
	case "postgresql", "postgres":
		return postgres.New(), nil
	case "mysql":
		return mysql.New(), nil
	case "sqlite", "sqlite3":
		return sqlite.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database provider: %s", provider)
	}
}
