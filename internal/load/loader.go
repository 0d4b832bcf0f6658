package load

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rana718/crashetl/internal/database"
	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/schema"
	"github.com/Rana718/crashetl/internal/types"
)

// Loader full-replaces raw tables. Loads of one table name are serialized;
// different tables may load concurrently.
type Loader struct {
	db database.DatabaseAdapter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db database.DatabaseAdapter) *Loader {
	return &Loader{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

type Request struct {
	Table string
	Data  *types.Table
	// Hints type all-null columns, see schema.Options.
	Hints map[string]types.ColumnType
}

// ForEntity builds a request that keeps the entity's key and timestamp
// columns joinable even when the window produced no rows.
func ForEntity(entity types.Entity, data *types.Table) Request {
	return Request{
		Table: entity.Table,
		Data:  data,
		Hints: map[string]types.ColumnType{
			entity.KeyField:       types.ColumnInteger,
			entity.TimestampField: types.ColumnTimestamp,
		},
	}
}

func (l *Loader) lock(table string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[table]
	if !ok {
		m = &sync.Mutex{}
		l.locks[table] = m
	}
	return m
}

// Load replaces req.Table with req.Data and returns the number of rows loaded.
// On any failure the previous contents of the table are left untouched.
func (l *Loader) Load(ctx context.Context, req Request) (int, error) {
	if req.Table == "" {
		return 0, errors.WrapError(nil, errors.ErrLoad, "table name is required")
	}
	if req.Data == nil {
		return 0, errors.WrapError(nil, errors.ErrLoad, fmt.Sprintf("no data for %s", req.Table))
	}

	columns, err := schema.Infer(req.Data, schema.Options{Hints: req.Hints})
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrLoad, fmt.Sprintf("schema inference failed for %s", req.Table))
	}
	rows, err := schema.ConvertRows(req.Data, columns)
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrLoad, fmt.Sprintf("failed to convert rows for %s", req.Table))
	}

	m := l.lock(req.Table)
	m.Lock()
	defer m.Unlock()

	if err := l.db.ReplaceTable(ctx, req.Table, columns, rows); err != nil {
		return 0, errors.WrapError(err, errors.ErrLoad, fmt.Sprintf("failed to load %s", req.Table))
	}
	return len(rows), nil
}

// Summary reports row counts of the three raw tables and the average number
// of vehicles and persons per crash.
func (l *Loader) Summary(ctx context.Context, entities map[string]types.Entity) (types.LoadSummary, error) {
	counts := make(map[string]int, len(types.EntityOrder))
	for _, name := range types.EntityOrder {
		entity, ok := entities[name]
		if !ok {
			return types.LoadSummary{}, errors.WrapError(nil, errors.ErrLoad, fmt.Sprintf("unknown entity %s", name))
		}
		n, err := l.db.GetTableRowCount(ctx, entity.Table)
		if err != nil {
			return types.LoadSummary{}, errors.WrapError(err, errors.ErrLoad, fmt.Sprintf("failed to count %s", entity.Table))
		}
		counts[name] = n
	}

	summary := types.LoadSummary{
		Collisions: counts[types.EntityCollisions],
		Vehicles:   counts[types.EntityVehicles],
		Persons:    counts[types.EntityPersons],
	}
	if summary.Collisions > 0 {
		summary.VehiclesPerCrash = float64(summary.Vehicles) / float64(summary.Collisions)
		summary.PersonsPerCrash = float64(summary.Persons) / float64(summary.Collisions)
	}
	return summary, nil
}
