package types

import (
	"time"
)

// Table is an in-memory tabular result set. Cell values are nil, string,
// json.Number, bool, map[string]any or []any.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

func NewTable(name string, columns []string) *Table {
	return &Table{
		Name:    name,
		Columns: columns,
		Rows:    make([][]any, 0),
	}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of a column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Column returns every value of the named column in row order.
func (t *Table) Column(name string) ([]any, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values, true
}

type ColumnType string

const (
	ColumnText      ColumnType = "text"
	ColumnInteger   ColumnType = "integer"
	ColumnFloat     ColumnType = "float"
	ColumnBoolean   ColumnType = "boolean"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnJSON      ColumnType = "json"
)

type SchemaColumn struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

type SchemaTable struct {
	Name    string
	Columns []SchemaColumn
}

// Entity describes one remote dataset and the raw table it lands in.
type Entity struct {
	Name           string `json:"name" yaml:"name"`
	ResourceID     string `json:"resource" yaml:"resource"`
	Table          string `json:"table" yaml:"table"`
	TimestampField string `json:"timestamp_field" yaml:"timestamp_field"`
	KeyField       string `json:"key_field" yaml:"key_field"`
	RowCap         int    `json:"row_cap" yaml:"row_cap"`
}

const (
	EntityCollisions = "collisions"
	EntityVehicles   = "vehicles"
	EntityPersons    = "persons"
)

// EntityOrder is the fixed processing order of the three datasets.
var EntityOrder = []string{EntityCollisions, EntityVehicles, EntityPersons}

// DefaultEntities returns the NYC Open Data motor vehicle collision datasets.
func DefaultEntities() map[string]Entity {
	return map[string]Entity{
		EntityCollisions: {
			Name:           EntityCollisions,
			ResourceID:     "h9gi-nx95",
			Table:          "raw_collisions",
			TimestampField: "crash_date",
			KeyField:       "collision_id",
			RowCap:         10000,
		},
		EntityVehicles: {
			Name:           EntityVehicles,
			ResourceID:     "bm4k-52h4",
			Table:          "raw_collision_vehicles",
			TimestampField: "crash_date",
			KeyField:       "collision_id",
			RowCap:         25000,
		},
		EntityPersons: {
			Name:           EntityPersons,
			ResourceID:     "f55k-p6yu",
			Table:          "raw_collision_persons",
			TimestampField: "crash_date",
			KeyField:       "collision_id",
			RowCap:         25000,
		},
	}
}

type EntityCounts struct {
	Entity    string `json:"entity" yaml:"entity"`
	Table     string `json:"table" yaml:"table"`
	Rows      int    `json:"rows" yaml:"rows"`
	Pages     int    `json:"pages" yaml:"pages"`
	Discarded int    `json:"discarded" yaml:"discarded"`
	Truncated bool   `json:"truncated" yaml:"truncated"`
}

type LoadSummary struct {
	Collisions       int     `json:"collisions"`
	Vehicles         int     `json:"vehicles"`
	Persons          int     `json:"persons"`
	VehiclesPerCrash float64 `json:"vehicles_per_crash"`
	PersonsPerCrash  float64 `json:"persons_per_crash"`
}

type TableStatus struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
	Rows   int    `json:"rows"`
}

type RunReport struct {
	RunID      string         `json:"run_id"`
	Window     Window         `json:"window"`
	Entities   []EntityCounts `json:"entities"`
	Orphans    map[string]int `json:"orphans"`
	Summary    LoadSummary    `json:"summary"`
	ExportPath string         `json:"export_path"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
}
