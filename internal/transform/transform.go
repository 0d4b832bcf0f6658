package transform

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"github.com/Rana718/crashetl/internal/database"
	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/types"
)

//go:embed sql/collision_summary.sql
var collisionSummarySQL string

var collisionSummary = template.Must(template.New("collision_summary").Parse(collisionSummarySQL))

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Tables names the relations the built-in summary script reads and writes.
type Tables struct {
	Collisions string
	Vehicles   string
	Persons    string
	Summary    string
}

func TablesFor(entities map[string]types.Entity, summary string) Tables {
	return Tables{
		Collisions: entities[types.EntityCollisions].Table,
		Vehicles:   entities[types.EntityVehicles].Table,
		Persons:    entities[types.EntityPersons].Table,
		Summary:    summary,
	}
}

// DefaultScript renders the built-in collision summary script. Table names
// are spliced in unquoted, so they must be plain identifiers.
func DefaultScript(tables Tables) (string, error) {
	for _, name := range []string{tables.Collisions, tables.Vehicles, tables.Persons, tables.Summary} {
		if !identRegex.MatchString(name) {
			return "", errors.WrapError(nil, errors.ErrTransform, fmt.Sprintf("invalid table name %q", name))
		}
	}
	var buf bytes.Buffer
	if err := collisionSummary.Execute(&buf, tables); err != nil {
		return "", errors.WrapError(err, errors.ErrTransform, "failed to render summary script")
	}
	return buf.String(), nil
}

func ReadScript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrTransform, fmt.Sprintf("failed to read transform script %s", path))
	}
	return string(data), nil
}

// Transformer runs one SQL script against the store as a single unit.
type Transformer struct {
	db     database.DatabaseAdapter
	script string
}

func New(db database.DatabaseAdapter, script string) *Transformer {
	return &Transformer{db: db, script: script}
}

func (t *Transformer) Run(ctx context.Context) error {
	if strings.TrimSpace(t.script) == "" {
		return errors.WrapError(nil, errors.ErrTransform, "transform script is empty")
	}
	if err := t.db.ExecuteScript(ctx, t.script); err != nil {
		return errors.WrapError(err, errors.ErrTransform, "transform script failed")
	}
	return nil
}
