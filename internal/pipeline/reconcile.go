package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Rana718/crashetl/internal/types"
)

// Reconciliation is the cross-entity consistency check run after fetching.
type Reconciliation struct {
	// Orphans counts child rows whose key has no matching collision.
	Orphans   map[string]int
	Truncated []string
}

func (r Reconciliation) Clean() bool {
	return len(r.Truncated) == 0 && r.TotalOrphans() == 0
}

func (r Reconciliation) TotalOrphans() int {
	total := 0
	for _, n := range r.Orphans {
		total += n
	}
	return total
}

func (r Reconciliation) String() string {
	var parts []string
	names := make([]string, 0, len(r.Orphans))
	for name := range r.Orphans {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if n := r.Orphans[name]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s rows reference collisions outside the fetched set", n, name))
		}
	}
	for _, name := range r.Truncated {
		parts = append(parts, fmt.Sprintf("%s hit its row cap", name))
	}
	return strings.Join(parts, "; ")
}

// Reconcile compares the vehicle and person keys with the collision keys.
// tables is keyed by entity name.
func Reconcile(entities map[string]types.Entity, tables map[string]*types.Table, counts []types.EntityCounts) Reconciliation {
	result := Reconciliation{Orphans: make(map[string]int)}

	collisions := entities[types.EntityCollisions]
	known := make(map[string]struct{})
	if table := tables[types.EntityCollisions]; table != nil {
		ids, _ := table.Column(collisions.KeyField)
		for _, id := range ids {
			if key, ok := keyOf(id); ok {
				known[key] = struct{}{}
			}
		}
	}

	for _, name := range []string{types.EntityVehicles, types.EntityPersons} {
		table := tables[name]
		if table == nil {
			continue
		}
		orphans := 0
		ids, ok := table.Column(entities[name].KeyField)
		if !ok {
			orphans = table.Len()
		}
		for _, id := range ids {
			key, ok := keyOf(id)
			if !ok {
				orphans++
				continue
			}
			if _, found := known[key]; !found {
				orphans++
			}
		}
		result.Orphans[name] = orphans
	}

	for _, c := range counts {
		if c.Truncated {
			result.Truncated = append(result.Truncated, c.Entity)
		}
	}
	return result
}

// keyOf normalizes string and numeric keys so "42" and 42 match.
func keyOf(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), x != ""
	case json.Number:
		return x.String(), true
	case nil:
		return "", false
	}
	return fmt.Sprint(v), true
}
