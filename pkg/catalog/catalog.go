package catalog

import (
	"strings"
)

// TableDef declares a table and its ordered column list.
type TableDef struct {
	Name    string
	Columns []string
}

// Registry is the immutable schema: table name -> ordered columns.
// It is built once and safe for concurrent reads.
type Registry struct {
	order   []string
	tables  map[string][]string
	columns map[string]map[string]struct{}
}

// NewRegistry builds a registry from table definitions. Names are matched
// case-insensitively and stored lowercase. A later definition of the same
// table replaces an earlier one.
func NewRegistry(defs ...TableDef) *Registry {
	r := &Registry{
		tables:  make(map[string][]string, len(defs)),
		columns: make(map[string]map[string]struct{}, len(defs)),
	}
	for _, def := range defs {
		name := strings.ToLower(def.Name)
		if _, seen := r.tables[name]; !seen {
			r.order = append(r.order, name)
		}
		cols := make([]string, len(def.Columns))
		set := make(map[string]struct{}, len(def.Columns))
		for i, c := range def.Columns {
			cols[i] = strings.ToLower(c)
			set[cols[i]] = struct{}{}
		}
		r.tables[name] = cols
		r.columns[name] = set
	}
	return r
}

// Tables returns table names in declaration order.
func (r *Registry) Tables() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HasTable reports whether the table exists.
func (r *Registry) HasTable(table string) bool {
	_, ok := r.tables[strings.ToLower(table)]
	return ok
}

// Columns returns a copy of the table's ordered column list.
func (r *Registry) Columns(table string) ([]string, bool) {
	cols, ok := r.tables[strings.ToLower(table)]
	if !ok {
		return nil, false
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return out, true
}

// HasColumn reports whether the table declares the column.
func (r *Registry) HasColumn(table, column string) bool {
	set, ok := r.columns[strings.ToLower(table)]
	if !ok {
		return false
	}
	_, ok = set[strings.ToLower(column)]
	return ok
}

// Portfolio returns the registry of the portfolio tables.
func Portfolio() *Registry {
	return NewRegistry(
		TableDef{Name: "personal_info", Columns: []string{
			"id", "name", "designation", "location", "experience_years",
			"email", "github", "linkedin", "bio", "created_at", "updated_at",
		}},
		TableDef{Name: "skills", Columns: []string{
			"id", "category", "skill", "proficiency", "created_at", "updated_at",
		}},
		TableDef{Name: "blogs", Columns: []string{
			"id", "title", "published_date", "category", "read_time", "views",
			"url", "status", "created_at", "updated_at",
		}},
		TableDef{Name: "experience", Columns: []string{
			"id", "company", "position", "start_date", "end_date", "description",
			"created_at", "updated_at",
		}},
	)
}
