package catalog

import (
	"strings"
	"testing"
)

func TestPortfolioRegistry(t *testing.T) {
	reg := Portfolio()

	want := []string{"personal_info", "skills", "blogs", "experience"}
	got := reg.Tables()
	if len(got) != len(want) {
		t.Fatalf("expected %d tables, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("table[%d] = %q, expected %q", i, got[i], want[i])
		}
	}

	cols, ok := reg.Columns("skills")
	if !ok {
		t.Fatal("skills table missing")
	}
	if strings.Join(cols, ",") != "id,category,skill,proficiency,created_at,updated_at" {
		t.Errorf("unexpected skills columns: %v", cols)
	}
}

func TestRegistryLookups(t *testing.T) {
	reg := NewRegistry(
		TableDef{Name: "Skills", Columns: []string{"ID", "Skill"}},
		TableDef{Name: "blogs", Columns: []string{"title"}},
	)

	tests := []struct {
		name   string
		table  string
		column string
		want   bool
	}{
		{"exact", "skills", "skill", true},
		{"mixed case table", "SKILLS", "id", true},
		{"mixed case column", "skills", "SKILL", true},
		{"missing column", "skills", "title", false},
		{"missing table", "nope", "id", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.HasColumn(tt.table, tt.column); got != tt.want {
				t.Errorf("HasColumn(%q, %q) = %v, expected %v", tt.table, tt.column, got, tt.want)
			}
		})
	}

	if !reg.HasTable("Blogs") {
		t.Error("expected Blogs to resolve case-insensitively")
	}
}

func TestRegistryColumnsIsCopy(t *testing.T) {
	reg := NewRegistry(TableDef{Name: "t", Columns: []string{"a", "b"}})

	cols, _ := reg.Columns("t")
	cols[0] = "mutated"

	again, _ := reg.Columns("t")
	if again[0] != "a" {
		t.Errorf("registry was mutated through Columns(): %v", again)
	}
}

func TestDefaultQuery(t *testing.T) {
	if q := DefaultQuery("skills"); q != "SELECT * FROM skills ORDER BY proficiency DESC;" {
		t.Errorf("unexpected skills default: %s", q)
	}
	if q := DefaultQuery("other"); q != "SELECT * FROM other;" {
		t.Errorf("unexpected fallback default: %s", q)
	}
	for _, qq := range QuickQueries() {
		if !Portfolio().HasTable(qq.Table) {
			t.Errorf("quick query %q targets unknown table %q", qq.Label, qq.Table)
		}
	}
}
