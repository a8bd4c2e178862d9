package sql

import (
	"strings"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// Validator checks a parsed statement against the schema registry. It runs
// before any row is fetched.
type Validator struct {
	registry *catalog.Registry
}

// NewValidator creates a validator over registry.
func NewValidator(registry *catalog.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks tables, aliases and column references. It rewrites the
// statement in place: USING clauses become ON equalities, and select-list
// aliases named in GROUP BY or HAVING are replaced by their expressions
// unless the primary table has a column of that name.
func (v *Validator) Validate(stmt *SelectStatement) error {
	if len(stmt.From) == 0 {
		return newError(ErrMissingFromClause, "SELECT needs a FROM clause")
	}

	var missing []string
	for _, src := range stmt.From {
		if !v.registry.HasTable(src.Table) && !contains(missing, src.Table) {
			missing = append(missing, src.Table)
		}
	}
	if len(missing) > 0 {
		return newError(ErrUnknownTable, "%s, available tables: %s",
			notExist(missing, "table", "tables"), strings.Join(v.registry.Tables(), ", "))
	}

	aliases := make(map[string]int, len(stmt.From))
	for i, src := range stmt.From {
		if _, dup := aliases[src.Alias]; dup {
			return newError(ErrDuplicateAlias, "alias %q is used more than once in FROM", src.Alias)
		}
		aliases[src.Alias] = i
	}

	if err := v.expandUsing(stmt); err != nil {
		return err
	}

	v.resolveAliases(stmt)

	if err := checkAggregates(stmt); err != nil {
		return err
	}

	return v.checkColumns(stmt, aliases)
}

// expandUsing rewrites JOIN ... USING (c) into ON left.c = right.c, where
// left is the nearest earlier source whose table has c.
func (v *Validator) expandUsing(stmt *SelectStatement) error {
	for i := range stmt.From {
		right := &stmt.From[i]
		if len(right.Using) == 0 {
			continue
		}

		var cond Expr
		for _, col := range right.Using {
			if !v.registry.HasColumn(right.Table, col) {
				return newError(ErrUnknownColumn, "USING column %q does not exist in %s", col, right.Table)
			}
			left := -1
			for j := i - 1; j >= 0; j-- {
				if v.registry.HasColumn(stmt.From[j].Table, col) {
					left = j
					break
				}
			}
			if left < 0 {
				return newError(ErrUnknownColumn, "USING column %q does not exist on the left side of the join", col)
			}

			eq := &BinaryExpr{
				Op:    OpEq,
				Left:  &ColumnRef{Table: stmt.From[left].Alias, Column: col},
				Right: &ColumnRef{Table: right.Alias, Column: col},
			}
			if cond == nil {
				cond = eq
			} else {
				cond = &BinaryExpr{Op: OpAnd, Left: cond, Right: eq}
			}
		}
		right.On = cond
		right.Using = nil
	}
	return nil
}

// resolveAliases substitutes select-list aliases in GROUP BY and HAVING.
// Columns of the FROM tables take precedence there; ORDER BY prefers the
// alias and was resolved by the parser.
func (v *Validator) resolveAliases(stmt *SelectStatement) {
	primary := stmt.PrimaryTable()
	isColumn := func(name string) bool {
		return v.registry.HasColumn(primary, name)
	}
	for i, g := range stmt.GroupBy {
		stmt.GroupBy[i] = substituteAliases(g, stmt.Columns, isColumn)
	}
	stmt.Having = substituteAliases(stmt.Having, stmt.Columns, isColumn)
}

func checkAggregates(stmt *SelectStatement) error {
	if containsAggregate(stmt.Where) {
		return newError(ErrUnsupported, "aggregate functions are not allowed in WHERE")
	}
	for _, src := range stmt.From {
		if containsAggregate(src.On) {
			return newError(ErrUnsupported, "aggregate functions are not allowed in JOIN conditions")
		}
	}
	for _, g := range stmt.GroupBy {
		if containsAggregate(g) {
			return newError(ErrUnsupported, "aggregate functions are not allowed in GROUP BY")
		}
	}

	for _, expr := range stmt.exprs() {
		for _, agg := range collectAggregates(expr, nil) {
			if containsAggregate(agg.Arg) {
				return newError(ErrUnsupported, "aggregate function calls cannot be nested")
			}
		}
	}
	return nil
}

func (v *Validator) checkColumns(stmt *SelectStatement, aliases map[string]int) error {
	var (
		unknownAliases []string
		unknownColumns []string
		notJoined      []string
	)

	check := func(ref *ColumnRef, visible int) {
		alias := ref.Table
		if alias == "" {
			alias = stmt.PrimaryAlias()
		}
		idx, ok := aliases[alias]
		if !ok {
			if !contains(unknownAliases, alias) {
				unknownAliases = append(unknownAliases, alias)
			}
			return
		}
		if ref.Star {
			return
		}
		name := ref.String()
		if !v.registry.HasColumn(stmt.From[idx].Table, ref.Column) {
			if !contains(unknownColumns, name) {
				unknownColumns = append(unknownColumns, name)
			}
			return
		}
		if idx > visible && !contains(notJoined, name) {
			notJoined = append(notJoined, name)
		}
	}

	walk := func(expr Expr, visible int) {
		walkExpr(expr, func(e Expr) bool {
			if ref, ok := e.(*ColumnRef); ok {
				check(ref, visible)
			}
			return true
		})
	}

	all := len(stmt.From) - 1
	for _, c := range stmt.Columns {
		walk(c.Expr, all)
	}
	for i, src := range stmt.From {
		walk(src.On, i)
	}
	walk(stmt.Where, all)
	for _, g := range stmt.GroupBy {
		walk(g, all)
	}
	walk(stmt.Having, all)
	for _, o := range stmt.OrderBy {
		walk(o.Expr, all)
	}

	if len(unknownAliases) > 0 {
		return newError(ErrUnknownTable, "%s in FROM",
			notExist(unknownAliases, "table or alias", "tables or aliases"))
	}
	if len(unknownColumns) > 0 {
		return newError(ErrUnknownColumn, "%s", notExist(unknownColumns, "column", "columns"))
	}
	if len(notJoined) > 0 {
		return newError(ErrUnknownColumn, "%s referenced in ON before its table is joined", quoteList(notJoined))
	}
	return nil
}

// exprs returns every expression of the statement that may hold aggregates.
func (s *SelectStatement) exprs() []Expr {
	out := make([]Expr, 0, len(s.Columns)+len(s.OrderBy)+1)
	for _, c := range s.Columns {
		out = append(out, c.Expr)
	}
	if s.Having != nil {
		out = append(out, s.Having)
	}
	for _, o := range s.OrderBy {
		out = append(out, o.Expr)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ", ")
}

// notExist renders "column 'x' does not exist" or "columns 'x', 'y' do not exist".
func notExist(items []string, one, many string) string {
	if len(items) == 1 {
		return one + " " + quoteList(items) + " does not exist"
	}
	return many + " " + quoteList(items) + " do not exist"
}
