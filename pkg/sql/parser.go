package sql

import (
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// Leading keywords of statements that change data, schema or session state.
// Text starting with one of these is rejected as a mutation even when the
// parser cannot make sense of the rest of it.
var mutationKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"create": true, "alter": true, "truncate": true, "replace": true,
	"merge": true, "upsert": true, "grant": true, "revoke": true,
	"commit": true, "rollback": true, "savepoint": true, "set": true,
	"declare": true, "exec": true, "execute": true, "call": true,
	"pragma": true, "begin": true, "start": true, "transaction": true,
	"lock": true, "unlock": true, "rename": true, "load": true,
}

// Parse turns SQL text into a SelectStatement. Only the statement-level
// checks happen here; schema checks belong to the Validator.
func Parse(text string) (*SelectStatement, error) {
	text = strings.TrimSpace(text)

	switch n := countStatements(text); {
	case n == 0:
		return nil, newError(ErrSyntaxInvalid, "empty query")
	case n > 1:
		return nil, newError(ErrMultiStatement, "%d statements submitted, only one is allowed", n)
	}

	text = strings.TrimRight(text, "; \t\r\n")
	stmt, err := sqlparser.Parse(text)
	if err != nil {
		if kw := leadingKeyword(text); mutationKeywords[kw] {
			return nil, newError(ErrMutationRejected, "%s statements are not allowed, only SELECT", strings.ToUpper(kw))
		}
		return nil, wrapError(ErrSyntaxInvalid, err, "%v", err)
	}

	switch s := stmt.(type) {
	case *sqlparser.Select:
		return convertSelect(s)
	case *sqlparser.ParenSelect:
		if inner, ok := s.Select.(*sqlparser.Select); ok {
			return convertSelect(inner)
		}
		return nil, newError(ErrUnsupported, "UNION is not supported")
	case *sqlparser.Union:
		return nil, newError(ErrUnsupported, "UNION is not supported")
	default:
		return nil, newError(ErrMutationRejected, "%s statements are not allowed, only SELECT", statementKind(stmt))
	}
}

// countStatements counts the non-empty statements in text. Semicolons inside
// literals and comments do not split. Counting stops at the first lexical
// error; the parser reports that one.
func countStatements(text string) int {
	tkn := sqlparser.NewStringTokenizer(text)
	count, pending := 0, false
	for {
		typ, _ := tkn.Scan()
		switch typ {
		case 0, sqlparser.LEX_ERROR:
			if pending {
				count++
			}
			return count
		case ';':
			if pending {
				count++
				pending = false
			}
		case sqlparser.COMMENT:
		default:
			pending = true
		}
	}
}

// leadingKeyword returns the first non-comment token of text, lowercased.
func leadingKeyword(text string) string {
	tkn := sqlparser.NewStringTokenizer(text)
	for {
		typ, val := tkn.Scan()
		switch typ {
		case 0, sqlparser.LEX_ERROR:
			return ""
		case sqlparser.COMMENT:
			continue
		default:
			return strings.ToLower(string(val))
		}
	}
}

func statementKind(stmt sqlparser.Statement) string {
	switch s := stmt.(type) {
	case *sqlparser.Insert:
		return strings.ToUpper(s.Action)
	case *sqlparser.Update:
		return "UPDATE"
	case *sqlparser.Delete:
		return "DELETE"
	case *sqlparser.DDL:
		return strings.ToUpper(s.Action)
	case *sqlparser.DBDDL:
		return strings.ToUpper(s.Action) + " DATABASE"
	case *sqlparser.Set:
		return "SET"
	case *sqlparser.Begin:
		return "BEGIN"
	case *sqlparser.Commit:
		return "COMMIT"
	case *sqlparser.Rollback:
		return "ROLLBACK"
	case *sqlparser.Show:
		return "SHOW"
	case *sqlparser.Use:
		return "USE"
	default:
		return "non-SELECT"
	}
}

func convertSelect(sel *sqlparser.Select) (*SelectStatement, error) {
	stmt := &SelectStatement{Distinct: sel.Distinct != ""}

	if isDual(sel.From) {
		return nil, newError(ErrMissingFromClause, "SELECT needs a FROM clause")
	}
	for _, te := range sel.From {
		if err := appendSources(&stmt.From, te); err != nil {
			return nil, err
		}
	}

	for _, se := range sel.SelectExprs {
		col, err := convertSelectExpr(se)
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
	}

	if sel.Where != nil {
		where, err := convertExpr(sel.Where.Expr)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	for _, g := range sel.GroupBy {
		expr, err := convertExpr(g)
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = append(stmt.GroupBy, expr)
	}

	if sel.Having != nil {
		having, err := convertExpr(sel.Having.Expr)
		if err != nil {
			return nil, err
		}
		stmt.Having = having
	}

	for _, o := range sel.OrderBy {
		item, err := convertOrder(o, stmt.Columns)
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = append(stmt.OrderBy, item)
	}

	if sel.Limit != nil {
		if sel.Limit.Rowcount != nil {
			n, err := intLiteral(sel.Limit.Rowcount, "LIMIT")
			if err != nil {
				return nil, err
			}
			stmt.Limit = &n
		}
		if sel.Limit.Offset != nil {
			n, err := intLiteral(sel.Limit.Offset, "OFFSET")
			if err != nil {
				return nil, err
			}
			stmt.Offset = n
		}
	}

	return stmt, nil
}

// isDual reports whether the FROM list is the implicit one the parser
// inserts for a SELECT without FROM.
func isDual(from sqlparser.TableExprs) bool {
	if len(from) != 1 {
		return false
	}
	ate, ok := from[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return false
	}
	name, ok := ate.Expr.(sqlparser.TableName)
	return ok && name.Qualifier.IsEmpty() && strings.EqualFold(name.Name.String(), "dual")
}

// appendSources flattens a FROM entry into left-deep table sources.
func appendSources(out *[]TableSource, te sqlparser.TableExpr) error {
	switch t := te.(type) {
	case *sqlparser.AliasedTableExpr:
		name, ok := t.Expr.(sqlparser.TableName)
		if !ok {
			return newError(ErrUnsupported, "subqueries in FROM are not supported")
		}
		if !name.Qualifier.IsEmpty() {
			return newError(ErrUnsupported, "schema-qualified table %s is not supported", sqlparser.String(name))
		}
		src := TableSource{Table: strings.ToLower(name.Name.String())}
		src.Alias = src.Table
		if !t.As.IsEmpty() {
			src.Alias = strings.ToLower(t.As.String())
		}
		*out = append(*out, src)
		return nil

	case *sqlparser.ParenTableExpr:
		for _, inner := range t.Exprs {
			if err := appendSources(out, inner); err != nil {
				return err
			}
		}
		return nil

	case *sqlparser.JoinTableExpr:
		switch t.Join {
		case sqlparser.JoinStr, sqlparser.StraightJoinStr:
		default:
			return newError(ErrUnsupported, "%s is not supported, only inner joins", strings.ToUpper(t.Join))
		}
		if err := appendSources(out, t.LeftExpr); err != nil {
			return err
		}

		var right []TableSource
		if err := appendSources(&right, t.RightExpr); err != nil {
			return err
		}
		if len(right) != 1 {
			return newError(ErrUnsupported, "nested joins on the right side of JOIN are not supported")
		}
		src := right[0]
		if t.Condition.On != nil {
			on, err := convertExpr(t.Condition.On)
			if err != nil {
				return err
			}
			src.On = on
		}
		for _, col := range t.Condition.Using {
			src.Using = append(src.Using, col.Lowered())
		}
		*out = append(*out, src)
		return nil

	default:
		return newError(ErrUnsupported, "unsupported FROM expression %s", sqlparser.String(te))
	}
}

func convertSelectExpr(se sqlparser.SelectExpr) (SelectColumn, error) {
	switch s := se.(type) {
	case *sqlparser.StarExpr:
		ref := &ColumnRef{Star: true}
		if !s.TableName.IsEmpty() {
			ref.Table = strings.ToLower(s.TableName.Name.String())
		}
		return SelectColumn{Expr: ref, Text: sqlparser.String(s)}, nil
	case *sqlparser.AliasedExpr:
		expr, err := convertExpr(s.Expr)
		if err != nil {
			return SelectColumn{}, err
		}
		return SelectColumn{Expr: expr, Alias: s.As.String(), Text: sqlparser.String(s.Expr)}, nil
	default:
		return SelectColumn{}, newError(ErrUnsupported, "unsupported select expression %s", sqlparser.String(se))
	}
}

func convertOrder(o *sqlparser.Order, columns []SelectColumn) (OrderItem, error) {
	item := OrderItem{Desc: o.Direction == sqlparser.DescScr}

	// ORDER BY <n> sorts by the n-th select item.
	if val, ok := o.Expr.(*sqlparser.SQLVal); ok && val.Type == sqlparser.IntVal {
		n, err := strconv.Atoi(string(val.Val))
		if err != nil || n < 1 || n > len(columns) {
			return item, newError(ErrUnknownColumn, "ORDER BY position %s is out of range", val.Val)
		}
		if ref, ok := columns[n-1].Expr.(*ColumnRef); ok && ref.Star {
			return item, newError(ErrUnsupported, "ORDER BY position %d refers to a wildcard", n)
		}
		item.Expr = columns[n-1].Expr
		return item, nil
	}

	expr, err := convertExpr(o.Expr)
	if err != nil {
		return item, err
	}
	item.Expr = substituteAliases(expr, columns, nil)
	return item, nil
}

func intLiteral(e sqlparser.Expr, clause string) (int, error) {
	val, ok := e.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return 0, newError(ErrSyntaxInvalid, "%s must be an integer literal", clause)
	}
	n, err := strconv.Atoi(string(val.Val))
	if err != nil || n < 0 {
		return 0, newError(ErrSyntaxInvalid, "%s must be a non-negative integer, got %s", clause, val.Val)
	}
	return n, nil
}

var comparisonOps = map[string]BinaryOp{
	sqlparser.EqualStr:        OpEq,
	sqlparser.NotEqualStr:     OpNe,
	sqlparser.LessThanStr:     OpLt,
	sqlparser.GreaterThanStr:  OpGt,
	sqlparser.LessEqualStr:    OpLe,
	sqlparser.GreaterEqualStr: OpGe,
	sqlparser.LikeStr:         OpLike,
	sqlparser.InStr:           OpIn,
	sqlparser.NotInStr:        OpNotIn,
}

var arithmeticOps = map[string]BinaryOp{
	sqlparser.PlusStr:  OpAdd,
	sqlparser.MinusStr: OpSub,
	sqlparser.MultStr:  OpMul,
	sqlparser.DivStr:   OpDiv,
	sqlparser.ModStr:   OpMod,
}

// convertExpr maps a sqlparser expression onto the engine's expression nodes.
func convertExpr(e sqlparser.Expr) (Expr, error) {
	switch n := e.(type) {
	case *sqlparser.AndExpr:
		return convertBinary(OpAnd, n.Left, n.Right)
	case *sqlparser.OrExpr:
		return convertBinary(OpOr, n.Left, n.Right)
	case *sqlparser.NotExpr:
		return convertUnary(OpNot, n.Expr)
	case *sqlparser.ParenExpr:
		return convertExpr(n.Expr)

	case *sqlparser.ComparisonExpr:
		if n.Escape != nil {
			return nil, newError(ErrUnsupported, "LIKE ... ESCAPE is not supported")
		}
		if n.Operator == sqlparser.NotLikeStr {
			like, err := convertBinary(OpLike, n.Left, n.Right)
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: OpNot, Operand: like}, nil
		}
		op, ok := comparisonOps[n.Operator]
		if !ok {
			return nil, newError(ErrUnsupported, "operator %s is not supported", strings.ToUpper(n.Operator))
		}
		if op == OpIn || op == OpNotIn {
			return convertIn(op, n)
		}
		return convertBinary(op, n.Left, n.Right)

	case *sqlparser.RangeCond:
		left, err := convertExpr(n.Left)
		if err != nil {
			return nil, err
		}
		from, err := convertExpr(n.From)
		if err != nil {
			return nil, err
		}
		to, err := convertExpr(n.To)
		if err != nil {
			return nil, err
		}
		between := &BinaryExpr{
			Op:    OpAnd,
			Left:  &BinaryExpr{Op: OpGe, Left: left, Right: from},
			Right: &BinaryExpr{Op: OpLe, Left: left, Right: to},
		}
		if n.Operator == sqlparser.NotBetweenStr {
			return &UnaryExpr{Op: OpNot, Operand: between}, nil
		}
		return between, nil

	case *sqlparser.IsExpr:
		switch n.Operator {
		case sqlparser.IsNullStr:
			return convertUnary(OpIsNull, n.Expr)
		case sqlparser.IsNotNullStr:
			return convertUnary(OpIsNotNull, n.Expr)
		}
		return nil, newError(ErrUnsupported, "%s is not supported", strings.ToUpper(n.Operator))

	case *sqlparser.BinaryExpr:
		op, ok := arithmeticOps[n.Operator]
		if !ok {
			return nil, newError(ErrUnsupported, "operator %s is not supported", strings.ToUpper(n.Operator))
		}
		return convertBinary(op, n.Left, n.Right)

	case *sqlparser.UnaryExpr:
		switch n.Operator {
		case sqlparser.UPlusStr:
			return convertUnary(OpPlus, n.Expr)
		case sqlparser.UMinusStr:
			return convertUnary(OpMinus, n.Expr)
		case sqlparser.BangStr:
			return convertUnary(OpNot, n.Expr)
		}
		return nil, newError(ErrUnsupported, "operator %s is not supported", n.Operator)

	case *sqlparser.SQLVal:
		return convertSQLVal(n)
	case *sqlparser.NullVal:
		return &Literal{Value: catalog.Null()}, nil
	case sqlparser.BoolVal:
		return &Literal{Value: catalog.NewBool(bool(n))}, nil

	case *sqlparser.ColName:
		if !n.Qualifier.Qualifier.IsEmpty() {
			return nil, newError(ErrUnsupported, "schema-qualified column %s is not supported", sqlparser.String(n))
		}
		ref := &ColumnRef{Column: n.Name.Lowered()}
		if !n.Qualifier.IsEmpty() {
			ref.Table = strings.ToLower(n.Qualifier.Name.String())
		}
		return ref, nil

	case *sqlparser.FuncExpr:
		return convertFunc(n)

	case *sqlparser.Subquery, *sqlparser.ExistsExpr:
		return nil, newError(ErrUnsupported, "subqueries are not supported")
	case sqlparser.ValTuple:
		return nil, newError(ErrUnsupported, "row constructors are only allowed after IN")

	default:
		return nil, newError(ErrUnsupported, "unsupported expression %s", sqlparser.String(e))
	}
}

func convertBinary(op BinaryOp, l, r sqlparser.Expr) (Expr, error) {
	left, err := convertExpr(l)
	if err != nil {
		return nil, err
	}
	right, err := convertExpr(r)
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, Left: left, Right: right}, nil
}

func convertUnary(op UnaryOp, operand sqlparser.Expr) (Expr, error) {
	expr, err := convertExpr(operand)
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Op: op, Operand: expr}, nil
}

func convertIn(op BinaryOp, n *sqlparser.ComparisonExpr) (Expr, error) {
	tuple, ok := n.Right.(sqlparser.ValTuple)
	if !ok {
		return nil, newError(ErrUnsupported, "IN only accepts a literal list")
	}
	left, err := convertExpr(n.Left)
	if err != nil {
		return nil, err
	}
	list := &ListExpr{Items: make([]Expr, 0, len(tuple))}
	for _, item := range tuple {
		expr, err := convertExpr(item)
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, expr)
	}
	return &BinaryExpr{Op: op, Left: left, Right: list}, nil
}

func convertSQLVal(v *sqlparser.SQLVal) (Expr, error) {
	switch v.Type {
	case sqlparser.StrVal:
		return &Literal{Value: catalog.NewText(string(v.Val))}, nil
	case sqlparser.IntVal, sqlparser.FloatVal:
		f, err := strconv.ParseFloat(string(v.Val), 64)
		if err != nil {
			return nil, wrapError(ErrSyntaxInvalid, err, "invalid number %s", v.Val)
		}
		return &Literal{Value: catalog.NewNumber(f)}, nil
	case sqlparser.ValArg:
		return nil, newError(ErrUnsupported, "bind parameters are not supported")
	default:
		return nil, newError(ErrUnsupported, "unsupported literal %s", sqlparser.String(v))
	}
}

var aggregateFuncs = map[string]AggFunc{
	"count": AggCount,
	"sum":   AggSum,
	"avg":   AggAvg,
	"min":   AggMin,
	"max":   AggMax,
}

func convertFunc(f *sqlparser.FuncExpr) (Expr, error) {
	name := f.Name.Lowered()
	fn, ok := aggregateFuncs[name]
	if !ok || !f.Qualifier.IsEmpty() {
		return nil, newError(ErrUnsupported, "function %s is not supported", strings.ToUpper(name))
	}
	if len(f.Exprs) != 1 {
		return nil, newError(ErrSyntaxInvalid, "%s takes exactly one argument", strings.ToUpper(name))
	}

	call := &AggregateCall{Func: fn, Distinct: f.Distinct}
	switch arg := f.Exprs[0].(type) {
	case *sqlparser.StarExpr:
		if fn != AggCount || f.Distinct || !arg.TableName.IsEmpty() {
			return nil, newError(ErrSyntaxInvalid, "* is only valid as COUNT(*)")
		}
		call.Arg = &ColumnRef{Star: true}
	case *sqlparser.AliasedExpr:
		expr, err := convertExpr(arg.Expr)
		if err != nil {
			return nil, err
		}
		call.Arg = expr
	default:
		return nil, newError(ErrUnsupported, "unsupported argument to %s", strings.ToUpper(name))
	}
	return call, nil
}

// substituteAliases replaces unqualified column references that name a
// select-list alias with that item's expression. Names for which isColumn
// reports true stay column references.
func substituteAliases(expr Expr, columns []SelectColumn, isColumn func(string) bool) Expr {
	aliases := make(map[string]Expr)
	for _, c := range columns {
		if c.Alias != "" {
			aliases[strings.ToLower(c.Alias)] = c.Expr
		}
	}
	if len(aliases) == 0 {
		return expr
	}
	return rewriteExpr(expr, func(e Expr) Expr {
		if ref, ok := e.(*ColumnRef); ok && ref.Table == "" && !ref.Star {
			if isColumn != nil && isColumn(ref.Column) {
				return nil
			}
			if target, ok := aliases[ref.Column]; ok {
				return target
			}
		}
		return nil
	})
}

// rewriteExpr rebuilds expr bottom-up. When fn returns a non-nil node it
// replaces the visited node and its children are not visited.
func rewriteExpr(expr Expr, fn func(Expr) Expr) Expr {
	if expr == nil {
		return nil
	}
	if replaced := fn(expr); replaced != nil {
		return replaced
	}
	switch e := expr.(type) {
	case *BinaryExpr:
		return &BinaryExpr{Op: e.Op, Left: rewriteExpr(e.Left, fn), Right: rewriteExpr(e.Right, fn)}
	case *UnaryExpr:
		return &UnaryExpr{Op: e.Op, Operand: rewriteExpr(e.Operand, fn)}
	case *ListExpr:
		items := make([]Expr, len(e.Items))
		for i, item := range e.Items {
			items[i] = rewriteExpr(item, fn)
		}
		return &ListExpr{Items: items}
	case *AggregateCall:
		return &AggregateCall{Func: e.Func, Arg: rewriteExpr(e.Arg, fn), Distinct: e.Distinct}
	case *ColumnRef, *Literal:
		return expr
	}
	return expr
}
