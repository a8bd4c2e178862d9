package sql

import (
	"strconv"
	"strings"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// AST node types for the SELECT subset.

// Expr is the interface for all expression nodes. The set of
// implementations is closed; walkers switch over every variant.
type Expr interface {
	exprNode()
	String() string
}

// BinaryOp identifies a binary operator.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpGt
	OpLt
	OpGe
	OpLe
	OpAnd
	OpOr
	OpLike
	OpIn
	OpNotIn
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var binaryOpText = map[BinaryOp]string{
	OpEq:    "=",
	OpNe:    "!=",
	OpGt:    ">",
	OpLt:    "<",
	OpGe:    ">=",
	OpLe:    "<=",
	OpAnd:   "AND",
	OpOr:    "OR",
	OpLike:  "LIKE",
	OpIn:    "IN",
	OpNotIn: "NOT IN",
	OpAdd:   "+",
	OpSub:   "-",
	OpMul:   "*",
	OpDiv:   "/",
	OpMod:   "%",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpText[op]; ok {
		return s
	}
	return "?"
}

// UnaryOp identifies a unary operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpPlus
	OpMinus
	OpIsNull
	OpIsNotNull
)

// AggFunc names a supported aggregate function.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// BinaryExpr represents left <op> right.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

func (e *BinaryExpr) String() string {
	return "(" + e.Left.String() + " " + e.Op.String() + " " + e.Right.String() + ")"
}

// UnaryExpr represents <op> operand, or operand IS [NOT] NULL.
type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

func (e *UnaryExpr) String() string {
	switch e.Op {
	case OpNot:
		return "NOT " + e.Operand.String()
	case OpPlus:
		return "+" + e.Operand.String()
	case OpMinus:
		return "-" + e.Operand.String()
	case OpIsNull:
		return e.Operand.String() + " IS NULL"
	case OpIsNotNull:
		return e.Operand.String() + " IS NOT NULL"
	}
	return "?" + e.Operand.String()
}

// ColumnRef references a column, optionally qualified by a table alias.
// Star marks a wildcard (* or alias.*).
type ColumnRef struct {
	Table  string
	Column string
	Star   bool
}

func (*ColumnRef) exprNode() {}

func (e *ColumnRef) String() string {
	name := e.Column
	if e.Star {
		name = "*"
	}
	if e.Table != "" {
		return e.Table + "." + name
	}
	return name
}

// Literal is a constant value.
type Literal struct {
	Value catalog.Value
}

func (*Literal) exprNode() {}

func (e *Literal) String() string {
	if e.Value.Kind == catalog.KindText {
		return "'" + strings.ReplaceAll(e.Value.Text, "'", "''") + "'"
	}
	return e.Value.String()
}

// ListExpr is a parenthesized list, the right side of IN / NOT IN.
type ListExpr struct {
	Items []Expr
}

func (*ListExpr) exprNode() {}

func (e *ListExpr) String() string {
	parts := make([]string, len(e.Items))
	for i, item := range e.Items {
		parts[i] = item.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// AggregateCall is COUNT/SUM/AVG/MIN/MAX over an argument.
// Arg is a star ColumnRef for COUNT(*).
type AggregateCall struct {
	Func     AggFunc
	Arg      Expr
	Distinct bool
}

func (*AggregateCall) exprNode() {}

func (e *AggregateCall) String() string {
	arg := e.Arg.String()
	if e.Distinct {
		arg = "DISTINCT " + arg
	}
	return strings.ToUpper(string(e.Func)) + "(" + arg + ")"
}

// key is the row key under which the grouping stage stores this
// aggregate's result. It cannot collide with a qualified column key.
func (e *AggregateCall) key() string {
	return "\x00" + e.String()
}

// TableSource is one FROM-clause entry.
type TableSource struct {
	Table string
	Alias string
	// On filters the cross product with the sources before this one.
	// Always nil for the first source.
	On Expr
	// Using holds the USING columns until the validator expands them into On.
	Using []string
}

// SelectColumn is one item of the SELECT list.
type SelectColumn struct {
	Expr  Expr
	Alias string
	// Text is the source text of the item, used as the output name of
	// expressions that are neither columns nor aggregates.
	Text string
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// SelectStatement is a validated SELECT.
type SelectStatement struct {
	From     []TableSource
	Columns  []SelectColumn
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Limit    *int
	Offset   int
	Distinct bool
}

// PrimaryAlias returns the alias of the first FROM source.
func (s *SelectStatement) PrimaryAlias() string {
	if len(s.From) == 0 {
		return ""
	}
	return s.From[0].Alias
}

// PrimaryTable returns the table name of the first FROM source.
func (s *SelectStatement) PrimaryTable() string {
	if len(s.From) == 0 {
		return ""
	}
	return s.From[0].Table
}

// String renders the statement back to SQL. Used for logging.
func (s *SelectStatement) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Expr.String())
		if c.Alias != "" {
			b.WriteString(" AS " + c.Alias)
		}
	}
	for i, src := range s.From {
		switch {
		case i == 0:
			b.WriteString(" FROM ")
		default:
			b.WriteString(" JOIN ")
		}
		b.WriteString(src.Table)
		if src.Alias != src.Table {
			b.WriteString(" " + src.Alias)
		}
		if src.On != nil {
			b.WriteString(" ON " + src.On.String())
		}
	}
	if s.Where != nil {
		b.WriteString(" WHERE " + s.Where.String())
	}
	for i, g := range s.GroupBy {
		if i == 0 {
			b.WriteString(" GROUP BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(g.String())
	}
	if s.Having != nil {
		b.WriteString(" HAVING " + s.Having.String())
	}
	for i, o := range s.OrderBy {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(o.Expr.String())
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*s.Limit))
	}
	if s.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(s.Offset))
	}
	return b.String()
}

// walkExpr calls fn for expr and every node beneath it, depth first.
// Returning false from fn skips that node's children.
func walkExpr(expr Expr, fn func(Expr) bool) {
	if expr == nil || !fn(expr) {
		return
	}
	switch e := expr.(type) {
	case *BinaryExpr:
		walkExpr(e.Left, fn)
		walkExpr(e.Right, fn)
	case *UnaryExpr:
		walkExpr(e.Operand, fn)
	case *ListExpr:
		for _, item := range e.Items {
			walkExpr(item, fn)
		}
	case *AggregateCall:
		walkExpr(e.Arg, fn)
	case *ColumnRef, *Literal:
	}
}

// containsAggregate reports whether expr contains an aggregate call.
func containsAggregate(expr Expr) bool {
	found := false
	walkExpr(expr, func(e Expr) bool {
		if _, ok := e.(*AggregateCall); ok {
			found = true
			return false
		}
		return !found
	})
	return found
}

// collectAggregates returns every aggregate call in expr, outermost first.
// Nested aggregates are not descended into.
func collectAggregates(expr Expr, out []*AggregateCall) []*AggregateCall {
	walkExpr(expr, func(e Expr) bool {
		if agg, ok := e.(*AggregateCall); ok {
			out = append(out, agg)
			return false
		}
		return true
	})
	return out
}
