package sql

import (
	"math"
	"regexp"
	"strings"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
)

// Evaluator evaluates expressions against a single row. The same evaluator
// serves JOIN-ON, WHERE, HAVING and ORDER BY; only the row shape differs.
// An Evaluator belongs to one query execution and is not safe for
// concurrent use.
type Evaluator struct {
	primary string
	likes   map[string]*regexp.Regexp
}

// NewEvaluator creates an evaluator that resolves unqualified column
// references against primaryAlias.
func NewEvaluator(primaryAlias string) *Evaluator {
	return &Evaluator{primary: primaryAlias, likes: make(map[string]*regexp.Regexp)}
}

// Match evaluates expr as a condition. A nil expr matches every row.
func (ev *Evaluator) Match(expr Expr, row catalog.Row) (bool, error) {
	if expr == nil {
		return true, nil
	}
	v, err := ev.Eval(expr, row)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Eval evaluates expr against row.
func (ev *Evaluator) Eval(expr Expr, row catalog.Row) (catalog.Value, error) {
	switch e := expr.(type) {
	case *Literal:
		return e.Value, nil

	case *ColumnRef:
		if e.Star {
			return catalog.Null(), newError(ErrUnsupported, "%s cannot be used as a value", e.String())
		}
		alias := e.Table
		if alias == "" {
			alias = ev.primary
		}
		return row[catalog.Qualify(alias, e.Column)], nil

	case *AggregateCall:
		v, ok := row[e.key()]
		if !ok {
			return catalog.Null(), newError(ErrUnsupported, "%s used outside of a grouped query", e.String())
		}
		return v, nil

	case *ListExpr:
		return catalog.Null(), newError(ErrUnsupported, "a list can only follow IN")

	case *UnaryExpr:
		return ev.evalUnary(e, row)

	case *BinaryExpr:
		return ev.evalBinary(e, row)

	default:
		return catalog.Null(), newError(ErrUnsupported, "unsupported expression type %T", expr)
	}
}

func (ev *Evaluator) evalUnary(e *UnaryExpr, row catalog.Row) (catalog.Value, error) {
	v, err := ev.Eval(e.Operand, row)
	if err != nil {
		return catalog.Null(), err
	}

	switch e.Op {
	case OpNot:
		return catalog.NewBool(!v.Truthy()), nil
	case OpIsNull:
		return catalog.NewBool(v.IsNull()), nil
	case OpIsNotNull:
		return catalog.NewBool(!v.IsNull()), nil
	case OpPlus, OpMinus:
		n, ok := v.Number()
		if !ok {
			return catalog.Null(), nil
		}
		if e.Op == OpMinus {
			n = -n
		}
		return catalog.NewNumber(n), nil
	default:
		return catalog.Null(), newError(ErrUnsupported, "unsupported unary operator %d", e.Op)
	}
}

func (ev *Evaluator) evalBinary(e *BinaryExpr, row catalog.Row) (catalog.Value, error) {
	left, err := ev.Eval(e.Left, row)
	if err != nil {
		return catalog.Null(), err
	}

	if e.Op == OpIn || e.Op == OpNotIn {
		list, ok := e.Right.(*ListExpr)
		if !ok {
			return catalog.Null(), newError(ErrUnsupported, "IN needs a literal list")
		}
		if left.IsNull() {
			return catalog.NewBool(false), nil
		}
		found := false
		for _, item := range list.Items {
			v, err := ev.Eval(item, row)
			if err != nil {
				return catalog.Null(), err
			}
			if c, ok := compareLoose(left, v); ok && c == 0 {
				found = true
				break
			}
		}
		return catalog.NewBool(found == (e.Op == OpIn)), nil
	}

	right, err := ev.Eval(e.Right, row)
	if err != nil {
		return catalog.Null(), err
	}

	switch e.Op {
	case OpAnd:
		return catalog.NewBool(left.Truthy() && right.Truthy()), nil
	case OpOr:
		return catalog.NewBool(left.Truthy() || right.Truthy()), nil

	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe:
		if left.IsNull() || right.IsNull() {
			return catalog.NewBool(false), nil
		}
		c, ok := compareLoose(left, right)
		if !ok {
			// Only != holds between values that cannot be compared.
			return catalog.NewBool(e.Op == OpNe), nil
		}
		return catalog.NewBool(compareResult(c, e.Op)), nil

	case OpLike:
		if left.IsNull() || right.IsNull() {
			return catalog.NewBool(false), nil
		}
		re, err := ev.likePattern(right.String())
		if err != nil {
			return catalog.Null(), err
		}
		return catalog.NewBool(re.MatchString(left.String())), nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return evalArithmetic(left, right, e.Op), nil

	default:
		return catalog.Null(), newError(ErrUnsupported, "unsupported operator %s", e.Op)
	}
}

func compareResult(c int, op BinaryOp) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpLt:
		return c < 0
	case OpGe:
		return c >= 0
	case OpLe:
		return c <= 0
	}
	return false
}

// compareLoose orders a and b the way the engine's comparisons do.
// Two texts compare as written; any other pair compares numerically.
// ok is false when either side is NULL or does not coerce to a number,
// as with 5 against 'Go': such a pair is neither equal nor ordered.
func compareLoose(a, b catalog.Value) (int, bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	if a.Kind == catalog.KindText && b.Kind == catalog.KindText {
		return strings.Compare(a.Text, b.Text), true
	}
	x, ok := a.Number()
	if !ok {
		return 0, false
	}
	y, ok := b.Number()
	if !ok {
		return 0, false
	}
	return compareFloats(x, y), true
}

func compareFloats(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// evalArithmetic applies op to two numeric values. Non-numeric operands
// and division by zero yield NULL.
func evalArithmetic(left, right catalog.Value, op BinaryOp) catalog.Value {
	x, ok := left.Number()
	if !ok {
		return catalog.Null()
	}
	y, ok := right.Number()
	if !ok {
		return catalog.Null()
	}

	switch op {
	case OpAdd:
		return catalog.NewNumber(x + y)
	case OpSub:
		return catalog.NewNumber(x - y)
	case OpMul:
		return catalog.NewNumber(x * y)
	case OpDiv:
		if y == 0 {
			return catalog.Null()
		}
		return catalog.NewNumber(x / y)
	case OpMod:
		if y == 0 {
			return catalog.Null()
		}
		return catalog.NewNumber(math.Mod(x, y))
	}
	return catalog.Null()
}

// likePattern compiles a LIKE pattern into an anchored, case-insensitive
// regexp: % matches any sequence and _ any single character.
func (ev *Evaluator) likePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := ev.likes[pattern]; ok {
		return re, nil
	}

	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, wrapError(ErrSyntaxInvalid, err, "invalid LIKE pattern %q", pattern)
	}
	ev.likes[pattern] = re
	return re, nil
}
