package interpreter

import (
	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/quantity"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// evalBinary dispatches a Binary node. The pipeline operator `.` and the
// three-valued logical operators are special-cased before the generic
// both-sides-eagerly-evaluated path, mirroring the corpus's evalBinary
// special-casing "and"/"or"/".." ahead of its float64 fast path
// (pkg/evaluator/eval_operators.go).
func (it *Interpreter) evalBinary(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	switch node.Operator {
	case ".":
		return it.evalPipeline(node, ctx)
	case "and":
		return it.evalAnd(node, ctx)
	case "or":
		return it.evalOr(node, ctx)
	case "xor":
		return it.evalXor(node, ctx)
	case "implies":
		return it.evalImplies(node, ctx)
	case "|":
		return it.evalUnion(node, ctx)
	case "in":
		return it.evalIn(node, ctx)
	case "contains":
		return it.evalContainsOp(node, ctx)
	}

	left, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	right, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}

	switch node.Operator {
	case "+", "-", "*", "/", "div", "mod":
		res, err := it.evalArithmetic(node.Operator, left, right, node)
		return res, next2, err
	case "=", "!=", "~", "!~":
		res, err := it.evalEquality(node.Operator, left, right)
		return res, next2, err
	case "<", "<=", ">", ">=":
		res, err := it.evalComparison(node.Operator, left, right, node)
		return res, next2, err
	}

	return nil, nil, fhirerr.At(fhirerr.CodeUnknownOperator, "unknown operator "+node.Operator, node.Range)
}

// evalPipeline implements `.`: the left side's result becomes the right
// side's input, and any context mutation performed while evaluating the
// left (e.g. a defineVariable earlier in the chain) is visible to the
// right, per spec.md §4.6.
func (it *Interpreter) evalPipeline(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	leftVals, leftCtx, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	rightCtx := leftCtx.WithInput(leftVals)
	return it.evalNode(node.RHS, rightCtx)
}

// threeValued resolves an operand sequence to (value, isEmpty): FHIRPath
// boolean operators treat an empty sequence as the indeterminate third
// value rather than an error.
func threeValued(seq []*value.Value) (b bool, isEmpty bool, typeErr error) {
	if len(seq) == 0 {
		return false, true, nil
	}
	v, ok := singleton(seq)
	if !ok {
		return false, false, fhirerr.New(fhirerr.CodeSingletonOnly, "boolean operand must be a single value")
	}
	bv, isBool := v.Raw.(bool)
	if !isBool {
		return false, false, fhirerr.New(fhirerr.CodeTypeMismatch, "boolean operand must be a boolean")
	}
	return bv, false, nil
}

func (it *Interpreter) evalAnd(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	leftSeq, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	l, lEmpty, err := threeValued(leftSeq)
	if err != nil {
		return nil, nil, err
	}
	if !lEmpty && !l {
		return []*value.Value{value.Of(false)}, next, nil
	}
	rightSeq, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}
	r, rEmpty, err := threeValued(rightSeq)
	if err != nil {
		return nil, nil, err
	}
	if !rEmpty && !r {
		return []*value.Value{value.Of(false)}, next2, nil
	}
	if !lEmpty && !rEmpty {
		return []*value.Value{value.Of(true)}, next2, nil
	}
	return nil, next2, nil
}

func (it *Interpreter) evalOr(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	leftSeq, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	l, lEmpty, err := threeValued(leftSeq)
	if err != nil {
		return nil, nil, err
	}
	if !lEmpty && l {
		return []*value.Value{value.Of(true)}, next, nil
	}
	rightSeq, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}
	r, rEmpty, err := threeValued(rightSeq)
	if err != nil {
		return nil, nil, err
	}
	if !rEmpty && r {
		return []*value.Value{value.Of(true)}, next2, nil
	}
	if !lEmpty && !rEmpty {
		return []*value.Value{value.Of(false)}, next2, nil
	}
	return nil, next2, nil
}

func (it *Interpreter) evalXor(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	leftSeq, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	l, lEmpty, err := threeValued(leftSeq)
	if err != nil {
		return nil, nil, err
	}
	rightSeq, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}
	r, rEmpty, err := threeValued(rightSeq)
	if err != nil {
		return nil, nil, err
	}
	if lEmpty || rEmpty {
		return nil, next2, nil
	}
	return []*value.Value{value.Of(l != r)}, next2, nil
}

func (it *Interpreter) evalImplies(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	leftSeq, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	l, lEmpty, err := threeValued(leftSeq)
	if err != nil {
		return nil, nil, err
	}
	if !lEmpty && !l {
		return []*value.Value{value.Of(true)}, next, nil
	}
	rightSeq, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}
	r, rEmpty, err := threeValued(rightSeq)
	if err != nil {
		return nil, nil, err
	}
	if !rEmpty && r {
		return []*value.Value{value.Of(true)}, next2, nil
	}
	if lEmpty {
		return nil, next2, nil
	}
	if rEmpty {
		return nil, next2, nil
	}
	return []*value.Value{value.Of(false)}, next2, nil
}

func (it *Interpreter) evalUnion(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	left, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	right, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}
	return unionDedup(left, right), next2, nil
}

func (it *Interpreter) evalIn(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	left, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	right, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}
	v, ok := singleton(left)
	if !ok {
		return nil, next2, nil
	}
	return []*value.Value{value.Of(containsDeep(right, v))}, next2, nil
}

func (it *Interpreter) evalContainsOp(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	left, next, err := it.evalNode(node.LHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	right, next2, err := it.evalNode(node.RHS, next)
	if err != nil {
		return nil, nil, err
	}
	v, ok := singleton(right)
	if !ok {
		return nil, next2, nil
	}
	return []*value.Value{value.Of(containsDeep(left, v))}, next2, nil
}

func (it *Interpreter) evalEquality(op string, left, right []*value.Value) ([]*value.Value, error) {
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	if len(left) != len(right) {
		switch op {
		case "=", "~":
			return []*value.Value{value.Of(false)}, nil
		default:
			return []*value.Value{value.Of(true)}, nil
		}
	}
	equal := true
	for i := range left {
		if !value.DeepEqual(left[i], right[i]) {
			equal = false
			break
		}
	}
	switch op {
	case "=", "~":
		return []*value.Value{value.Of(equal)}, nil
	default: // != , !~
		return []*value.Value{value.Of(!equal)}, nil
	}
}

func (it *Interpreter) evalComparison(op string, left, right []*value.Value, node *ast.Node) ([]*value.Value, error) {
	l, ok1 := singleton(left)
	r, ok2 := singleton(right)
	if !ok1 || !ok2 {
		return nil, nil
	}

	// Incomparable types (and quantities with incompatible units) return
	// empty rather than erroring, per spec.md §4.6: comparison has no
	// defined ordering across types, so there is nothing to report beyond
	// "unknown" — the same empty-propagation the arithmetic/equality
	// paths in this file use for empty operands.
	if lq, ok := l.Raw.(quantity.Quantity); ok {
		rq, ok2 := r.Raw.(quantity.Quantity)
		if !ok2 {
			return nil, nil
		}
		cmp, err := it.QuantityBackend.Compare(lq, rq)
		if err != nil {
			return nil, nil
		}
		return []*value.Value{value.Of(compareOp(op, cmp))}, nil
	}

	switch lv := l.Raw.(type) {
	case float64:
		rv, ok := r.Raw.(float64)
		if !ok {
			return nil, nil
		}
		return []*value.Value{value.Of(compareOp(op, cmpFloat(lv, rv)))}, nil
	case string:
		rv, ok := r.Raw.(string)
		if !ok {
			return nil, nil
		}
		return []*value.Value{value.Of(compareOp(op, cmpString(lv, rv)))}, nil
	}
	return nil, nil
}

func compareOp(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (it *Interpreter) evalArithmetic(op string, left, right []*value.Value, node *ast.Node) ([]*value.Value, error) {
	l, ok1 := singleton(left)
	r, ok2 := singleton(right)
	if !ok1 || !ok2 {
		return nil, nil
	}

	if op == "+" {
		if ls, ok := l.Raw.(string); ok {
			if rs, ok := r.Raw.(string); ok {
				return []*value.Value{value.Of(ls + rs)}, nil
			}
		}
	}

	if lq, ok := l.Raw.(quantity.Quantity); ok {
		rq, ok := r.Raw.(quantity.Quantity)
		if !ok {
			return nil, fhirerr.At(fhirerr.CodeTypeMismatch, "cannot combine a quantity with a non-quantity", node.Range)
		}
		return it.evalQuantityArithmetic(op, lq, rq, node)
	}

	lf, ok1 := l.Raw.(float64)
	rf, ok2 := r.Raw.(float64)
	if !ok1 || !ok2 {
		return nil, fhirerr.At(fhirerr.CodeTypeMismatch, "arithmetic requires numeric operands", node.Range)
	}

	switch op {
	case "+":
		return []*value.Value{value.Of(lf + rf)}, nil
	case "-":
		return []*value.Value{value.Of(lf - rf)}, nil
	case "*":
		return []*value.Value{value.Of(lf * rf)}, nil
	case "/":
		// Division by zero propagates empty rather than erroring, per
		// spec.md §4.6/invariant 9 ("1 / 0 → {}"), the same empty result
		// the singleton-operand check above returns (type mismatches error).
		if rf == 0 {
			return nil, nil
		}
		return []*value.Value{value.Of(lf / rf)}, nil
	case "div":
		if rf == 0 {
			return nil, nil
		}
		q := float64(int64(lf / rf))
		return []*value.Value{value.Of(q)}, nil
	case "mod":
		if rf == 0 {
			return nil, nil
		}
		m := lf - rf*float64(int64(lf/rf))
		return []*value.Value{value.Of(m)}, nil
	}
	return nil, fhirerr.At(fhirerr.CodeUnknownOperator, "unknown arithmetic operator "+op, node.Range)
}

func (it *Interpreter) evalQuantityArithmetic(op string, l, r quantity.Quantity, node *ast.Node) ([]*value.Value, error) {
	var (
		res quantity.Quantity
		err error
	)
	switch op {
	case "+":
		res, err = it.QuantityBackend.Add(l, r)
	case "-":
		res, err = it.QuantityBackend.Subtract(l, r)
	case "*":
		res, err = it.QuantityBackend.Multiply(l, r)
	case "/":
		res, err = it.QuantityBackend.Divide(l, r)
	default:
		return nil, fhirerr.At(fhirerr.CodeUnknownOperator, "unsupported quantity operator "+op, node.Range)
	}
	if err != nil {
		return nil, fhirerr.At(fhirerr.CodeIncompatibleUnits, err.Error(), node.Range)
	}
	return []*value.Value{value.Of(res)}, nil
}
