// Package interpreter tree-walks an ast.Node, producing a boxed value
// sequence per spec.md §4.6. Dispatch is a switch over Node.Kind, same
// shape as the corpus's Evaluator.evalNode (pkg/evaluator/eval.go) —
// fast-pathed float64 arithmetic, special-cased logical operators, and a
// dedicated path-navigation routine — reshaped around FHIRPath's
// sequence-valued (rather than single-valued) semantics: every node
// evaluates to a collection, not a scalar.
package interpreter

import (
	"log/slog"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/quantity"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// Interpreter evaluates a parsed expression against a runtime context.
// Stateless beyond its QuantityBackend; safe to share across goroutines
// per spec.md §5 as long as each call uses its own Context.
type Interpreter struct {
	QuantityBackend quantity.Backend

	// Debug enables per-node dispatch logging at slog.LevelDebug, matching
	// the corpus's Evaluator.opts.Debug gate around its own evalNode trace.
	Debug bool
	// Logger receives debug traces when Debug is set. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger
}

// New creates an Interpreter with the default stdlib-only quantity
// backend. Use Interpreter{QuantityBackend: ...} directly to supply a
// host-specific (e.g. UCUM-complete) backend.
func New() *Interpreter {
	return &Interpreter{QuantityBackend: quantity.NewDefaultBackend()}
}

// Eval evaluates node against ctx and returns the resulting sequence.
// This is the shape required by registry.EvalFunc, letting built-in
// functions call back into the interpreter without an import cycle.
func (it *Interpreter) Eval(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, error) {
	result, _, err := it.evalNode(node, ctx)
	return result, err
}

func (it *Interpreter) logger() *slog.Logger {
	if it.Logger != nil {
		return it.Logger
	}
	return slog.Default()
}

// evalNode is the internal entry point threading context mutations
// (from defineVariable) through a chain of pipeline steps, per spec.md
// §4.6's "left's context flows to right" rule.
func (it *Interpreter) evalNode(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	if node == nil {
		return nil, ctx, nil
	}

	if it.Debug {
		it.logger().Debug("evaluating node", "kind", node.Kind, "depth", ctx.Depth())
	}

	switch node.Kind {
	case ast.Literal:
		return it.evalLiteral(node), ctx, nil

	case ast.Collection:
		if len(node.Elements) == 0 {
			return nil, ctx, nil
		}
		out := make([]*value.Value, 0, len(node.Elements))
		cur := ctx
		for _, el := range node.Elements {
			vs, next, err := it.evalNode(el, cur)
			if err != nil {
				return nil, nil, err
			}
			cur = next
			out = append(out, vs...)
		}
		return out, cur, nil

	case ast.Variable:
		vs, err := it.evalVariable(node, ctx)
		return vs, ctx, err

	case ast.Identifier, ast.TypeOrIdentifier:
		vs, err := it.evalIdentifier(node, ctx)
		return vs, ctx, err

	case ast.Unary:
		return it.evalUnary(node, ctx)

	case ast.Binary:
		return it.evalBinary(node, ctx)

	case ast.Index:
		return it.evalIndex(node, ctx)

	case ast.Function:
		return it.evalFunction(node, ctx)

	case ast.MembershipTest:
		vs, err := it.evalIs(node, ctx)
		return vs, ctx, err

	case ast.TypeCast:
		vs, err := it.evalAs(node, ctx)
		return vs, ctx, err

	case ast.Quantity:
		return it.evalQuantityLiteral(node), ctx, nil

	case ast.ErrorNode:
		return nil, ctx, fhirerr.At(fhirerr.CodeInvalidSyntax, "expression contains a parse error", node.Range)
	}

	return nil, ctx, fhirerr.At(fhirerr.CodeUnknownNodeType, "unknown node kind", node.Range)
}

func (it *Interpreter) evalLiteral(node *ast.Node) []*value.Value {
	switch node.ValueKind {
	case ast.VString:
		return []*value.Value{value.Of(node.StrValue)}
	case ast.VNumber:
		return []*value.Value{value.Of(node.NumValue)}
	case ast.VBoolean:
		return []*value.Value{value.Of(node.BoolValue)}
	case ast.VDate, ast.VTime, ast.VDateTime:
		return []*value.Value{value.Of(node.StrValue)}
	case ast.VNull:
		return nil
	}
	return nil
}

func (it *Interpreter) evalQuantityLiteral(node *ast.Node) []*value.Value {
	return []*value.Value{value.Of(quantity.Quantity{Value: node.NumValue, Unit: node.Unit})}
}

// evalVariable resolves $this/$index/$total and %name references. Per
// spec.md §4.6, an unresolved variable is a fatal VariableNotDefined
// error — $this/$index/$total are exempted since they are iterator-scope
// conveniences that are simply absent outside a `WithIterator` frame
// ($this additionally always falls back to the current input), not
// user-named bindings that could be misspelled or never bound.
func (it *Interpreter) evalVariable(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, error) {
	switch node.Name {
	case "this":
		if len(ctx.Focus) > 0 {
			return ctx.Focus, nil
		}
		if v, ok := ctx.GetVariable("$this"); ok {
			return []*value.Value{v}, nil
		}
		return ctx.Input, nil
	case "index":
		if v, ok := ctx.GetVariable("$index"); ok {
			return []*value.Value{v}, nil
		}
		return nil, nil
	case "total":
		if v, ok := ctx.GetVariable("$total"); ok {
			return []*value.Value{v}, nil
		}
		return nil, nil
	}
	if v, ok := ctx.GetVariable(node.Name); ok {
		return []*value.Value{v}, nil
	}
	return nil, fhirerr.At(fhirerr.CodeUndefinedVar, "undefined variable %"+node.Name, node.Range)
}

// evalIdentifier implements property navigation: for each item in the
// current focus, look up node.Name as a map key (or, at the root, treat
// a matching resourceType as a type filter), flattening array-valued
// properties per spec.md §8 invariant 1. When ctx carries a
// model.Provider, each produced value is annotated with its TypeInfo
// (root resource type via Provider.GetType, element type via
// Provider.GetElementType against the parent's own annotation) so that a
// later `is`/`as` on the same pipeline has real type metadata to consult
// instead of only ever seeing the primitive-kind fallback.
func (it *Interpreter) evalIdentifier(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, error) {
	focus := ctx.Focus
	if focus == nil {
		focus = ctx.Input
	}

	out := make([]*value.Value, 0, len(focus))
	for _, item := range focus {
		m, ok := item.Raw.(map[string]interface{})
		if !ok {
			continue
		}
		if rt, ok := m["resourceType"].(string); ok && rt == node.Name && ctx.Depth() == 0 {
			out = append(out, attachRootType(item, ctx, rt))
			continue
		}
		raw, present := m[node.Name]
		if !present {
			continue
		}
		boxed := value.Box(raw)
		if pe, ok := m["_"+node.Name]; ok {
			boxed = attachPrimitiveElement(boxed, pe)
		}
		boxed = attachElementType(boxed, item, node.Name, ctx)
		out = append(out, boxed...)
	}
	return out, nil
}

func attachRootType(item *value.Value, ctx *evalctx.Context, resourceType string) *value.Value {
	if ctx.ModelProvider == nil {
		return item
	}
	t, ok := ctx.ModelProvider.GetType(resourceType)
	if !ok {
		return item
	}
	return item.WithType(t)
}

func attachElementType(boxed []*value.Value, parent *value.Value, name string, ctx *evalctx.Context) []*value.Value {
	if ctx.ModelProvider == nil || parent.Type == nil {
		return boxed
	}
	t, ok := ctx.ModelProvider.GetElementType(*parent.Type, name)
	if !ok {
		return boxed
	}
	out := make([]*value.Value, len(boxed))
	for i, v := range boxed {
		out[i] = v.WithType(t)
	}
	return out
}

func attachPrimitiveElement(boxed []*value.Value, pe interface{}) []*value.Value {
	peBoxed := value.Box(pe)
	if len(peBoxed) == 0 {
		return boxed
	}
	out := make([]*value.Value, len(boxed))
	for i, v := range boxed {
		if i < len(peBoxed) {
			out[i] = v.WithPrimitiveElement(peBoxed[i])
		} else {
			out[i] = v
		}
	}
	return out
}

func (it *Interpreter) evalUnary(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	operand, next, err := it.evalNode(node.RHS, ctx)
	if err != nil {
		return nil, nil, err
	}
	switch node.Operator {
	case "-":
		v, ok := singleton(operand)
		if !ok {
			return nil, next, nil
		}
		n, isNum := v.Raw.(float64)
		if !isNum {
			return nil, nil, fhirerr.At(fhirerr.CodeTypeMismatch, "unary - requires a numeric operand", node.Range)
		}
		return []*value.Value{value.Of(-n)}, next, nil
	case "+":
		return operand, next, nil
	case "not":
		v, ok := singleton(operand)
		if !ok {
			return nil, next, nil
		}
		b, isBool := v.Raw.(bool)
		if !isBool {
			return nil, nil, fhirerr.At(fhirerr.CodeTypeMismatch, "not requires a boolean operand", node.Range)
		}
		return []*value.Value{value.Of(!b)}, next, nil
	}
	return nil, nil, fhirerr.At(fhirerr.CodeUnknownOperator, "unknown unary operator "+node.Operator, node.Range)
}

func (it *Interpreter) evalIndex(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	target, next, err := it.evalNode(node.Target, ctx)
	if err != nil {
		return nil, nil, err
	}
	subSeq, next2, err := it.evalNode(node.Subscript, next)
	if err != nil {
		return nil, nil, err
	}
	subVal, ok := singleton(subSeq)
	if !ok {
		return nil, next2, nil
	}
	idxF, isNum := subVal.Raw.(float64)
	if !isNum {
		return nil, nil, fhirerr.At(fhirerr.CodeTypeMismatch, "index subscript must be an integer", node.Range)
	}
	idx := int(idxF)
	if idx < 0 || idx >= len(target) {
		return nil, next2, nil
	}
	return target[idx : idx+1], next2, nil
}

func singleton(seq []*value.Value) (*value.Value, bool) {
	if len(seq) != 1 {
		return nil, false
	}
	return seq[0], true
}

func unionDedup(a, b []*value.Value) []*value.Value {
	out := make([]*value.Value, 0, len(a)+len(b))
	for _, v := range a {
		if !containsDeep(out, v) {
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !containsDeep(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func containsDeep(haystack []*value.Value, needle *value.Value) bool {
	for _, h := range haystack {
		if value.DeepEqual(h, needle) {
			return true
		}
	}
	return false
}
