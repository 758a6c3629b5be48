package interpreter

import (
	"strings"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/quantity"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// matchesPrimitiveType resolves `is`/`as` targets. When ctx carries a
// model.Provider (threaded through evalctx.Context, populated via
// fhirpath.WithEvalModelProvider per spec.md §6), it is consulted first:
// v's statically/dynamically inferred TypeInfo is narrowed against
// typeName via Provider.OfType, giving structural FHIR-type tests
// (`value is HumanName`) real answers instead of always failing. Only
// when no provider is configured, or the provider doesn't recognize the
// type, does this fall back to matching System primitive type names
// (Boolean/String/Integer/Decimal/Date/DateTime/Time/Quantity) against
// the boxed value's underlying Go representation — the documented
// fallback decided in DESIGN.md's Open Question resolution (spec.md §9).
func matchesPrimitiveType(ctx *evalctx.Context, v *value.Value, typeName string) bool {
	name := typeName
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}

	if ctx != nil && ctx.ModelProvider != nil && v.Type != nil {
		if _, ok := ctx.ModelProvider.OfType(*v.Type, name); ok {
			return true
		}
		if v.Type.TypeName == name || v.Type.Name == name {
			return true
		}
	}

	switch name {
	case "Boolean":
		_, ok := v.Raw.(bool)
		return ok
	case "String":
		_, ok := v.Raw.(string)
		return ok
	case "Integer", "Long":
		n, ok := v.Raw.(float64)
		return ok && n == float64(int64(n))
	case "Decimal":
		_, ok := v.Raw.(float64)
		return ok
	case "Quantity":
		_, ok := v.Raw.(quantity.Quantity)
		return ok
	case "Date", "DateTime", "Time":
		if v.Type != nil {
			return v.Type.TypeName == name
		}
		_, ok := v.Raw.(string)
		return ok
	}
	if v.Type != nil {
		return v.Type.TypeName == name || v.Type.Name == name
	}
	return false
}

// evalIs implements `expr is Type`: a singleton boolean, or empty if the
// left side is empty, per spec.md §4.6.
func (it *Interpreter) evalIs(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, error) {
	left, err := it.Eval(node.LHS, ctx)
	if err != nil {
		return nil, err
	}
	v, ok := singleton(left)
	if !ok {
		return nil, nil
	}
	return []*value.Value{value.Of(matchesPrimitiveType(ctx, v, node.Name))}, nil
}

// evalAs implements `expr as Type`: passes the value through unchanged
// if it matches, or returns empty otherwise.
func (it *Interpreter) evalAs(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, error) {
	left, err := it.Eval(node.LHS, ctx)
	if err != nil {
		return nil, err
	}
	v, ok := singleton(left)
	if !ok {
		return nil, nil
	}
	if matchesPrimitiveType(ctx, v, node.Name) {
		return []*value.Value{v}, nil
	}
	return nil, nil
}
