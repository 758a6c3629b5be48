package interpreter

import (
	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/registry"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// evalFunction dispatches a Function node to the built-in registered
// under its callee name. The current ctx.Input (the left side of any
// preceding pipeline step) is passed as the function's receiver
// collection, per spec.md §4.6.
func (it *Interpreter) evalFunction(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, *evalctx.Context, error) {
	name := node.Callee.Name
	def, ok := registry.Lookup(name)
	if !ok {
		return nil, nil, fhirerr.At(fhirerr.CodeUnknownFunction, "unknown function "+name, node.Range)
	}
	if len(node.Arguments) < def.MinArgs || (def.MaxArgs >= 0 && len(node.Arguments) > def.MaxArgs) {
		return nil, nil, fhirerr.At(fhirerr.CodeArgumentCount, "wrong number of arguments to "+name, node.Range)
	}

	input := ctx.Focus
	if input == nil {
		input = ctx.Input
	}

	eval := func(argNode *ast.Node, argCtx *evalctx.Context) ([]*value.Value, error) {
		return it.Eval(argNode, argCtx)
	}

	result, newCtx, err := def.Impl(input, ctx, node.Arguments, eval)
	if err != nil {
		return nil, nil, err
	}
	if newCtx == nil {
		newCtx = ctx
	}
	return result, newCtx, nil
}
