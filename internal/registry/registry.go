// Package registry holds the immutable, built-once catalogue of operators
// (operators.go) and functions (this file) that the parser consults for
// precedence and the interpreter consults for dispatch, per spec.md §4.3.
//
// Grounded on the corpus's *real* function table in
// pkg/evaluator/functions.go (`FunctionDef{Name, MinArgs, MaxArgs, Impl}`,
// `initBuiltinFunctions`/`sync.Once`, `GetFunction`) rather than the dead
// stub in pkg/functions/registry.go, whose DefaultRegistry() body is
// entirely commented-out TODOs and is never wired to the real evaluator.
package registry

import (
	"sync"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// EvalFunc evaluates an unevaluated argument AST node against ctx, lazily —
// FHIRPath function arguments are raw subtrees (not first-class closures,
// unlike the corpus's Lambda values), since iterator functions must bind a
// fresh $this/$index/$total frame per element before evaluating a
// predicate. Supplying this as a parameter to FunctionImpl (rather than
// importing the interpreter package directly) breaks what would otherwise
// be a registry<->interpreter import cycle, mirroring how the corpus's
// FunctionImpl takes the owning *Evaluator as an explicit parameter for
// the same reason.
type EvalFunc func(node *ast.Node, ctx *evalctx.Context) ([]*value.Value, error)

// FunctionImpl is a built-in function's implementation. input is the
// current pipeline input (the sequence the function is invoked against,
// i.e. what `.` feeds in); args are the unevaluated argument AST nodes;
// eval lazily evaluates an argument node against a (possibly iterator-
// bound) context. The returned Context is non-nil only when the function
// mutates scope for downstream pipeline steps (defineVariable is the only
// built-in that does); callers should thread it onward exactly the way
// the interpreter threads a pipeline step's left-hand context to its
// right-hand side (spec.md §4.6).
type FunctionImpl func(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error)

// FunctionDef describes one built-in function.
type FunctionDef struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 means unbounded
	Impl    FunctionImpl
}

var (
	functions     map[string]*FunctionDef
	functionsOnce sync.Once
)

// Functions returns the built-once function table. Building is deferred to
// first use (via sync.Once, matching the corpus's builtinFunctionsOnce)
// so that package init order never matters.
func Functions() map[string]*FunctionDef {
	functionsOnce.Do(func() {
		functions = make(map[string]*FunctionDef, 64)
		registerAll(functions)
	})
	return functions
}

// Register adds or replaces a function definition, for callers wanting to
// extend the registry with custom functions before first evaluation. The
// built-in table is filled by registerAll directly, not through Register.
func Register(def *FunctionDef) {
	Functions()[def.Name] = def
}

// Lookup returns the function definition for name, if registered.
func Lookup(name string) (*FunctionDef, bool) {
	d, ok := Functions()[name]
	return d, ok
}
