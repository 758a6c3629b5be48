// Package analyzer performs a static pass over a parsed Expression:
// unknown-function/arity checks, undeclared-variable checks, and
// per-node type annotation recorded in Expression.Types (navigation and
// `as` narrowing use a model.Provider when one is supplied), per spec.md §4.4/§9's explicit non-mutation
// guidance — the AST itself is never mutated; findings and inferred
// types live in side tables on the Expression.
//
// No analogous static-analysis pass exists in the corpus (JSONata
// resolves everything at evaluation time); this package is new code,
// shaped like a conventional single-pass AST walker, consulting
// internal/registry for the same arity table the interpreter dispatches
// through and internal/model for optional type information.
package analyzer

import (
	"fmt"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/model"
	"github.com/atomic-ehr/fhirpath-sub002/internal/registry"
)

// Options configures analysis. With a nil ModelProvider, literal,
// operator and function result types are still annotated; only
// navigation and `as` narrowing go unannotated.
type Options struct {
	ModelProvider model.Provider
	RootType      string // e.g. "Patient", used to seed type inference when ModelProvider is set

	// Variables declares the %name environment variables the caller will
	// bind at evaluation time (see fhirpath.WithVariable), so the walker
	// can flag a %foo reference that will not resolve to anything. Nil
	// disables the check entirely — callers that don't pass WithVariables
	// get no false positives from variables bound outside this pass's view.
	Variables map[string]bool

	// ErrorRecovery is not consulted by Analyze itself (the analyzer never
	// parses); it is read back by fhirpath.Analyze before Parse runs, so a
	// single WithErrorRecovery(true) option lets a caller ask for a
	// best-effort ErrorNode-bearing AST instead of a hard parse failure,
	// per spec.md line 182's documented analyze(source, {errorRecovery}).
	ErrorRecovery bool
}

// Option mutates Options, matching the functional-options pattern used
// throughout this module's public entry points.
type Option func(*Options)

// WithModelProvider enables type annotation against mp.
func WithModelProvider(mp model.Provider) Option {
	return func(o *Options) { o.ModelProvider = mp }
}

// WithRootType seeds the root input's static type, used when a provider
// is configured.
func WithRootType(typeName string) Option {
	return func(o *Options) { o.RootType = typeName }
}

// WithVariables declares the %name variables available at evaluation
// time, enabling the unresolved-variable diagnostic in the walk. The
// reserved names $this/$index/$total and the environment variables
// %context/%resource/%rootResource/%sct/%loinc/%ucum/%vs are always
// considered resolved and never need to be listed.
func WithVariables(names ...string) Option {
	return func(o *Options) {
		if o.Variables == nil {
			o.Variables = make(map[string]bool, len(names))
		}
		for _, n := range names {
			o.Variables[n] = true
		}
	}
}

// WithErrorRecovery requests that fhirpath.Analyze parse source in
// recovery mode (the first parse error is recorded on the Expression and
// its root becomes a single ast.ErrorNode) rather than failing outright.
func WithErrorRecovery(enabled bool) Option {
	return func(o *Options) { o.ErrorRecovery = enabled }
}

// reservedVariables names the always-bound iterator and environment
// variables that Analyze never flags as undefined, per spec.md §5/§9.
var reservedVariables = map[string]bool{
	"this": true, "index": true, "total": true,
	"context": true, "resource": true, "rootResource": true,
	"sct": true, "loinc": true, "ucum": true, "vs": true,
}

// Analyze walks expr.AST, appending diagnostics to expr.Diagnostics and
// populating expr.Types.
func Analyze(expr *ast.Expression, opts ...Option) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	a := &analyzer{expr: expr, opts: o}
	if expr.Types == nil {
		expr.Types = make(map[*ast.Node]any)
	}

	var rootType *model.TypeInfo
	if o.ModelProvider != nil && o.RootType != "" {
		if t, ok := o.ModelProvider.GetType(o.RootType); ok {
			rootType = &t
		}
	}
	a.walk(expr.AST, rootType)
}

type analyzer struct {
	expr *ast.Expression
	opts Options
}

func (a *analyzer) report(d fhirerr.Diagnostic) {
	a.expr.Diagnostics = append(a.expr.Diagnostics, ast.Diagnostic{
		Range: d.Range, Severity: int(d.Severity), Code: string(d.Code),
		Source: d.Source, Message: d.Message,
	})
}

// walk recurses over node, propagating the statically-known type of the
// current focus (ctxType) so property navigation can resolve element
// types when a model.Provider is configured. Returns the inferred
// TypeInfo for node, or nil when unknown.
func (a *analyzer) walk(node *ast.Node, ctxType *model.TypeInfo) *model.TypeInfo {
	if node == nil {
		return nil
	}

	switch node.Kind {
	case ast.Literal:
		return a.annotateLiteral(node)

	case ast.Quantity:
		t := &model.TypeInfo{TypeName: "Quantity", Singleton: true}
		a.expr.Types[node] = *t
		return t

	case ast.Variable:
		a.checkVariable(node)
		return nil

	case ast.Collection, ast.ErrorNode:
		if node.Kind == ast.ErrorNode {
			a.report(fhirerr.At(fhirerr.CodeInvalidSyntax, "unparsed subexpression", node.Range).ToDiagnostic())
		}
		return nil

	case ast.Identifier, ast.TypeOrIdentifier:
		return a.walkIdentifier(node, ctxType)

	case ast.Unary:
		return a.walk(node.RHS, ctxType)

	case ast.Binary:
		return a.walkBinary(node, ctxType)

	case ast.Index:
		return a.walk(node.Target, ctxType)

	case ast.Function:
		return a.walkFunction(node, ctxType)

	case ast.MembershipTest:
		a.walk(node.LHS, ctxType)
		t := &model.TypeInfo{TypeName: "Boolean", Singleton: true}
		a.expr.Types[node] = *t
		return t

	case ast.TypeCast:
		left := a.walk(node.LHS, ctxType)
		if a.opts.ModelProvider != nil && left != nil {
			if t, ok := a.opts.ModelProvider.OfType(*left, node.Name); ok {
				a.expr.Types[node] = t
				return &t
			}
		}
		return nil
	}
	return nil
}

// checkVariable flags a %name/$name reference that cannot resolve: not
// one of the always-bound reserved names, and not declared via
// WithVariables. Skipped entirely when the caller never called
// WithVariables, since this pass then has no view of what will be bound
// at evaluation time and false positives would outnumber real catches.
func (a *analyzer) checkVariable(node *ast.Node) {
	if reservedVariables[node.Name] || a.opts.Variables == nil {
		return
	}
	if !a.opts.Variables[node.Name] {
		a.report(fhirerr.At(fhirerr.CodeUndefinedVar,
			fmt.Sprintf("undefined variable %%%s", node.Name), node.Range).ToDiagnostic())
	}
}

func (a *analyzer) annotateLiteral(node *ast.Node) *model.TypeInfo {
	var name string
	switch node.ValueKind {
	case ast.VString:
		name = "String"
	case ast.VNumber:
		name = "Decimal"
	case ast.VBoolean:
		name = "Boolean"
	case ast.VDate:
		name = "Date"
	case ast.VTime:
		name = "Time"
	case ast.VDateTime:
		name = "DateTime"
	default:
		return nil
	}
	t := model.TypeInfo{TypeName: name, Singleton: true}
	a.expr.Types[node] = t
	return &t
}

func (a *analyzer) walkIdentifier(node *ast.Node, ctxType *model.TypeInfo) *model.TypeInfo {
	if a.opts.ModelProvider == nil || ctxType == nil {
		return nil
	}
	t, ok := a.opts.ModelProvider.GetElementType(*ctxType, node.Name)
	if !ok {
		return nil
	}
	a.expr.Types[node] = t
	return &t
}

func (a *analyzer) walkBinary(node *ast.Node, ctxType *model.TypeInfo) *model.TypeInfo {
	switch node.Operator {
	case ".":
		leftType := a.walk(node.LHS, ctxType)
		return a.walk(node.RHS, leftType)
	case "=", "!=", "~", "!~", "<", "<=", ">", ">=", "and", "or", "xor", "implies", "in", "contains":
		a.walk(node.LHS, ctxType)
		a.walk(node.RHS, ctxType)
		t := &model.TypeInfo{TypeName: "Boolean", Singleton: true}
		a.expr.Types[node] = *t
		return t
	default:
		a.walk(node.LHS, ctxType)
		a.walk(node.RHS, ctxType)
		return nil
	}
}

func (a *analyzer) walkFunction(node *ast.Node, ctxType *model.TypeInfo) *model.TypeInfo {
	name := node.Callee.Name
	def, ok := registry.Lookup(name)
	if !ok {
		a.report(fhirerr.At(fhirerr.CodeUnknownFunction,
			fmt.Sprintf("unknown function %q", name), node.Range).ToDiagnostic())
	} else if len(node.Arguments) < def.MinArgs || (def.MaxArgs >= 0 && len(node.Arguments) > def.MaxArgs) {
		a.report(fhirerr.At(fhirerr.CodeArgumentCount,
			fmt.Sprintf("%s expects between %d and %d arguments", name, def.MinArgs, def.MaxArgs), node.Range).ToDiagnostic())
	}

	for _, arg := range node.Arguments {
		a.walk(arg, ctxType)
	}

	switch name {
	case "all", "exists", "empty", "not", "hasValue", "subsetOf", "isDistinct":
		t := &model.TypeInfo{TypeName: "Boolean", Singleton: true}
		a.expr.Types[node] = *t
		return t
	case "count":
		t := &model.TypeInfo{TypeName: "Integer", Singleton: true}
		a.expr.Types[node] = *t
		return t
	}
	return nil
}
