// Package fhirpath provides a Go implementation of the FHIRPath
// expression language: a path-navigation and query language for
// FHIR healthcare resources, evaluated over JSON-like document trees.
//
// # Quick Start
//
//	// Simple evaluation
//	result, err := fhirpath.Evaluate("Patient.name.given", patient)
//
//	// Compile once, evaluate many times
//	expr, err := fhirpath.Parse("Patient.name.where(use = 'official').given")
//	result1, _ := fhirpath.EvaluateExpression(expr, patient1)
//	result2, _ := fhirpath.EvaluateExpression(expr, patient2)
//
//	// With options
//	result, err := fhirpath.Evaluate("Patient.birthDate", patient,
//	    fhirpath.WithVariable("today", "2026-07-29"),
//	)
//
// # Pipeline
//
// Expressions pass through a lexer, a Pratt (operator-precedence)
// parser, an optional static analyzer, and a tree-walking interpreter.
// See internal/lexer, internal/parser, internal/analyzer, and
// internal/interpreter.
package fhirpath

import (
	"fmt"
	"log/slog"

	"github.com/atomic-ehr/fhirpath-sub002/internal/analyzer"
	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/cache"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/interpreter"
	"github.com/atomic-ehr/fhirpath-sub002/internal/model"
	"github.com/atomic-ehr/fhirpath-sub002/internal/parser"
	"github.com/atomic-ehr/fhirpath-sub002/internal/quantity"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// Expression is a type alias for ast.Expression, re-exported so callers
// only need to import the top-level fhirpath package.
type Expression = ast.Expression

// ParseOption configures Parse. Functional-options pattern, matching the
// corpus's CompileOption/EvalOption throughout.
type ParseOption = parser.CompileOption

// WithRecovery re-exports parser.WithRecovery for convenience.
func WithRecovery(enabled bool) ParseOption { return parser.WithRecovery(enabled) }

// WithMaxDepth re-exports parser.WithMaxDepth for convenience.
func WithMaxDepth(depth int) ParseOption { return parser.WithMaxDepth(depth) }

// Parse compiles source into an Expression without evaluating it.
func Parse(source string, opts ...ParseOption) (*Expression, error) {
	p := parser.New(source, opts...)
	return p.Parse(source)
}

// MustParse is like Parse but panics if source cannot be parsed. It
// simplifies safe initialization of global expression variables.
func MustParse(source string) *Expression {
	expr, err := Parse(source)
	if err != nil {
		panic(fmt.Sprintf("fhirpath: Parse(%q): %v", source, err))
	}
	return expr
}

// AnalyzeOption configures Analyze.
type AnalyzeOption = analyzer.Option

// WithModelProvider re-exports analyzer.WithModelProvider for convenience.
func WithModelProvider(mp model.Provider) AnalyzeOption { return analyzer.WithModelProvider(mp) }

// WithRootType re-exports analyzer.WithRootType for convenience.
func WithRootType(typeName string) AnalyzeOption { return analyzer.WithRootType(typeName) }

// WithAnalyzeVariables re-exports analyzer.WithVariables for convenience.
func WithAnalyzeVariables(names ...string) AnalyzeOption { return analyzer.WithVariables(names...) }

// WithErrorRecovery re-exports analyzer.WithErrorRecovery for
// convenience. When set, Analyze parses source in recovery mode instead
// of failing on the first parse error.
func WithErrorRecovery(enabled bool) AnalyzeOption { return analyzer.WithErrorRecovery(enabled) }

// Analyze parses source and runs the static analyzer over it, returning
// the Expression with its Diagnostics and Types side tables populated.
// errorRecovery (see WithErrorRecovery) is consulted before parsing, so a
// syntax error yields an Expression whose root is a single ast.ErrorNode
// and whose Errors hold the parse error instead of a hard failure; otherwise an
// unrecoverable parse error is returned directly. Matches spec.md line
// 182's documented analyze(source, { variables?, modelProvider?,
// inputType?, errorRecovery? }) contract.
func Analyze(source string, opts ...AnalyzeOption) (*Expression, error) {
	var o analyzer.Options
	for _, opt := range opts {
		opt(&o)
	}

	var parseOpts []ParseOption
	if o.ErrorRecovery {
		parseOpts = append(parseOpts, WithRecovery(true))
	}
	expr, err := Parse(source, parseOpts...)
	if err != nil {
		return nil, err
	}
	analyzer.Analyze(expr, opts...)
	return expr, nil
}

// EvalOptions configures an evaluation run.
type EvalOptions struct {
	ModelProvider   model.Provider
	QuantityBackend quantity.Backend
	Variables       map[string]interface{}
	Cache           *cache.Cache
	Debug           bool
	Logger          *slog.Logger
}

// EvalOption mutates EvalOptions.
type EvalOption func(*EvalOptions)

// WithEvalModelProvider supplies a model.Provider consulted by `is`/`as`
// and by navigation into typed elements during evaluation.
func WithEvalModelProvider(mp model.Provider) EvalOption {
	return func(o *EvalOptions) { o.ModelProvider = mp }
}

// WithQuantityBackend supplies a unit-aware arithmetic backend, overriding
// the stdlib-only default (internal/quantity).
func WithQuantityBackend(b quantity.Backend) EvalOption {
	return func(o *EvalOptions) { o.QuantityBackend = b }
}

// WithVariable binds a user variable (accessible as %name) visible for
// the duration of one Evaluate call.
func WithVariable(name string, raw interface{}) EvalOption {
	return func(o *EvalOptions) {
		if o.Variables == nil {
			o.Variables = make(map[string]interface{})
		}
		o.Variables[name] = raw
	}
}

// WithCache enables expression-compilation caching for Evaluate: repeated
// calls with the same source string skip re-parsing. Not used by
// EvaluateExpression, which always takes an already-compiled Expression.
func WithCache(c *cache.Cache) EvalOption {
	return func(o *EvalOptions) { o.Cache = c }
}

// WithDebug enables per-node dispatch tracing at slog.LevelDebug.
func WithDebug(enabled bool) EvalOption {
	return func(o *EvalOptions) { o.Debug = enabled }
}

// WithLogger supplies the *slog.Logger debug traces are written to,
// overriding slog.Default().
func WithLogger(logger *slog.Logger) EvalOption {
	return func(o *EvalOptions) { o.Logger = logger }
}

// Evaluate parses (optionally via a cache) and evaluates source against
// input in one call. input may be a single value or a slice; single
// values are wrapped into a one-element sequence per spec.md §6.
func Evaluate(source string, input interface{}, opts ...EvalOption) ([]interface{}, error) {
	var o EvalOptions
	for _, opt := range opts {
		opt(&o)
	}

	expr, err := compileWithOptionalCache(source, o.Cache)
	if err != nil {
		return nil, err
	}
	return evalExpression(expr, input, o)
}

// EvaluateExpression evaluates an already-parsed Expression against
// input, avoiding re-parsing on repeat calls (the "compile once,
// evaluate many" pattern).
func EvaluateExpression(expr *Expression, input interface{}, opts ...EvalOption) ([]interface{}, error) {
	var o EvalOptions
	for _, opt := range opts {
		opt(&o)
	}
	return evalExpression(expr, input, o)
}

func compileWithOptionalCache(source string, c *cache.Cache) (*Expression, error) {
	if c == nil {
		return Parse(source)
	}
	return c.GetOrCompile(cache.KeyFor(source), func() (*Expression, error) {
		return Parse(source)
	})
}

func evalExpression(expr *Expression, input interface{}, o EvalOptions) ([]interface{}, error) {
	if len(expr.Errors) > 0 {
		return nil, expr.Errors[0]
	}

	rootCtx := evalctx.Create(value.Box(input), o.ModelProvider)
	for name, raw := range o.Variables {
		rootCtx = rootCtx.SetVariable(name, value.Of(raw))
	}

	it := &interpreter.Interpreter{QuantityBackend: o.QuantityBackend, Debug: o.Debug, Logger: o.Logger}
	if it.QuantityBackend == nil {
		it.QuantityBackend = quantity.NewDefaultBackend()
	}

	result, err := it.Eval(expr.AST, rootCtx)
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}
	out := make([]interface{}, len(result))
	for i, v := range result {
		out[i] = value.Unbox(v)
	}
	return out, nil
}

// InspectResult is the diagnostic bundle returned by Inspect: the
// evaluation result (if evaluation was attempted and succeeded),
// the analyzed Expression (AST plus diagnostics and type annotations),
// and any evaluation error, per spec.md §6's documented inspect contract.
type InspectResult struct {
	Result      []interface{}
	Expression  *Expression
	Diagnostics []fhirerr.Diagnostic
	EvalError   error
}

// InspectOption configures Inspect.
type InspectOption func(*inspectOptions)

type inspectOptions struct {
	analyze []AnalyzeOption
	eval    []EvalOption
	input   interface{}
	hasInput bool
}

// WithInspectInput supplies the root value to evaluate against. Without
// it, Inspect only parses and analyzes, skipping evaluation.
func WithInspectInput(input interface{}) InspectOption {
	return func(o *inspectOptions) { o.input = input; o.hasInput = true }
}

// WithInspectAnalyzeOptions forwards options to the analyzer stage.
func WithInspectAnalyzeOptions(opts ...AnalyzeOption) InspectOption {
	return func(o *inspectOptions) { o.analyze = append(o.analyze, opts...) }
}

// WithInspectEvalOptions forwards options to the evaluation stage.
func WithInspectEvalOptions(opts ...EvalOption) InspectOption {
	return func(o *inspectOptions) { o.eval = append(o.eval, opts...) }
}

// Inspect runs the full pipeline — parse, analyze, and (if input is
// supplied) evaluate — returning every intermediate artifact in one
// bundle. Intended for tooling (LSP servers, debuggers, test harnesses)
// that need the AST, diagnostics, and result together rather than
// calling Parse/Analyze/Evaluate separately.
func Inspect(source string, opts ...InspectOption) *InspectResult {
	var io inspectOptions
	for _, opt := range opts {
		opt(&io)
	}

	expr, err := Parse(source)
	if err != nil {
		return &InspectResult{EvalError: err}
	}
	analyzer.Analyze(expr, io.analyze...)

	diags := make([]fhirerr.Diagnostic, len(expr.Diagnostics))
	for i, d := range expr.Diagnostics {
		diags[i] = fhirerr.Diagnostic{
			Range: d.Range, Severity: fhirerr.Severity(d.Severity),
			Code: fhirerr.Code(d.Code), Source: d.Source, Message: d.Message,
		}
	}

	res := &InspectResult{Expression: expr, Diagnostics: diags}
	if io.hasInput {
		result, evalErr := evalExpression(expr, io.input, mergeEvalOptions(io.eval))
		res.Result = result
		res.EvalError = evalErr
	}
	return res
}

func mergeEvalOptions(opts []EvalOption) EvalOptions {
	var o EvalOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
