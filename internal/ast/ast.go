// Package ast defines the FHIRPath abstract syntax tree: a closed,
// tagged-union-style Node type plus a bump-pointer arena for allocating
// nodes with minimal GC pressure, grounded on the corpus's ASTNode/NodeArena
// pair but reshaped around spec.md §3's node variant list.
package ast

import "github.com/atomic-ehr/fhirpath-sub002/internal/token"

// Kind discriminates the tagged union of node shapes.
type Kind uint8

const (
	Literal Kind = iota
	Identifier
	TypeOrIdentifier
	Variable
	Binary
	Unary
	Function
	Index
	Collection
	MembershipTest // expr is Type
	TypeCast       // expr as Type
	Quantity
	ErrorNode // recovery node, LSP mode only
)

// ValueKind classifies a Literal node's payload.
type ValueKind uint8

const (
	VString ValueKind = iota
	VNumber
	VBoolean
	VDate
	VTime
	VDateTime
	VNull
)

// Node is a single AST node. Only the fields relevant to Kind are
// populated; this mirrors the corpus's flat-struct tagged-union approach
// (pkg/types/ast.go's ASTNode) rather than a Go interface hierarchy, which
// keeps allocation in the arena simple and avoids a vtable indirection on
// the interpreter's hot dispatch path.
type Node struct {
	Kind  Kind
	Range token.Range

	// Literal
	ValueKind ValueKind
	StrValue  string
	NumValue  float64
	BoolValue bool

	// Identifier / TypeOrIdentifier / Variable / MembershipTest / TypeCast
	Name string // identifier name, variable name (without $/%), or type name

	// Binary / Unary
	Operator string // canonical operator string, e.g. "+", "and", "is"
	LHS, RHS *Node

	// Function
	Callee    *Node // Identifier or TypeOrIdentifier
	Arguments []*Node

	// Index
	Target *Node
	Subscript *Node

	// Collection
	Elements []*Node

	// Quantity
	Unit         string
	CalendarUnit bool

	// ErrorNode (recovery mode)
	Errors   []string
	Expected []string
}

// Arena bump-allocates Nodes in fixed-size chunks. Not safe for concurrent
// use; one Arena belongs to exactly one Parser invocation and is retained
// by the resulting Expression for the lifetime of that expression, mirroring
// the corpus's NodeArena.
type Arena struct {
	chunks [][]Node
	pos    int
}

const chunkSize = 64

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Alloc returns a zeroed *Node owned by the arena.
func (a *Arena) Alloc(kind Kind, r token.Range) *Node {
	if len(a.chunks) == 0 || a.pos == len(a.chunks[len(a.chunks)-1]) {
		a.chunks = append(a.chunks, make([]Node, chunkSize))
		a.pos = 0
	}
	chunk := a.chunks[len(a.chunks)-1]
	n := &chunk[a.pos]
	a.pos++
	n.Kind = kind
	n.Range = r
	return n
}

// Expression is a parsed (and optionally analyzed) FHIRPath expression.
type Expression struct {
	AST    *Node
	Source string
	Errors []error
	arena  *Arena

	// Diagnostics holds analyzer output, populated by analyzer.Analyze.
	Diagnostics []Diagnostic
	// Types holds the per-node type annotation side table, populated by
	// analyzer.Analyze, keyed by node identity per spec.md §9's guidance
	// to avoid mutating shared node objects.
	Types map[*Node]any
}

// Diagnostic is a parse/analyze-time finding attached to an Expression.
// Defined here (rather than imported from fhirerr) to avoid a dependency
// from ast -> fhirerr; analyzer converts fhirerr.Diagnostic values into
// this shape when populating Expression.Diagnostics.
type Diagnostic struct {
	Range    token.Range
	Severity int
	Code     string
	Source   string
	Message  string
}

// NewExpression constructs an Expression. arena may be nil if the AST was
// not built with arena allocation (e.g. constructed by hand in a test).
func NewExpression(root *Node, source string, arena *Arena) *Expression {
	return &Expression{AST: root, Source: source, arena: arena}
}

// AddError appends a parse/analysis error to the expression.
func (e *Expression) AddError(err error) {
	e.Errors = append(e.Errors, err)
}

// String returns the original source text.
func (e *Expression) String() string { return e.Source }
