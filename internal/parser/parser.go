// Package parser implements a Pratt ("Top Down Operator Precedence")
// parser over the token stream produced by internal/lexer, building the
// ast.Node tree defined in internal/ast.
//
// Grounded on the corpus's pkg/parser/parser_impl.go: the same
// parseExpression(rbp) / parsePrefix (nud) / parseInfix (led) split, the
// same advance/expect helpers, and the same precedence-driven loop —
// reshaped around spec.md §4.2's operator table (internal/registry) and
// §3's node variants instead of JSONata's object-constructor/lambda/sort
// productions.
package parser

import (
	"fmt"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/lexer"
	"github.com/atomic-ehr/fhirpath-sub002/internal/registry"
	"github.com/atomic-ehr/fhirpath-sub002/internal/token"
)

// CompileOptions configures parsing. Mirrors the corpus's CompileOptions
// (EnableRecovery/MaxDepth) exactly; FHIRPath adds no further knobs at
// this layer.
type CompileOptions struct {
	EnableRecovery bool
	MaxDepth       int
}

// CompileOption mutates CompileOptions. Functional-options pattern,
// matching the corpus's CompileOption/EvalOption throughout pkg/parser
// and pkg/evaluator.
type CompileOption func(*CompileOptions)

// WithRecovery makes Parse return an Expression carrying its parse
// errors instead of returning the error itself. The first syntax error
// ends parsing and the Expression's root becomes a single ast.ErrorNode;
// parsing does not resume after it.
func WithRecovery(enabled bool) CompileOption {
	return func(o *CompileOptions) { o.EnableRecovery = enabled }
}

// WithMaxDepth bounds recursion depth, guarding against stack overflow on
// pathological or adversarial input, per spec.md §5's resource model.
func WithMaxDepth(depth int) CompileOption {
	return func(o *CompileOptions) { o.MaxDepth = depth }
}

// Parser is a single-use recursive-descent/Pratt parser over one source
// string.
type Parser struct {
	lex     *lexer.Lexer
	current token.Token
	prev    token.Token
	errors  []error
	opts    CompileOptions
	arena   *ast.Arena
	depth   int
}

// New creates a parser over input, primed with its first token.
func New(input string, opts ...CompileOption) *Parser {
	options := CompileOptions{EnableRecovery: false, MaxDepth: 100}
	for _, opt := range opts {
		opt(&options)
	}
	p := &Parser{
		lex:   lexer.New(input),
		opts:  options,
		arena: ast.NewArena(),
	}
	p.advance()
	return p
}

// Parse parses the entire input and returns the resulting Expression.
// Errors are returned directly unless recovery is enabled, in which case
// they are collected on the Expression. A syntax error inside the
// expression replaces the whole root with one ast.ErrorNode: parsing
// stops at the first such error and the part parsed before it is not
// kept. Unexpected tokens after a complete expression are recorded as an
// error while the parsed tree is kept.
func (p *Parser) Parse(source string) (*ast.Expression, error) {
	if err := p.lex.Err(); err != nil {
		return nil, err
	}
	if p.current.Kind == token.EOF {
		return nil, fhirerr.At(fhirerr.CodeInvalidSyntax, "empty expression", p.current.Range)
	}

	root, err := p.parseExpression(0)
	if err != nil {
		if !p.opts.EnableRecovery {
			return nil, err
		}
		p.errors = append(p.errors, err)
		root = p.errorNode(err)
	}

	if p.current.Kind != token.EOF {
		unexpected := fhirerr.At(fhirerr.CodeUnexpectedToken,
			fmt.Sprintf("unexpected token %q", p.current.Lexeme), p.current.Range)
		if !p.opts.EnableRecovery {
			return nil, unexpected
		}
		p.errors = append(p.errors, unexpected)
	}

	expr := ast.NewExpression(root, source, p.arena)
	expr.Errors = append(expr.Errors, p.errors...)
	return expr, nil
}

// advance consumes the current token and reads the next one.
func (p *Parser) advance() {
	p.prev = p.current
	p.current = p.lex.Next()
}

// expect requires the current token to have kind k, consuming it;
// otherwise it records and returns an error.
func (p *Parser) expect(k token.Kind, what string) error {
	if p.current.Kind != k {
		return fhirerr.At(fhirerr.CodeExpectedToken,
			fmt.Sprintf("expected %s but found %q", what, p.current.Lexeme), p.current.Range)
	}
	p.advance()
	return nil
}

func (p *Parser) errorNode(err error) *ast.Node {
	n := p.arena.Alloc(ast.ErrorNode, p.current.Range)
	n.Errors = []string{err.Error()}
	return n
}

// operatorSymbol returns the canonical operator string for the current
// token, mapping the keyword-operator kinds the lexer already promoted
// to their operator spelling.
func (p *Parser) operatorSymbol() (string, bool) {
	switch p.current.Kind {
	case token.Dot:
		return ".", true
	case token.LBracket:
		return "[]", true
	case token.Plus:
		return "+", true
	case token.Minus:
		return "-", true
	case token.Star:
		return "*", true
	case token.Slash:
		return "/", true
	case token.Pipe:
		return "|", true
	case token.Lt:
		return "<", true
	case token.LtEq:
		return "<=", true
	case token.Gt:
		return ">", true
	case token.GtEq:
		return ">=", true
	case token.Eq:
		return "=", true
	case token.NotEq:
		return "!=", true
	case token.Equiv:
		return "~", true
	case token.NotEquiv:
		return "!~", true
	case token.KwAnd:
		return "and", true
	case token.KwOr:
		return "or", true
	case token.KwXor:
		return "xor", true
	case token.KwImplies:
		return "implies", true
	case token.KwDiv:
		return "div", true
	case token.KwMod:
		return "mod", true
	case token.KwIn:
		return "in", true
	case token.KwContains:
		return "contains", true
	case token.KwIs:
		return "is", true
	case token.KwAs:
		return "as", true
	}
	return "", false
}

// precedenceOfCurrent returns the left-binding power of the current
// token as an infix operator, or 0 if it cannot continue an expression
// (end of expression, closing delimiter, etc).
func (p *Parser) precedenceOfCurrent() int {
	op, ok := p.operatorSymbol()
	if !ok {
		return 0
	}
	return registry.Precedence(op)
}

// parseExpression is the Pratt loop: parse a prefix ("nud"), then keep
// consuming infix/postfix operators ("led") whose precedence exceeds
// rbp, the minimum binding power passed down by the caller.
func (p *Parser) parseExpression(rbp int) (*ast.Node, error) {
	p.depth++
	if p.depth > p.opts.MaxDepth {
		p.depth--
		return nil, fhirerr.At(fhirerr.CodeInvalidSyntax, "expression nesting too deep", p.current.Range)
	}
	defer func() { p.depth-- }()

	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}

	for rbp < p.precedenceOfCurrent() {
		left, err = p.parseInfix(left)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

// parsePrefix parses a prefix ("nud") production: literals, identifiers,
// variables, parenthesized expressions, unary operators, and collection
// literals.
func (p *Parser) parsePrefix() (*ast.Node, error) {
	tok := p.current

	switch tok.Kind {
	case token.String:
		p.advance()
		n := p.arena.Alloc(ast.Literal, tok.Range)
		n.ValueKind = ast.VString
		n.StrValue = tok.StrValue
		return n, nil

	case token.Number:
		p.advance()
		n := p.arena.Alloc(ast.Literal, tok.Range)
		n.ValueKind = ast.VNumber
		n.NumValue = tok.NumValue
		return p.maybeQuantity(n, tok.Range)

	case token.DateTime:
		p.advance()
		n := p.arena.Alloc(ast.Literal, tok.Range)
		n.ValueKind = ast.VDateTime
		n.StrValue = tok.StrValue
		return n, nil

	case token.Time:
		p.advance()
		n := p.arena.Alloc(ast.Literal, tok.Range)
		n.ValueKind = ast.VTime
		n.StrValue = tok.StrValue
		return n, nil

	case token.KwTrue:
		p.advance()
		n := p.arena.Alloc(ast.Literal, tok.Range)
		n.ValueKind = ast.VBoolean
		n.BoolValue = true
		return n, nil

	case token.KwFalse:
		p.advance()
		n := p.arena.Alloc(ast.Literal, tok.Range)
		n.ValueKind = ast.VBoolean
		n.BoolValue = false
		return n, nil

	case token.LBrace:
		return p.parseEmptyCollection()

	case token.This:
		p.advance()
		n := p.arena.Alloc(ast.Variable, tok.Range)
		n.Name = "this"
		return n, nil

	case token.Index:
		p.advance()
		n := p.arena.Alloc(ast.Variable, tok.Range)
		n.Name = "index"
		return n, nil

	case token.Total:
		p.advance()
		n := p.arena.Alloc(ast.Variable, tok.Range)
		n.Name = "total"
		return n, nil

	case token.EnvVar:
		p.advance()
		n := p.arena.Alloc(ast.Variable, tok.Range)
		n.Name = tok.StrValue
		return n, nil

	case token.Minus, token.Plus:
		return p.parseUnary(tok)

	case token.KwNot:
		return p.parseUnary(tok)

	case token.LParen:
		p.advance()
		inner, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if err := p.expect(token.RParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil

	case token.Ident, token.DelimitedIdent:
		return p.parseNameOrCall()
	}

	return nil, fhirerr.At(fhirerr.CodeInvalidSyntax,
		fmt.Sprintf("unexpected token %q", tok.Lexeme), tok.Range)
}

func (p *Parser) parseUnary(tok token.Token) (*ast.Node, error) {
	p.advance()
	opDef, _ := registry.IsUnaryOperator(symbolForUnary(tok))
	operand, err := p.parseExpression(opDef.Precedence)
	if err != nil {
		return nil, err
	}
	n := p.arena.Alloc(ast.Unary, tok.Range.Union(operand.Range))
	n.Operator = symbolForUnary(tok)
	n.RHS = operand
	return n, nil
}

func symbolForUnary(tok token.Token) string {
	switch tok.Kind {
	case token.Minus:
		return "-"
	case token.Plus:
		return "+"
	case token.KwNot:
		return "not"
	}
	return ""
}

// parseEmptyCollection handles the `{}` empty-collection literal and the
// `{expr, expr, ...}` collection-constructor literal — the only brace
// productions FHIRPath has (no object constructors, unlike the corpus's
// JSONata grammar).
func (p *Parser) parseEmptyCollection() (*ast.Node, error) {
	start := p.current.Range
	p.advance()

	var elements []*ast.Node
	if p.current.Kind != token.RBrace {
		for {
			el, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			elements = append(elements, el)
			if p.current.Kind != token.Comma {
				break
			}
			p.advance()
		}
	}
	end := p.current.Range
	if err := p.expect(token.RBrace, "}"); err != nil {
		return nil, err
	}
	n := p.arena.Alloc(ast.Collection, start.Union(end))
	n.Elements = elements
	return n, nil
}

// parseNameOrCall parses a bare identifier, a delimited identifier, or a
// function call (identifier immediately followed by `(`).
func (p *Parser) parseNameOrCall() (*ast.Node, error) {
	tok := p.current
	name := tok.Lexeme
	if tok.Kind == token.DelimitedIdent {
		name = tok.StrValue
	}
	p.advance()

	if p.current.Kind == token.LParen {
		return p.parseCall(tok, name)
	}

	n := p.arena.Alloc(ast.TypeOrIdentifier, tok.Range)
	n.Name = name
	return n, nil
}

func (p *Parser) parseCall(nameTok token.Token, name string) (*ast.Node, error) {
	callee := p.arena.Alloc(ast.Identifier, nameTok.Range)
	callee.Name = name

	p.advance() // consume '('
	var args []*ast.Node
	if p.current.Kind != token.RParen {
		for {
			arg, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current.Kind != token.Comma {
				break
			}
			p.advance()
		}
	}
	end := p.current.Range
	if err := p.expect(token.RParen, ")"); err != nil {
		return nil, err
	}

	n := p.arena.Alloc(ast.Function, nameTok.Range.Union(end))
	n.Callee = callee
	n.Arguments = args
	return n, nil
}

// maybeQuantity looks for a unit string or calendar-duration keyword
// immediately following a numeric literal and folds it into a Quantity
// node, per spec.md §3/§4.1's quantity-literal grammar.
func (p *Parser) maybeQuantity(numNode *ast.Node, numRange token.Range) (*ast.Node, error) {
	switch p.current.Kind {
	case token.String:
		unitTok := p.current
		p.advance()
		n := p.arena.Alloc(ast.Quantity, numRange.Union(unitTok.Range))
		n.NumValue = numNode.NumValue
		n.Unit = unitTok.StrValue
		return n, nil
	case token.Ident:
		if unit, ok := token.CalendarUnitSymbol(p.current.Lexeme); ok {
			unitTok := p.current
			p.advance()
			n := p.arena.Alloc(ast.Quantity, numRange.Union(unitTok.Range))
			n.NumValue = numNode.NumValue
			n.Unit = unit
			n.CalendarUnit = true
			return n, nil
		}
	}
	return numNode, nil
}

// parseInfix parses one infix/postfix ("led") production given the
// already-parsed left operand.
func (p *Parser) parseInfix(left *ast.Node) (*ast.Node, error) {
	tok := p.current

	switch tok.Kind {
	case token.LBracket:
		return p.parseIndex(left)
	case token.KwIs:
		return p.parseTypeTest(left, ast.MembershipTest)
	case token.KwAs:
		return p.parseTypeTest(left, ast.TypeCast)
	}

	op, ok := p.operatorSymbol()
	if !ok {
		return nil, fhirerr.At(fhirerr.CodeUnexpectedToken,
			fmt.Sprintf("unexpected operator %q", tok.Lexeme), tok.Range)
	}

	prec := registry.Precedence(op)
	p.advance()
	// After `.`, a keyword lexeme names a member or function (`.not()`,
	// `.contains('x')`), not an operator.
	if _, isKw := token.LookupKeyword(p.current.Lexeme); op == "." && isKw {
		p.current.Kind = token.Ident
	}

	nextMin := prec
	if registry.IsRightAssoc(op) {
		nextMin = prec - 1
	}
	right, err := p.parseExpression(nextMin)
	if err != nil {
		return nil, err
	}

	n := p.arena.Alloc(ast.Binary, left.Range.Union(right.Range))
	n.Operator = op
	n.LHS = left
	n.RHS = right
	return n, nil
}

func (p *Parser) parseIndex(target *ast.Node) (*ast.Node, error) {
	p.advance() // consume '['
	sub, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	end := p.current.Range
	if err := p.expect(token.RBracket, "]"); err != nil {
		return nil, err
	}
	n := p.arena.Alloc(ast.Index, target.Range.Union(end))
	n.Target = target
	n.Subscript = sub
	return n, nil
}

// parseTypeTest parses `expr is Type` / `expr as Type`. The type name may
// be a qualified identifier (`System.String`, `FHIR.Patient`); only the
// final segment is retained, matching spec.md §4.1's resolution of type
// specifiers against the active model.
func (p *Parser) parseTypeTest(target *ast.Node, kind ast.Kind) (*ast.Node, error) {
	start := target.Range
	p.advance() // consume 'is'/'as'

	if p.current.Kind != token.Ident && p.current.Kind != token.DelimitedIdent {
		return nil, fhirerr.At(fhirerr.CodeExpectedToken, "expected a type name", p.current.Range)
	}
	typeName := p.current.Lexeme
	if p.current.Kind == token.DelimitedIdent {
		typeName = p.current.StrValue
	}
	end := p.current.Range
	p.advance()
	for p.current.Kind == token.Dot {
		p.advance()
		if p.current.Kind != token.Ident && p.current.Kind != token.DelimitedIdent {
			return nil, fhirerr.At(fhirerr.CodeExpectedToken, "expected a type name segment", p.current.Range)
		}
		typeName = p.current.Lexeme
		if p.current.Kind == token.DelimitedIdent {
			typeName = p.current.StrValue
		}
		end = p.current.Range
		p.advance()
	}

	n := p.arena.Alloc(kind, start.Union(end))
	n.LHS = target
	n.Name = typeName
	return n, nil
}
