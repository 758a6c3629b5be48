package registry

// Associativity of a binary operator.
type Associativity uint8

const (
	LeftAssoc Associativity = iota
	RightAssoc
)

// OperatorKind distinguishes the four indices spec.md §4.3 requires:
// symbol operators, keyword operators, unary operators, and functions
// (functions live in a separate table, see functions.go).
type OperatorKind uint8

const (
	KindSymbol OperatorKind = iota
	KindKeyword
	KindUnary
)

// OperatorDef describes one operator's parse-time and evaluation-time
// properties. Precedence numbers are spec.md §4.2's table verbatim.
type OperatorDef struct {
	Symbol        string
	Kind          OperatorKind
	Precedence    int
	Associativity Associativity
}

// Operators is the immutable, built-once table of binary/unary operator
// definitions, indexed by canonical symbol string. Grounded on the
// corpus's `var precedence = map[TokenType]int{...}` table shape
// (pkg/parser/parser_impl.go), but keyed by operator string here since
// this module's interpreter dispatches on Node.Operator rather than a
// parser-only TokenType.
var Operators = map[string]*OperatorDef{
	".":        {Symbol: ".", Kind: KindSymbol, Precedence: 140, Associativity: LeftAssoc},
	"[]":       {Symbol: "[]", Kind: KindSymbol, Precedence: 130, Associativity: LeftAssoc},
	"as":       {Symbol: "as", Kind: KindKeyword, Precedence: 120, Associativity: LeftAssoc},
	"is":       {Symbol: "is", Kind: KindKeyword, Precedence: 120, Associativity: LeftAssoc},
	"*":        {Symbol: "*", Kind: KindSymbol, Precedence: 100, Associativity: LeftAssoc},
	"/":        {Symbol: "/", Kind: KindSymbol, Precedence: 100, Associativity: LeftAssoc},
	"div":      {Symbol: "div", Kind: KindKeyword, Precedence: 100, Associativity: LeftAssoc},
	"mod":      {Symbol: "mod", Kind: KindKeyword, Precedence: 100, Associativity: LeftAssoc},
	"+":        {Symbol: "+", Kind: KindSymbol, Precedence: 90, Associativity: LeftAssoc},
	"-":        {Symbol: "-", Kind: KindSymbol, Precedence: 90, Associativity: LeftAssoc},
	"|":        {Symbol: "|", Kind: KindSymbol, Precedence: 80, Associativity: LeftAssoc},
	"<":        {Symbol: "<", Kind: KindSymbol, Precedence: 70, Associativity: LeftAssoc},
	"<=":       {Symbol: "<=", Kind: KindSymbol, Precedence: 70, Associativity: LeftAssoc},
	">":        {Symbol: ">", Kind: KindSymbol, Precedence: 70, Associativity: LeftAssoc},
	">=":       {Symbol: ">=", Kind: KindSymbol, Precedence: 70, Associativity: LeftAssoc},
	"=":        {Symbol: "=", Kind: KindSymbol, Precedence: 60, Associativity: LeftAssoc},
	"!=":       {Symbol: "!=", Kind: KindSymbol, Precedence: 60, Associativity: LeftAssoc},
	"~":        {Symbol: "~", Kind: KindSymbol, Precedence: 60, Associativity: LeftAssoc},
	"!~":       {Symbol: "!~", Kind: KindSymbol, Precedence: 60, Associativity: LeftAssoc},
	"in":       {Symbol: "in", Kind: KindKeyword, Precedence: 50, Associativity: LeftAssoc},
	"contains": {Symbol: "contains", Kind: KindKeyword, Precedence: 50, Associativity: LeftAssoc},
	"and":      {Symbol: "and", Kind: KindKeyword, Precedence: 40, Associativity: LeftAssoc},
	"xor":      {Symbol: "xor", Kind: KindKeyword, Precedence: 30, Associativity: LeftAssoc},
	"or":       {Symbol: "or", Kind: KindKeyword, Precedence: 20, Associativity: LeftAssoc},
	"implies":  {Symbol: "implies", Kind: KindKeyword, Precedence: 10, Associativity: RightAssoc},
}

// unaryOperators holds the unary +, -, and not; registered separately from
// their binary counterparts per spec.md §4.3, selected by the parser based
// on prefix-position context rather than by signature arity.
var unaryOperators = map[string]*OperatorDef{
	"+":   {Symbol: "+", Kind: KindUnary, Precedence: 110},
	"-":   {Symbol: "-", Kind: KindUnary, Precedence: 110},
	"not": {Symbol: "not", Kind: KindUnary, Precedence: 110},
}

// Precedence returns op's binding power, or 0 if op is not a known binary
// operator (end of expression).
func Precedence(op string) int {
	if d, ok := Operators[op]; ok {
		return d.Precedence
	}
	return 0
}

// IsRightAssoc reports whether op is right-associative.
func IsRightAssoc(op string) bool {
	d, ok := Operators[op]
	return ok && d.Associativity == RightAssoc
}

// IsUnaryOperator reports whether name can appear as a unary prefix
// operator, returning its definition.
func IsUnaryOperator(name string) (*OperatorDef, bool) {
	d, ok := unaryOperators[name]
	return d, ok
}

// IsKeywordOperator reports whether ident names a keyword operator
// (spec.md §3: "and, or, xor, implies, div, mod, in, contains, is, as,
// not"). The lexer promotes these via token.LookupKeyword, not through
// this function.
func IsKeywordOperator(ident string) bool {
	switch ident {
	case "and", "or", "xor", "implies", "div", "mod", "in", "contains", "is", "as", "not":
		return true
	}
	return false
}
