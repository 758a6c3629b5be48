package parser_test

import (
	"testing"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/parser"
)

func parseExpr(t *testing.T, input string) *ast.Expression {
	t.Helper()
	p := parser.New(input)
	expr, err := p.Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q): %v", input, err)
	}
	return expr
}

func expectParseError(t *testing.T, input string) {
	t.Helper()
	p := parser.New(input)
	if _, err := p.Parse(input); err == nil {
		t.Fatalf("Parse(%q): expected error, got none", input)
	}
}

func TestParseLiterals(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  ast.Kind
	}{
		{"string", `'hello'`, ast.Literal},
		{"integer", "42", ast.Literal},
		{"decimal", "3.14", ast.Literal},
		{"boolean true", "true", ast.Literal},
		{"boolean false", "false", ast.Literal},
		{"this", "$this", ast.Variable},
		{"identifier", "Patient", ast.TypeOrIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr := parseExpr(t, tt.input)
			if expr.AST.Kind != tt.kind {
				t.Errorf("Parse(%q).Kind = %v, want %v", tt.input, expr.AST.Kind, tt.kind)
			}
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	// `.` (140) binds tighter than `[]` applied after a multi-segment
	// path, so the subscript targets the whole `Patient.name.given` path
	// rather than just `given`.
	expr := parseExpr(t, "Patient.name.given[1]")
	if expr.AST.Kind != ast.Index {
		t.Fatalf("root node kind = %v, want Index", expr.AST.Kind)
	}
	if expr.AST.Target.Kind != ast.Binary || expr.AST.Target.Operator != "." {
		t.Fatalf("index target = %v, want a `.` path", expr.AST.Target.Kind)
	}
}

func TestParseCollectionLiteral(t *testing.T) {
	expr := parseExpr(t, "{1, 2, 2, 3}")
	if expr.AST.Kind != ast.Collection {
		t.Fatalf("Kind = %v, want Collection", expr.AST.Kind)
	}
	if len(expr.AST.Elements) != 4 {
		t.Fatalf("len(Elements) = %d, want 4", len(expr.AST.Elements))
	}
}

func TestParseEmptyCollectionLiteral(t *testing.T) {
	expr := parseExpr(t, "{}")
	if expr.AST.Kind != ast.Collection {
		t.Fatalf("Kind = %v, want Collection", expr.AST.Kind)
	}
	if len(expr.AST.Elements) != 0 {
		t.Fatalf("len(Elements) = %d, want 0", len(expr.AST.Elements))
	}
}

func TestParseFunctionCall(t *testing.T) {
	expr := parseExpr(t, "name.where(use = 'official').given")
	if expr.AST.Kind != ast.Binary || expr.AST.Operator != "." {
		t.Fatalf("Kind = %v, want trailing `.` binary", expr.AST.Kind)
	}
}

func TestParseTypeOperators(t *testing.T) {
	tests := []struct {
		input string
		kind  ast.Kind
	}{
		{"value is Quantity", ast.MembershipTest},
		{"value as FHIR.Quantity", ast.TypeCast},
	}
	for _, tt := range tests {
		expr := parseExpr(t, tt.input)
		if expr.AST.Kind != tt.kind {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.input, expr.AST.Kind, tt.kind)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "(", "1 +", "Patient.["} {
		expectParseError(t, input)
	}
}

func TestParseMaxDepth(t *testing.T) {
	deep := ""
	for i := 0; i < 50; i++ {
		deep += "("
	}
	deep += "1"
	for i := 0; i < 50; i++ {
		deep += ")"
	}
	p := parser.New(deep, parser.WithMaxDepth(10))
	if _, err := p.Parse(deep); err == nil {
		t.Fatal("expected max-depth error, got none")
	}
}
