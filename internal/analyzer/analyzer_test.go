package analyzer_test

import (
	"testing"

	"github.com/atomic-ehr/fhirpath-sub002/internal/analyzer"
	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/model"
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

func TestAnalyzeFlagsUnknownFunction(t *testing.T) {
	expr := parseExpr(t, "notAFunction()")
	analyzer.Analyze(expr)

	if len(expr.Diagnostics) != 1 {
		t.Fatalf("len(Diagnostics) = %d, want 1", len(expr.Diagnostics))
	}
	if expr.Diagnostics[0].Code != string(fhirerr.CodeUnknownFunction) {
		t.Errorf("Code = %q, want %q", expr.Diagnostics[0].Code, fhirerr.CodeUnknownFunction)
	}
}

func TestAnalyzeFlagsArityMismatch(t *testing.T) {
	expr := parseExpr(t, "where()")
	analyzer.Analyze(expr)

	if len(expr.Diagnostics) != 1 {
		t.Fatalf("len(Diagnostics) = %d, want 1", len(expr.Diagnostics))
	}
	if expr.Diagnostics[0].Code != string(fhirerr.CodeArgumentCount) {
		t.Errorf("Code = %q, want %q", expr.Diagnostics[0].Code, fhirerr.CodeArgumentCount)
	}
}

func TestAnalyzeCleanExpressionHasNoDiagnostics(t *testing.T) {
	expr := parseExpr(t, "name.where(use = 'official').given.first()")
	analyzer.Analyze(expr)

	if len(expr.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", expr.Diagnostics)
	}
}

func TestAnalyzeAnnotatesLiteralType(t *testing.T) {
	expr := parseExpr(t, "'hello'")
	analyzer.Analyze(expr)

	typ, ok := expr.Types[expr.AST].(model.TypeInfo)
	if !ok {
		t.Fatal("expected a model.TypeInfo annotation for the string literal node")
	}
	if typ.TypeName != "String" {
		t.Errorf("TypeName = %q, want %q", typ.TypeName, "String")
	}
}

func TestAnalyzeAnnotatesComparisonAsBoolean(t *testing.T) {
	expr := parseExpr(t, "1 = 1")
	analyzer.Analyze(expr)

	typ, ok := expr.Types[expr.AST].(model.TypeInfo)
	if !ok {
		t.Fatal("expected a model.TypeInfo annotation for the `=` node")
	}
	if typ.TypeName != "Boolean" {
		t.Errorf("TypeName = %q, want %q", typ.TypeName, "Boolean")
	}
}

func TestAnalyzeFlagsUndeclaredVariable(t *testing.T) {
	expr := parseExpr(t, "%foo")
	analyzer.Analyze(expr, analyzer.WithVariables("bar"))

	if len(expr.Diagnostics) != 1 {
		t.Fatalf("len(Diagnostics) = %d, want 1", len(expr.Diagnostics))
	}
	if expr.Diagnostics[0].Code != string(fhirerr.CodeUndefinedVar) {
		t.Errorf("Code = %q, want %q", expr.Diagnostics[0].Code, fhirerr.CodeUndefinedVar)
	}
}

func TestAnalyzeAcceptsDeclaredVariable(t *testing.T) {
	expr := parseExpr(t, "%foo")
	analyzer.Analyze(expr, analyzer.WithVariables("foo"))

	if len(expr.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", expr.Diagnostics)
	}
}

func TestAnalyzeSkipsVariableCheckWithoutWithVariables(t *testing.T) {
	expr := parseExpr(t, "%whatever")
	analyzer.Analyze(expr)

	if len(expr.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none (no WithVariables call means no view into bindings)", expr.Diagnostics)
	}
}

func TestAnalyzeNeverFlagsReservedVariables(t *testing.T) {
	for _, src := range []string{"$this", "$index", "$total", "%context", "%resource", "%rootResource"} {
		expr := parseExpr(t, src)
		analyzer.Analyze(expr, analyzer.WithVariables("declaredOnly"))
		if len(expr.Diagnostics) != 0 {
			t.Errorf("Analyze(%q) = %v, want no diagnostics for a reserved name", src, expr.Diagnostics)
		}
	}
}
