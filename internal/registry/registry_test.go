package registry_test

import (
	"testing"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/registry"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

func TestLookupKnownFunctions(t *testing.T) {
	for _, name := range []string{"where", "select", "exists", "empty", "count", "distinct", "iif", "single", "ofType", "defineVariable"} {
		if _, ok := registry.Lookup(name); !ok {
			t.Errorf("Lookup(%q) = false, want true", name)
		}
	}
}

func TestLookupUnknownFunction(t *testing.T) {
	if _, ok := registry.Lookup("notARealFunction"); ok {
		t.Error("Lookup of an unregistered name should report false")
	}
}

func TestRegisterAddsDefinition(t *testing.T) {
	registry.Register(&registry.FunctionDef{
		Name: "customTestFn", MinArgs: 0, MaxArgs: 0,
		Impl: func(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval registry.EvalFunc) ([]*value.Value, *evalctx.Context, error) {
			return input, nil, nil
		},
	})
	def, ok := registry.Lookup("customTestFn")
	if !ok {
		t.Fatal("expected customTestFn to be registered")
	}
	if def.MinArgs != 0 || def.MaxArgs != 0 {
		t.Errorf("MinArgs/MaxArgs = %d/%d, want 0/0", def.MinArgs, def.MaxArgs)
	}
}

func TestOperatorPrecedenceTable(t *testing.T) {
	if registry.Precedence(".") <= registry.Precedence("+") {
		t.Error("`.` must bind tighter than `+`")
	}
	if registry.Precedence("implies") >= registry.Precedence("or") {
		t.Error("`implies` must bind looser than `or`")
	}
	if !registry.IsRightAssoc("implies") {
		t.Error("`implies` must be right-associative")
	}
}
