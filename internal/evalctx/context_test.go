package evalctx_test

import (
	"testing"

	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

func TestSetVariableIsVisibleToChild(t *testing.T) {
	root := evalctx.Create([]*value.Value{value.Of("patient")}, nil)
	bound := root.SetVariable("x", value.Of(10.0))

	child := bound.WithIterator(value.Of("item"), 0, 1)
	got, ok := child.GetVariable("x")
	if !ok {
		t.Fatalf("expected %%x to be visible from a child scope")
	}
	if got.Raw != 10.0 {
		t.Errorf("got %v, want 10.0", got.Raw)
	}
}

func TestSetVariableRedefinitionInSameScopeIsNoop(t *testing.T) {
	root := evalctx.Create(nil, nil)
	bound := root.SetVariable("x", value.Of(1.0))
	rebound := bound.SetVariable("x", value.Of(2.0))

	if rebound != bound {
		t.Fatal("re-defining an already-bound name in the same scope must be a no-op")
	}
	got, _ := rebound.GetVariable("x")
	if got.Raw != 1.0 {
		t.Errorf("got %v, want 1.0 (first binding wins)", got.Raw)
	}
}

func TestSetVariableRejectsSystemNames(t *testing.T) {
	root := evalctx.Create(nil, nil)
	got := root.SetVariable("context", value.Of("nope"))
	if got != root {
		t.Fatal("redefining a system name must be a silent no-op")
	}
}

func TestWithIteratorBindsThisIndexTotal(t *testing.T) {
	root := evalctx.Create(nil, nil)
	item := value.Of("b")
	iter := root.WithIterator(item, 1, 2)

	if v, ok := iter.GetVariable("$this"); !ok || v.Raw != "b" {
		t.Errorf("$this = %v, %v, want \"b\", true", v, ok)
	}
	if v, ok := iter.GetVariable("$index"); !ok || v.Raw != 1.0 {
		t.Errorf("$index = %v, %v, want 1.0, true", v, ok)
	}
	if v, ok := iter.GetVariable("$total"); !ok || v.Raw != 2.0 {
		t.Errorf("$total = %v, %v, want 2.0, true", v, ok)
	}
}

func TestWithInputPreservesParentBindings(t *testing.T) {
	root := evalctx.Create(nil, nil)
	bound := root.SetVariable("x", value.Of(42.0))
	next := bound.WithInput([]*value.Value{value.Of("y")})

	got, ok := next.GetVariable("x")
	if !ok || got.Raw != 42.0 {
		t.Errorf("got %v, %v, want 42.0, true", got, ok)
	}
}
