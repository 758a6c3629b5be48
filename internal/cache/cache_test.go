package cache_test

import (
	"errors"
	"testing"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/cache"
	"github.com/atomic-ehr/fhirpath-sub002/internal/parser"
)

func TestGetOrCompileCachesResult(t *testing.T) {
	c := cache.New(4)
	calls := 0
	compile := func() (*ast.Expression, error) {
		calls++
		return &ast.Expression{Source: "x"}, nil
	}

	key := cache.KeyFor("expr")
	if _, err := c.GetOrCompile(key, compile); err != nil {
		t.Fatalf("GetOrCompile: %v", err)
	}
	if _, err := c.GetOrCompile(key, compile); err != nil {
		t.Fatalf("GetOrCompile: %v", err)
	}
	if calls != 1 {
		t.Errorf("compile called %d times, want 1", calls)
	}
	if stats := c.Stats(); stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestGetOrCompileDoesNotCacheErrors(t *testing.T) {
	c := cache.New(4)
	wantErr := errors.New("boom")
	calls := 0
	compile := func() (*ast.Expression, error) {
		calls++
		return nil, wantErr
	}

	key := cache.KeyFor("expr")
	for i := 0; i < 2; i++ {
		if _, err := c.GetOrCompile(key, compile); !errors.Is(err, wantErr) {
			t.Fatalf("GetOrCompile: %v, want %v", err, wantErr)
		}
	}
	if calls != 2 {
		t.Errorf("compile called %d times, want 2 (errors must not be cached)", calls)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := cache.New(2)
	a, b, cc := cache.KeyFor("a"), cache.KeyFor("b"), cache.KeyFor("c")
	c.Set(a, &ast.Expression{Source: "a"})
	c.Set(b, &ast.Expression{Source: "b"})
	c.Get(a) // promote a to most-recently-used
	c.Set(cc, &ast.Expression{Source: "c"})

	if _, ok := c.Get(b); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("a should still be cached")
	}
	if _, ok := c.Get(cc); !ok {
		t.Error("c should be cached")
	}
	if stats := c.Stats(); stats.Evictions != 1 {
		t.Errorf("Stats().Evictions = %d, want 1", stats.Evictions)
	}
}

func TestKeyForDistinguishesParseOptions(t *testing.T) {
	plain := cache.KeyFor("Patient.name")
	recovered := cache.KeyFor("Patient.name", parser.WithRecovery(true))
	deeper := cache.KeyFor("Patient.name", parser.WithMaxDepth(10))

	if plain == recovered {
		t.Error("KeyFor should distinguish recovery mode for identical source text")
	}
	if plain == deeper {
		t.Error("KeyFor should distinguish max depth for identical source text")
	}

	c := cache.New(4)
	c.Set(plain, &ast.Expression{Source: "strict"})
	c.Set(recovered, &ast.Expression{Source: "recovered"})

	got, ok := c.Get(plain)
	if !ok || got.Source != "strict" {
		t.Fatalf("Get(plain) = %+v, %v; want the strict-mode entry", got, ok)
	}
	got, ok = c.Get(recovered)
	if !ok || got.Source != "recovered" {
		t.Fatalf("Get(recovered) = %+v, %v; want the recovery-mode entry", got, ok)
	}
}

func TestInvalidateAndClear(t *testing.T) {
	c := cache.New(4)
	key := cache.KeyFor("expr")
	c.Set(key, &ast.Expression{Source: "x"})

	c.Invalidate(key)
	if _, ok := c.Get(key); ok {
		t.Error("expected entry to be gone after Invalidate")
	}

	c.Set(key, &ast.Expression{Source: "x"})
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
}
