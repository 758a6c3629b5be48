package value_test

import (
	"testing"

	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

func TestBoxFlattensNestedSlices(t *testing.T) {
	boxed := value.Box([]interface{}{"a", []interface{}{"b", "c"}})
	if len(boxed) != 3 {
		t.Fatalf("len = %d, want 3", len(boxed))
	}
	for i, want := range []string{"a", "b", "c"} {
		if boxed[i].Raw != want {
			t.Errorf("boxed[%d] = %v, want %v", i, boxed[i].Raw, want)
		}
	}
}

func TestBoxNilIsEmptySequence(t *testing.T) {
	if got := value.Box(nil); got != nil {
		t.Errorf("Box(nil) = %v, want nil", got)
	}
}

func TestBoxPassesThroughAlreadyBoxed(t *testing.T) {
	in := []*value.Value{value.Of("x")}
	out := value.Box(in)
	if len(out) != 1 || out[0] != in[0] {
		t.Errorf("Box of []*Value must pass through unchanged")
	}
}

func TestUnbox(t *testing.T) {
	if got := value.Unbox(value.Of(42.0)); got != 42.0 {
		t.Errorf("Unbox = %v, want 42.0", got)
	}
}

func TestDeepEqualScalars(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"equal strings", "x", "x", true},
		{"different strings", "x", "y", false},
		{"equal numbers", 1.0, 1.0, true},
		{"different numbers", 1.0, 2.0, false},
		{"equal bools", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := value.DeepEqual(value.Of(tt.a), value.Of(tt.b))
			if got != tt.want {
				t.Errorf("DeepEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDeepEqualMaps(t *testing.T) {
	a := value.Of(map[string]interface{}{"use": "official", "given": []interface{}{"John"}})
	b := value.Of(map[string]interface{}{"use": "official", "given": []interface{}{"John"}})
	c := value.Of(map[string]interface{}{"use": "nick", "given": []interface{}{"John"}})

	if !value.DeepEqual(a, b) {
		t.Error("expected structurally identical maps to be equal")
	}
	if value.DeepEqual(a, c) {
		t.Error("expected maps differing by a field to be unequal")
	}
}

func TestIsTruthy(t *testing.T) {
	if b, ok := value.IsTruthy(value.Of(true)); !ok || !b {
		t.Errorf("IsTruthy(true) = %v, %v, want true, true", b, ok)
	}
	if _, ok := value.IsTruthy(value.Of("not a bool")); ok {
		t.Error("IsTruthy of a non-boolean must report ok=false")
	}
}
