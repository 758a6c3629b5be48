// Package value implements the boxed value model of spec.md §3/§4.5: a raw
// value paired with optional type information and a FHIR primitive-element
// sidecar, plus the sequence helpers (box/unbox/map/filter/flatten) the
// interpreter builds every navigation step out of.
//
// The corpus has no analogous typed boxed value (JSONata is untyped); the
// closest structural relative is OrderedObject in the corpus's
// pkg/evaluator/functions.go, which pairs a plain value with sidecar
// metadata (key order) the same way Value pairs a raw value with sidecar
// type/primitive-element metadata.
package value

import "github.com/atomic-ehr/fhirpath-sub002/internal/model"

// Value is a single boxed FHIRPath value.
type Value struct {
	Raw interface{}

	// Type is the statically- or dynamically-inferred TypeInfo, or nil
	// when no model provider was consulted.
	Type *model.TypeInfo

	// PrimitiveElement carries the FHIR `_name` sidecar object (extensions,
	// id) associated with a primitive value, so that `.extension`
	// navigation on a primitive can find it. Nil when absent.
	PrimitiveElement *Value
}

// Of boxes a raw value with no type or primitive-element metadata.
func Of(raw interface{}) *Value { return &Value{Raw: raw} }

// WithType returns a copy of v annotated with t.
func (v *Value) WithType(t model.TypeInfo) *Value {
	cp := *v
	cp.Type = &t
	return &cp
}

// WithPrimitiveElement returns a copy of v paired with sidecar pe.
func (v *Value) WithPrimitiveElement(pe *Value) *Value {
	cp := *v
	cp.PrimitiveElement = pe
	return &cp
}

// Unbox returns the raw Go value underneath v, or nil if v is nil.
func Unbox(v *Value) interface{} {
	if v == nil {
		return nil
	}
	return v.Raw
}

// Box wraps raw into a sequence of boxed values: nil yields an empty
// sequence, a []interface{} is flattened at every nesting level with each
// leaf boxed, a []*Value is returned as is, everything else becomes a singleton sequence. This is the
// "single values are wrapped" rule of spec.md §6/§8 invariant 1.
func Box(raw interface{}) []*Value {
	if raw == nil {
		return nil
	}
	if arr, ok := raw.([]interface{}); ok {
		out := make([]*Value, 0, len(arr))
		for _, item := range arr {
			out = append(out, Box(item)...)
		}
		return out
	}
	if vs, ok := raw.([]*Value); ok {
		return vs
	}
	return []*Value{Of(raw)}
}

// EnsureBoxed normalizes a single value into a one-element sequence; a
// nil value yields an empty sequence.
func EnsureBoxed(v *Value) []*Value {
	if v == nil {
		return nil
	}
	return []*Value{v}
}

// MapBoxed applies fn to every element, dropping nil results (FHIRPath
// navigation filters out null/undefined per spec.md §4.6).
func MapBoxed(seq []*Value, fn func(*Value) []*Value) []*Value {
	out := make([]*Value, 0, len(seq))
	for _, v := range seq {
		out = append(out, fn(v)...)
	}
	return out
}

// FilterBoxed keeps elements for which pred returns true.
func FilterBoxed(seq []*Value, pred func(*Value) bool) []*Value {
	out := make([]*Value, 0, len(seq))
	for _, v := range seq {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// FlattenBoxed flattens []interface{} Raw values of seq at every nesting
// level (via Box), boxing the leaf elements. Used after navigation steps that
// may produce sequence-of-sequence results.
func FlattenBoxed(seq []*Value) []*Value {
	out := make([]*Value, 0, len(seq))
	for _, v := range seq {
		if arr, ok := v.Raw.([]interface{}); ok {
			out = append(out, Box(arr)...)
			continue
		}
		out = append(out, v)
	}
	return out
}

// IsTruthy implements FHIRPath's singleton-boolean coercion used by
// and/or/not and by iterator predicates: a single boolean is itself; a
// single non-boolean is an error at the call site, not decided here;
// empty is "indeterminate" and must be handled by the caller via the
// three-valued-logic helpers in the interpreter package.
func IsTruthy(v *Value) (b bool, ok bool) {
	if v == nil {
		return false, false
	}
	bv, ok := v.Raw.(bool)
	return bv, ok
}

// DeepEqual performs structural equality over raw values, used by union
// (`|`) deduplication per spec.md §4.6 and DESIGN.md's Open Question
// resolution. Complex types (maps, slices) are compared structurally;
// primitives use Go's == after a type-aware numeric/string/bool switch.
func DeepEqual(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return deepEqualRaw(a.Raw, b.Raw)
}

func deepEqualRaw(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualRaw(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v1 := range av {
			v2, exists := bv[k]
			if !exists || !deepEqualRaw(v1, v2) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// IsComplex reports whether raw is a map or slice, the types union
// deduplication compares structurally rather than by identity/equality.
func IsComplex(raw interface{}) bool {
	switch raw.(type) {
	case []interface{}, map[string]interface{}:
		return true
	default:
		return false
	}
}
