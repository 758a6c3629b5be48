package fhirpath_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/model"

	fhirpath "github.com/atomic-ehr/fhirpath-sub002"
)

func mustEval(t *testing.T, expr string, input interface{}) []interface{} {
	t.Helper()
	result, err := fhirpath.Evaluate(expr, input)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", expr, err)
	}
	return result
}

// TestSeedScenarios runs the worked examples used to validate the engine
// end to end: property navigation with filtering, operator precedence,
// collection-literal dedup, conditional selection, variable binding
// across a pipeline, union dedup, singleton-arity errors, and indexing.
func TestSeedScenarios(t *testing.T) {
	patient := map[string]interface{}{
		"resourceType": "Patient",
		"name": []interface{}{
			map[string]interface{}{"use": "official", "given": []interface{}{"John", "Q"}},
			map[string]interface{}{"use": "nick", "given": []interface{}{"Johnny"}},
		},
	}

	t.Run("S1 path navigation with where/first", func(t *testing.T) {
		got := mustEval(t, "Patient.name.where(use = 'official').given.first()", patient)
		want := []interface{}{"John"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("S2 arithmetic precedence", func(t *testing.T) {
		got := mustEval(t, "1 + 2 * 3", map[string]interface{}{})
		want := []interface{}{7.0}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("S3 collection literal distinct", func(t *testing.T) {
		got := mustEval(t, "{1,2,2,3}.distinct()", map[string]interface{}{})
		want := []interface{}{1.0, 2.0, 3.0}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("S4 iif", func(t *testing.T) {
		got := mustEval(t, "iif(true, 'a', 'b')", map[string]interface{}{})
		want := []interface{}{"a"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("S5 defineVariable threads through pipeline", func(t *testing.T) {
		got := mustEval(t, "defineVariable('x', 10).select(%x + 1)", []interface{}{1.0, 2.0})
		want := []interface{}{11.0, 11.0}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("S6 union dedup", func(t *testing.T) {
		got := mustEval(t, "(5 | 5 | 6)", map[string]interface{}{})
		want := []interface{}{5.0, 6.0}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("S7 single() requires a singleton", func(t *testing.T) {
		input := []interface{}{
			map[string]interface{}{"value": []interface{}{1.0, 2.0}},
		}
		_, err := fhirpath.Evaluate("value.single()", input)
		if err == nil {
			t.Fatal("expected an error, got none")
		}
		var fe *fhirerr.Error
		if !errors.As(err, &fe) {
			t.Fatalf("error is not a fhirerr.Error: %v", err)
		}
		if fe.Code != fhirerr.CodeSingletonOnly {
			t.Errorf("Code = %v, want %v", fe.Code, fhirerr.CodeSingletonOnly)
		}
	})

	t.Run("S8 indexing after a path", func(t *testing.T) {
		got := mustEval(t, "Patient.name.given[1]", patient)
		want := []interface{}{"Q"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}

func TestEvaluateWithVariable(t *testing.T) {
	got, err := fhirpath.Evaluate("%greeting", map[string]interface{}{}, fhirpath.WithVariable("greeting", "hi"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []interface{}{"hi"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCompileOnceEvaluateMany(t *testing.T) {
	expr, err := fhirpath.Parse("name.given")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a := map[string]interface{}{"name": map[string]interface{}{"given": []interface{}{"Ann"}}}
	b := map[string]interface{}{"name": map[string]interface{}{"given": []interface{}{"Bo"}}}

	gotA, err := fhirpath.EvaluateExpression(expr, a)
	if err != nil {
		t.Fatalf("EvaluateExpression(a): %v", err)
	}
	if !reflect.DeepEqual(gotA, []interface{}{"Ann"}) {
		t.Errorf("got %v, want [Ann]", gotA)
	}

	gotB, err := fhirpath.EvaluateExpression(expr, b)
	if err != nil {
		t.Fatalf("EvaluateExpression(b): %v", err)
	}
	if !reflect.DeepEqual(gotB, []interface{}{"Bo"}) {
		t.Errorf("got %v, want [Bo]", gotB)
	}
}

func TestInspectWithoutInput(t *testing.T) {
	res := fhirpath.Inspect("1 + 2")
	if res.EvalError != nil {
		t.Fatalf("unexpected EvalError: %v", res.EvalError)
	}
	if res.Result != nil {
		t.Errorf("Result = %v, want nil (no input supplied)", res.Result)
	}
}

func TestInspectWithInput(t *testing.T) {
	res := fhirpath.Inspect("name.given", fhirpath.WithInspectInput(
		map[string]interface{}{"name": map[string]interface{}{"given": []interface{}{"Ann"}}}))
	if res.EvalError != nil {
		t.Fatalf("unexpected EvalError: %v", res.EvalError)
	}
	want := []interface{}{"Ann"}
	if !reflect.DeepEqual(res.Result, want) {
		t.Errorf("Result = %v, want %v", res.Result, want)
	}
}

func TestAnalyzeFlagsUndeclaredVariableViaPublicAPI(t *testing.T) {
	expr, err := fhirpath.Analyze("%foo + %bar", fhirpath.WithAnalyzeVariables("foo"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(expr.Diagnostics) != 1 {
		t.Fatalf("Diagnostics = %v, want exactly one finding for %%bar", expr.Diagnostics)
	}
	if expr.Diagnostics[0].Code != string(fhirerr.CodeUndefinedVar) {
		t.Errorf("Code = %q, want %q", expr.Diagnostics[0].Code, fhirerr.CodeUndefinedVar)
	}
}

func TestAnalyzeErrorRecoveryAvoidsHardFailure(t *testing.T) {
	strict, err := fhirpath.Analyze("Patient.name.")
	if err == nil {
		t.Fatalf("expected a hard parse failure in strict mode, got expr %v", strict)
	}

	recovered, err := fhirpath.Analyze("Patient.name.", fhirpath.WithErrorRecovery(true))
	if err != nil {
		t.Fatalf("Analyze with recovery: unexpected error %v", err)
	}
	if recovered == nil {
		t.Fatal("expected a recovered Expression, got nil")
	}
}

func TestUnknownFunctionIsParseableButFailsEval(t *testing.T) {
	_, err := fhirpath.Evaluate("notAFunction()", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected an error, got none")
	}
}

func TestDivisionByZeroReturnsEmpty(t *testing.T) {
	for _, expr := range []string{"1 / 0", "1 div 0", "1 mod 0"} {
		got, err := fhirpath.Evaluate(expr, map[string]interface{}{})
		if err != nil {
			t.Errorf("Evaluate(%q): unexpected error %v", expr, err)
		}
		if got != nil {
			t.Errorf("Evaluate(%q) = %v, want empty", expr, got)
		}
	}
}

func TestIncomparableTypesCompareToEmpty(t *testing.T) {
	for _, expr := range []string{"1 < 'a'", "'a' > 1", "true <= 2"} {
		got, err := fhirpath.Evaluate(expr, map[string]interface{}{})
		if err != nil {
			t.Errorf("Evaluate(%q): unexpected error %v", expr, err)
		}
		if got != nil {
			t.Errorf("Evaluate(%q) = %v, want empty", expr, got)
		}
	}
}

func TestOfTypeFiltersByTypeSpecifier(t *testing.T) {
	got := mustEval(t, "{1, 'two', 3}.ofType(String)", map[string]interface{}{})
	want := []interface{}{"two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUnresolvedVariableIsFatal(t *testing.T) {
	_, err := fhirpath.Evaluate("%nope", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected an error, got none")
	}
	var fe *fhirerr.Error
	if !errors.As(err, &fe) {
		t.Fatalf("error is not a fhirerr.Error: %v", err)
	}
	if fe.Code != fhirerr.CodeUndefinedVar {
		t.Errorf("Code = %v, want %v", fe.Code, fhirerr.CodeUndefinedVar)
	}
}

func TestIteratorVariablesAreNotFatalWhenUnbound(t *testing.T) {
	got, err := fhirpath.Evaluate("$index", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate($index) outside an iterator should be empty, not an error: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want empty", got)
	}
}

// fakePatientProvider is a minimal model.Provider recognizing exactly one
// resource/element pair, enough to exercise the interpreter's runtime
// type propagation and the is/as provider consult without a full FHIR
// StructureDefinition index.
type fakePatientProvider struct{}

func (fakePatientProvider) GetType(name string) (model.TypeInfo, bool) {
	if name == "Patient" {
		return model.TypeInfo{TypeName: "Patient"}, true
	}
	return model.TypeInfo{}, false
}

func (fakePatientProvider) GetElementType(parent model.TypeInfo, propertyName string) (model.TypeInfo, bool) {
	if parent.TypeName == "Patient" && propertyName == "maritalStatus" {
		return model.TypeInfo{TypeName: "CodeableConcept"}, true
	}
	return model.TypeInfo{}, false
}

func (fakePatientProvider) OfType(t model.TypeInfo, targetName string) (model.TypeInfo, bool) {
	if t.TypeName == targetName {
		return t, true
	}
	return model.TypeInfo{}, false
}

func (fakePatientProvider) GetElementNames(model.TypeInfo) []string { return nil }

func (fakePatientProvider) GetChildrenType(model.TypeInfo) (model.TypeInfo, bool) {
	return model.TypeInfo{}, false
}

func (fakePatientProvider) GetResourceTypes() []string { return []string{"Patient"} }

func TestIsConsultsModelProvider(t *testing.T) {
	patient := map[string]interface{}{
		"resourceType":  "Patient",
		"maritalStatus": map[string]interface{}{"text": "Married"},
	}
	got, err := fhirpath.Evaluate("Patient.maritalStatus is CodeableConcept", patient,
		fhirpath.WithEvalModelProvider(fakePatientProvider{}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []interface{}{true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestIsFallsBackToPrimitiveKindWithoutProviderMatch(t *testing.T) {
	patient := map[string]interface{}{
		"resourceType":  "Patient",
		"maritalStatus": map[string]interface{}{"text": "Married"},
	}
	got, err := fhirpath.Evaluate("Patient.maritalStatus is Quantity", patient,
		fhirpath.WithEvalModelProvider(fakePatientProvider{}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []interface{}{false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
