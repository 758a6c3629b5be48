package registry

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/evalctx"
	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// registerAll populates the built-in function table. Grounded on the
// corpus's initBuiltinFunctions (pkg/evaluator/functions.go): a single
// flat map literal of name -> *FunctionDef, organized by category with a
// comment banner per category, same as the corpus.
func registerAll(m map[string]*FunctionDef) {
	for _, d := range []*FunctionDef{
		// --- iterator / filtering functions ---
		{Name: "where", MinArgs: 1, MaxArgs: 1, Impl: fnWhere},
		{Name: "select", MinArgs: 1, MaxArgs: 1, Impl: fnSelect},
		{Name: "all", MinArgs: 0, MaxArgs: 1, Impl: fnAll},
		{Name: "exists", MinArgs: 0, MaxArgs: 1, Impl: fnExists},
		{Name: "repeat", MinArgs: 1, MaxArgs: 1, Impl: fnRepeat},

		// --- collection functions ---
		{Name: "distinct", MinArgs: 0, MaxArgs: 0, Impl: fnDistinct},
		{Name: "isDistinct", MinArgs: 0, MaxArgs: 0, Impl: fnIsDistinct},
		{Name: "count", MinArgs: 0, MaxArgs: 0, Impl: fnCount},
		{Name: "empty", MinArgs: 0, MaxArgs: 0, Impl: fnEmpty},
		{Name: "first", MinArgs: 0, MaxArgs: 0, Impl: fnFirst},
		{Name: "last", MinArgs: 0, MaxArgs: 0, Impl: fnLast},
		{Name: "tail", MinArgs: 0, MaxArgs: 0, Impl: fnTail},
		{Name: "skip", MinArgs: 1, MaxArgs: 1, Impl: fnSkip},
		{Name: "take", MinArgs: 1, MaxArgs: 1, Impl: fnTake},
		{Name: "single", MinArgs: 0, MaxArgs: 0, Impl: fnSingle},
		{Name: "combine", MinArgs: 1, MaxArgs: 1, Impl: fnCombine},
		{Name: "union", MinArgs: 1, MaxArgs: 1, Impl: fnUnion},
		{Name: "intersect", MinArgs: 1, MaxArgs: 1, Impl: fnIntersect},
		{Name: "exclude", MinArgs: 1, MaxArgs: 1, Impl: fnExclude},
		{Name: "subsetOf", MinArgs: 1, MaxArgs: 1, Impl: fnSubsetOf},

		// --- logic / control flow ---
		{Name: "not", MinArgs: 0, MaxArgs: 0, Impl: fnNot},
		{Name: "iif", MinArgs: 2, MaxArgs: 3, Impl: fnIif},
		{Name: "defineVariable", MinArgs: 1, MaxArgs: 2, Impl: fnDefineVariable},

		// --- string functions ---
		{Name: "length", MinArgs: 0, MaxArgs: 0, Impl: fnLength},
		{Name: "upper", MinArgs: 0, MaxArgs: 0, Impl: fnUpper},
		{Name: "lower", MinArgs: 0, MaxArgs: 0, Impl: fnLower},
		{Name: "trim", MinArgs: 0, MaxArgs: 0, Impl: fnTrim},
		{Name: "substring", MinArgs: 1, MaxArgs: 2, Impl: fnSubstring},
		{Name: "contains", MinArgs: 1, MaxArgs: 1, Impl: fnStrContains},
		{Name: "startsWith", MinArgs: 1, MaxArgs: 1, Impl: fnStartsWith},
		{Name: "endsWith", MinArgs: 1, MaxArgs: 1, Impl: fnEndsWith},
		{Name: "indexOf", MinArgs: 1, MaxArgs: 1, Impl: fnIndexOf},
		{Name: "replace", MinArgs: 2, MaxArgs: 2, Impl: fnReplace},
		{Name: "matches", MinArgs: 1, MaxArgs: 1, Impl: fnMatches},
		{Name: "split", MinArgs: 1, MaxArgs: 1, Impl: fnSplit},
		{Name: "join", MinArgs: 0, MaxArgs: 1, Impl: fnJoin},
		{Name: "toChars", MinArgs: 0, MaxArgs: 0, Impl: fnToChars},

		// --- math functions ---
		{Name: "abs", MinArgs: 0, MaxArgs: 0, Impl: fnAbs},
		{Name: "ceiling", MinArgs: 0, MaxArgs: 0, Impl: fnCeiling},
		{Name: "floor", MinArgs: 0, MaxArgs: 0, Impl: fnFloor},
		{Name: "round", MinArgs: 0, MaxArgs: 1, Impl: fnRound},
		{Name: "sqrt", MinArgs: 0, MaxArgs: 0, Impl: fnSqrt},
		{Name: "truncate", MinArgs: 0, MaxArgs: 0, Impl: fnTruncate},
		{Name: "power", MinArgs: 1, MaxArgs: 1, Impl: fnPower},

		// --- conversion / type functions ---
		{Name: "toString", MinArgs: 0, MaxArgs: 0, Impl: fnToString},
		{Name: "toInteger", MinArgs: 0, MaxArgs: 0, Impl: fnToInteger},
		{Name: "toDecimal", MinArgs: 0, MaxArgs: 0, Impl: fnToDecimal},
		{Name: "toBoolean", MinArgs: 0, MaxArgs: 0, Impl: fnToBoolean},
		{Name: "hasValue", MinArgs: 0, MaxArgs: 0, Impl: fnHasValue},
		{Name: "ofType", MinArgs: 1, MaxArgs: 1, Impl: fnOfType},
	} {
		m[d.Name] = d
	}
}

// --- helpers shared across implementations ---

func asBool(v *value.Value) (bool, bool) {
	if v == nil {
		return false, false
	}
	b, ok := v.Raw.(bool)
	return b, ok
}

func asNumber(v *value.Value) (float64, bool) {
	if v == nil {
		return 0, false
	}
	n, ok := v.Raw.(float64)
	return n, ok
}

func asString(v *value.Value) (string, bool) {
	if v == nil {
		return "", false
	}
	s, ok := v.Raw.(string)
	return s, ok
}

func singleton(input []*value.Value) (*value.Value, bool) {
	if len(input) != 1 {
		return nil, false
	}
	return input[0], true
}

// --- iterator / filtering ---

func fnWhere(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	out := make([]*value.Value, 0, len(input))
	for i, item := range input {
		iterCtx := ctx.WithIterator(item, i, len(input))
		res, err := eval(args[0], iterCtx)
		if err != nil {
			return nil, nil, err
		}
		if b, ok := singleton(res); ok {
			if truth, isBool := asBool(b); isBool && truth {
				out = append(out, item)
			}
		}
	}
	return out, nil, nil
}

func fnSelect(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	out := make([]*value.Value, 0, len(input))
	for i, item := range input {
		iterCtx := ctx.WithIterator(item, i, len(input))
		res, err := eval(args[0], iterCtx)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, res...)
	}
	return out, nil, nil
}

func fnAll(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	if len(args) == 0 {
		for _, item := range input {
			if truth, ok := asBool(item); !ok || !truth {
				return []*value.Value{value.Of(false)}, nil, nil
			}
		}
		return []*value.Value{value.Of(true)}, nil, nil
	}
	for i, item := range input {
		iterCtx := ctx.WithIterator(item, i, len(input))
		res, err := eval(args[0], iterCtx)
		if err != nil {
			return nil, nil, err
		}
		b, ok := singleton(res)
		if !ok {
			return []*value.Value{value.Of(false)}, nil, nil
		}
		truth, isBool := asBool(b)
		if !isBool || !truth {
			return []*value.Value{value.Of(false)}, nil, nil
		}
	}
	return []*value.Value{value.Of(true)}, nil, nil
}

func fnExists(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	if len(args) == 0 {
		return []*value.Value{value.Of(len(input) > 0)}, nil, nil
	}
	filtered, _, err := fnWhere(input, ctx, args, eval)
	if err != nil {
		return nil, nil, err
	}
	return []*value.Value{value.Of(len(filtered) > 0)}, nil, nil
}

func fnRepeat(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	seen := make([]*value.Value, 0)
	frontier := input
	for len(frontier) > 0 {
		var next []*value.Value
		for i, item := range frontier {
			iterCtx := ctx.WithIterator(item, i, len(frontier))
			res, err := eval(args[0], iterCtx)
			if err != nil {
				return nil, nil, err
			}
			for _, r := range res {
				if containsDeep(seen, r) {
					continue
				}
				seen = append(seen, r)
				next = append(next, r)
			}
		}
		frontier = next
	}
	return seen, nil, nil
}

func containsDeep(haystack []*value.Value, needle *value.Value) bool {
	for _, h := range haystack {
		if value.DeepEqual(h, needle) {
			return true
		}
	}
	return false
}

// --- collection functions ---

func fnDistinct(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	out := make([]*value.Value, 0, len(input))
	for _, v := range input {
		if !containsDeep(out, v) {
			out = append(out, v)
		}
	}
	return out, nil, nil
}

func fnIsDistinct(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	seen := make([]*value.Value, 0, len(input))
	for _, v := range input {
		if containsDeep(seen, v) {
			return []*value.Value{value.Of(false)}, nil, nil
		}
		seen = append(seen, v)
	}
	return []*value.Value{value.Of(true)}, nil, nil
}

func fnCount(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return []*value.Value{value.Of(float64(len(input)))}, nil, nil
}

func fnEmpty(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return []*value.Value{value.Of(len(input) == 0)}, nil, nil
}

func fnFirst(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	if len(input) == 0 {
		return nil, nil, nil
	}
	return input[:1], nil, nil
}

func fnLast(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	if len(input) == 0 {
		return nil, nil, nil
	}
	return input[len(input)-1:], nil, nil
}

func fnTail(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	if len(input) <= 1 {
		return nil, nil, nil
	}
	return input[1:], nil, nil
}

func fnSkip(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	res, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	n, ok := singleton(res)
	num, isNum := asNumber(n)
	if !ok || !isNum {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "skip() requires a single integer argument")
	}
	k := int(num)
	if k < 0 {
		k = 0
	}
	if k >= len(input) {
		return nil, nil, nil
	}
	return input[k:], nil, nil
}

func fnTake(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	res, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	n, ok := singleton(res)
	num, isNum := asNumber(n)
	if !ok || !isNum {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "take() requires a single integer argument")
	}
	k := int(num)
	if k <= 0 {
		return nil, nil, nil
	}
	if k > len(input) {
		k = len(input)
	}
	return input[:k], nil, nil
}

func fnSingle(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	switch len(input) {
	case 0:
		return nil, nil, fhirerr.New(fhirerr.CodeSingletonNoMatch, "single() called on an empty collection")
	case 1:
		return input, nil, nil
	default:
		return nil, nil, fhirerr.New(fhirerr.CodeSingletonOnly, "single() called on a collection with more than one item")
	}
}

func fnCombine(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	other, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*value.Value, 0, len(input)+len(other))
	out = append(out, input...)
	out = append(out, other...)
	return out, nil, nil
}

func fnUnion(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	other, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*value.Value, 0, len(input)+len(other))
	for _, v := range input {
		if !containsDeep(out, v) {
			out = append(out, v)
		}
	}
	for _, v := range other {
		if !containsDeep(out, v) {
			out = append(out, v)
		}
	}
	return out, nil, nil
}

func fnIntersect(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	other, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*value.Value, 0)
	for _, v := range input {
		if containsDeep(other, v) && !containsDeep(out, v) {
			out = append(out, v)
		}
	}
	return out, nil, nil
}

func fnExclude(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	other, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*value.Value, 0, len(input))
	for _, v := range input {
		if !containsDeep(other, v) {
			out = append(out, v)
		}
	}
	return out, nil, nil
}

func fnSubsetOf(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	other, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, v := range input {
		if !containsDeep(other, v) {
			return []*value.Value{value.Of(false)}, nil, nil
		}
	}
	return []*value.Value{value.Of(true)}, nil, nil
}

// --- logic / control flow ---

func fnNot(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil // not({}) = {}, spec.md §7
	}
	b, isBool := asBool(v)
	if !isBool {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "not() requires a boolean operand")
	}
	return []*value.Value{value.Of(!b)}, nil, nil
}

func fnIif(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	cond, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	truth := false
	if v, ok := singleton(cond); ok {
		truth, _ = asBool(v)
	}
	if truth {
		res, err := eval(args[1], ctx)
		return res, nil, err
	}
	if len(args) == 3 {
		res, err := eval(args[2], ctx)
		return res, nil, err
	}
	return nil, nil, nil
}

func fnDefineVariable(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	nameSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	nameVal, ok := singleton(nameSeq)
	name, isStr := asString(nameVal)
	if !ok || !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "defineVariable() requires a string name")
	}

	var bound []*value.Value
	if len(args) == 2 {
		bound, err = eval(args[1], ctx)
		if err != nil {
			return nil, nil, err
		}
	} else {
		bound = input
	}
	var boundValue *value.Value
	if len(bound) == 1 {
		boundValue = bound[0]
	} else if len(bound) > 1 {
		raw := make([]interface{}, len(bound))
		for i, v := range bound {
			raw[i] = value.Unbox(v)
		}
		boundValue = value.Of(raw)
	}
	newCtx := ctx.SetVariable(name, boundValue)
	return input, newCtx, nil
}

// --- string functions ---

func fnLength(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "length() requires a string operand")
	}
	return []*value.Value{value.Of(float64(len([]rune(s))))}, nil, nil
}

func fnUpper(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return stringMap(input, strings.ToUpper)
}

func fnLower(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return stringMap(input, strings.ToLower)
}

func fnTrim(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return stringMap(input, strings.TrimSpace)
}

func stringMap(input []*value.Value, fn func(string) string) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "expected a string operand")
	}
	return []*value.Value{value.Of(fn(s))}, nil, nil
}

func fnSubstring(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "substring() requires a string operand")
	}
	runes := []rune(s)
	startSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	startVal, _ := singleton(startSeq)
	start, isNum := asNumber(startVal)
	if !isNum {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "substring() start index must be an integer")
	}
	startIdx := int(start)
	if startIdx < 0 || startIdx >= len(runes) {
		return nil, nil, nil
	}
	length := len(runes) - startIdx
	if len(args) == 2 {
		lenSeq, err := eval(args[1], ctx)
		if err != nil {
			return nil, nil, err
		}
		lenVal, _ := singleton(lenSeq)
		l, isNum := asNumber(lenVal)
		if isNum {
			length = int(l)
		}
	}
	if length < 0 {
		length = 0
	}
	end := startIdx + length
	if end > len(runes) {
		end = len(runes)
	}
	return []*value.Value{value.Of(string(runes[startIdx:end]))}, nil, nil
}

func fnStrContains(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return stringBinaryPredicate(input, ctx, args, eval, strings.Contains)
}

func fnStartsWith(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return stringBinaryPredicate(input, ctx, args, eval, strings.HasPrefix)
}

func fnEndsWith(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return stringBinaryPredicate(input, ctx, args, eval, strings.HasSuffix)
}

func stringBinaryPredicate(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc, pred func(s, sub string) bool) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "expected a string operand")
	}
	argSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	argVal, _ := singleton(argSeq)
	sub, isStr2 := asString(argVal)
	if !isStr2 {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "expected a string argument")
	}
	return []*value.Value{value.Of(pred(s, sub))}, nil, nil
}

func fnIndexOf(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "indexOf() requires a string operand")
	}
	argSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	argVal, _ := singleton(argSeq)
	sub, isStr2 := asString(argVal)
	if !isStr2 {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "indexOf() requires a string argument")
	}
	idx := strings.Index(s, sub)
	return []*value.Value{value.Of(float64(idx))}, nil, nil
}

func fnReplace(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "replace() requires a string operand")
	}
	patSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	subSeq, err := eval(args[1], ctx)
	if err != nil {
		return nil, nil, err
	}
	patVal, _ := singleton(patSeq)
	subVal, _ := singleton(subSeq)
	pat, _ := asString(patVal)
	sub, _ := asString(subVal)
	return []*value.Value{value.Of(strings.ReplaceAll(s, pat, sub))}, nil, nil
}

func fnMatches(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "matches() requires a string operand")
	}
	patSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	patVal, _ := singleton(patSeq)
	pat, isStr2 := asString(patVal)
	if !isStr2 {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "matches() requires a string pattern")
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, nil, fhirerr.New(fhirerr.CodeInvalidSyntax, "invalid regular expression: "+err.Error())
	}
	return []*value.Value{value.Of(re.MatchString(s))}, nil, nil
}

func fnSplit(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "split() requires a string operand")
	}
	sepSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	sepVal, _ := singleton(sepSeq)
	sep, _ := asString(sepVal)
	parts := strings.Split(s, sep)
	out := make([]*value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.Of(p)
	}
	return out, nil, nil
}

func fnJoin(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	sep := ""
	if len(args) == 1 {
		sepSeq, err := eval(args[0], ctx)
		if err != nil {
			return nil, nil, err
		}
		sepVal, _ := singleton(sepSeq)
		sep, _ = asString(sepVal)
	}
	parts := make([]string, 0, len(input))
	for _, v := range input {
		s, isStr := asString(v)
		if !isStr {
			return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "join() requires a collection of strings")
		}
		parts = append(parts, s)
	}
	return []*value.Value{value.Of(strings.Join(parts, sep))}, nil, nil
}

func fnToChars(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	s, isStr := asString(v)
	if !isStr {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "toChars() requires a string operand")
	}
	runes := []rune(s)
	out := make([]*value.Value, len(runes))
	for i, r := range runes {
		out[i] = value.Of(string(r))
	}
	return out, nil, nil
}

// --- math functions ---

func numericUnary(input []*value.Value, fn func(float64) float64) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	n, isNum := asNumber(v)
	if !isNum {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "expected a numeric operand")
	}
	return []*value.Value{value.Of(fn(n))}, nil, nil
}

func fnAbs(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return numericUnary(input, math.Abs)
}
func fnCeiling(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return numericUnary(input, math.Ceil)
}
func fnFloor(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return numericUnary(input, math.Floor)
}
func fnSqrt(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return numericUnary(input, math.Sqrt)
}
func fnTruncate(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	return numericUnary(input, math.Trunc)
}

func fnRound(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	n, isNum := asNumber(v)
	if !isNum {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "round() requires a numeric operand")
	}
	precision := 0
	if len(args) == 1 {
		pSeq, err := eval(args[0], ctx)
		if err != nil {
			return nil, nil, err
		}
		pVal, _ := singleton(pSeq)
		p, isNum := asNumber(pVal)
		if isNum {
			precision = int(p)
		}
	}
	mult := math.Pow(10, float64(precision))
	return []*value.Value{value.Of(math.Round(n*mult) / mult)}, nil, nil
}

func fnPower(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	base, isNum := asNumber(v)
	if !isNum {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "power() requires a numeric operand")
	}
	expSeq, err := eval(args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	expVal, _ := singleton(expSeq)
	exp, isNum2 := asNumber(expVal)
	if !isNum2 {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "power() requires a numeric exponent")
	}
	result := math.Pow(base, exp)
	if math.IsNaN(result) {
		return nil, nil, nil // negative base with fractional exponent -> empty, per FHIRPath
	}
	return []*value.Value{value.Of(result)}, nil, nil
}

// --- conversion functions ---

func fnToString(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	switch raw := v.Raw.(type) {
	case string:
		return []*value.Value{value.Of(raw)}, nil, nil
	case float64:
		return []*value.Value{value.Of(strconv.FormatFloat(raw, 'f', -1, 64))}, nil, nil
	case bool:
		return []*value.Value{value.Of(strconv.FormatBool(raw))}, nil, nil
	default:
		return nil, nil, nil
	}
}

func fnToInteger(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	switch raw := v.Raw.(type) {
	case float64:
		return []*value.Value{value.Of(math.Trunc(raw))}, nil, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, nil, nil
		}
		return []*value.Value{value.Of(math.Trunc(n))}, nil, nil
	case bool:
		if raw {
			return []*value.Value{value.Of(float64(1))}, nil, nil
		}
		return []*value.Value{value.Of(float64(0))}, nil, nil
	default:
		return nil, nil, nil
	}
}

func fnToDecimal(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	switch raw := v.Raw.(type) {
	case float64:
		return []*value.Value{value.Of(raw)}, nil, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, nil, nil
		}
		return []*value.Value{value.Of(n)}, nil, nil
	default:
		return nil, nil, nil
	}
}

func fnToBoolean(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return nil, nil, nil
	}
	switch raw := v.Raw.(type) {
	case bool:
		return []*value.Value{value.Of(raw)}, nil, nil
	case string:
		switch strings.ToLower(raw) {
		case "true", "t", "yes", "y", "1", "1.0":
			return []*value.Value{value.Of(true)}, nil, nil
		case "false", "f", "no", "n", "0", "0.0":
			return []*value.Value{value.Of(false)}, nil, nil
		}
		return nil, nil, nil
	case float64:
		if raw == 1 {
			return []*value.Value{value.Of(true)}, nil, nil
		}
		if raw == 0 {
			return []*value.Value{value.Of(false)}, nil, nil
		}
		return nil, nil, nil
	default:
		return nil, nil, nil
	}
}

// typeSpecifierName reads a type-specifier argument's name directly off its
// AST node instead of evaluating it: `ofType(Boolean)` parses its argument
// as a bare Identifier/TypeOrIdentifier node (or, for a namespaced name
// like `FHIR.Quantity`, a `.`-chain of them), never as a subexpression to
// evaluate against the current focus — mirroring how evalIs/evalAs in
// internal/interpreter/eval_typetest.go read node.Name rather than calling
// eval on the right-hand side of `is`/`as`. Only the final segment is kept,
// matching the parser's own parseTypeTest resolution.
func typeSpecifierName(node *ast.Node) (string, bool) {
	switch node.Kind {
	case ast.Identifier, ast.TypeOrIdentifier:
		return node.Name, true
	case ast.Binary:
		if node.Operator == "." {
			return typeSpecifierName(node.RHS)
		}
	}
	return "", false
}

// fnOfType filters input to items whose Go representation matches the
// named System primitive type. Without a model.Provider configured (see
// DESIGN.md's Open Question resolution), FHIR complex-type arguments
// never match; only the primitive kinds a boxed Value can carry directly
// are recognized here.
func fnOfType(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	name, ok := typeSpecifierName(args[0])
	if !ok {
		return nil, nil, fhirerr.New(fhirerr.CodeTypeMismatch, "ofType() requires a type name argument")
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}

	out := make([]*value.Value, 0, len(input))
	for _, v := range input {
		matched := false
		switch name {
		case "Boolean":
			_, matched = v.Raw.(bool)
		case "String":
			_, matched = v.Raw.(string)
		case "Integer", "Long":
			n, ok := v.Raw.(float64)
			matched = ok && n == float64(int64(n))
		case "Decimal":
			_, matched = v.Raw.(float64)
		default:
			if v.Type != nil {
				matched = v.Type.TypeName == name || v.Type.Name == name
			}
		}
		if matched {
			out = append(out, v)
		}
	}
	return out, nil, nil
}

func fnHasValue(input []*value.Value, ctx *evalctx.Context, args []*ast.Node, eval EvalFunc) ([]*value.Value, *evalctx.Context, error) {
	v, ok := singleton(input)
	if !ok {
		return []*value.Value{value.Of(false)}, nil, nil
	}
	switch v.Raw.(type) {
	case map[string]interface{}, []interface{}, nil:
		return []*value.Value{value.Of(false)}, nil, nil
	default:
		return []*value.Value{value.Of(true)}, nil, nil
	}
}
