// Package evalctx implements the prototype-chained RuntimeContext of
// spec.md §3/§4.5: a child context delegates variable lookup to its
// parent instead of copying bindings, giving O(1) child creation and
// O(depth) lookup. Ported almost unchanged from the corpus's
// pkg/evaluator/context.go, which implements the identical parent-pointer
// scheme for JSONata's own variable bindings.
package evalctx

import (
	"fmt"

	"github.com/atomic-ehr/fhirpath-sub002/internal/model"
	"github.com/atomic-ehr/fhirpath-sub002/internal/value"
)

// systemNames are the reserved variable names spec.md §4.5 says must
// silently reject user redefinition.
var systemNames = map[string]bool{
	"context": true, "resource": true, "rootResource": true,
	"ucum": true, "sct": true, "loinc": true,
}

// Context is the runtime evaluation context: current input/focus sequence
// plus a scoped variable mapping.
type Context struct {
	Input []*value.Value
	Focus []*value.Value

	parent *Context
	root   *Context

	bindings map[string]*value.Value

	ModelProvider model.Provider

	depth       int
	isArrayItem bool
}

// Create initializes a root context: %context/%resource/%rootResource all
// equal input, per spec.md §4.5.
func Create(input []*value.Value, mp model.Provider) *Context {
	ctx := &Context{Input: input, Focus: input, ModelProvider: mp}
	ctx.root = ctx
	ctx.bindings = map[string]*value.Value{}
	if len(input) == 1 {
		ctx.bindings["%context"] = input[0]
		ctx.bindings["%resource"] = input[0]
		ctx.bindings["%rootResource"] = input[0]
	}
	return ctx
}

// Copy creates an O(1) child context with lookup delegation to c. Per
// spec.md §4.5, this is the general pipeline-step / scope-entry operation.
func (c *Context) Copy() *Context {
	return &Context{
		Input:         c.Input,
		Focus:         c.Focus,
		parent:        c,
		root:          c.root,
		ModelProvider: c.ModelProvider,
		depth:         c.depth + 1,
	}
}

// WithInput returns a child context with a new input/focus sequence, used
// at each pipeline step.
func (c *Context) WithInput(input []*value.Value) *Context {
	child := c.Copy()
	child.Input = input
	child.Focus = input
	return child
}

// WithIterator returns a child context for iterating over a single item at
// position index within a collection of size total, binding $this, $index,
// and $total. Only contexts created this way are valid targets for any
// future parent-scope lookup.
func (c *Context) WithIterator(item *value.Value, index, total int) *Context {
	child := c.Copy()
	child.Input = []*value.Value{item}
	child.Focus = []*value.Value{item}
	child.isArrayItem = true
	child.SetBinding("$this", item)
	child.SetBinding("$index", value.Of(float64(index)))
	child.SetBinding("$total", value.Of(float64(total)))
	return child
}

// SetBinding sets a single raw binding by its fully-prefixed key (e.g.
// "%name", "$this"), lazily allocating the map. Internal helper; exported
// callers use SetVariable.
func (c *Context) SetBinding(key string, v *value.Value) {
	if c.bindings == nil {
		c.bindings = make(map[string]*value.Value)
	}
	c.bindings[key] = v
}

// SetVariable defines a user variable. Per spec.md §4.5/§8 invariant 7,
// redefining a system name or an already-bound name in the SAME scope is a
// silent no-op: it returns the unchanged context (same pointer) so callers
// can detect that nothing happened, rather than raising an error.
func (c *Context) SetVariable(name string, v *value.Value) *Context {
	if systemNames[name] {
		return c
	}
	key := "%" + name
	if _, exists := c.bindings[key]; exists {
		return c
	}
	child := c.Copy()
	child.SetBinding(key, v)
	return child
}

// GetVariable resolves $this/$index/$total, %name, and unprefixed
// environment aliases, searching this context then delegating to parent.
func (c *Context) GetVariable(name string) (*value.Value, bool) {
	for _, key := range variableKeys(name) {
		if v, ok := c.lookup(key); ok {
			return v, true
		}
	}
	return nil, false
}

// variableKeys returns the binding keys to try for a bare or prefixed
// variable name, in priority order.
func variableKeys(name string) []string {
	switch {
	case len(name) > 0 && name[0] == '$':
		return []string{name}
	case len(name) > 0 && name[0] == '%':
		return []string{name}
	default:
		return []string{"%" + name, "$" + name}
	}
}

func (c *Context) lookup(key string) (*value.Value, bool) {
	if v, ok := c.bindings[key]; ok {
		return v, true
	}
	if c.parent != nil {
		return c.parent.lookup(key)
	}
	return nil, false
}

// Root returns the outermost context, the one created by Create.
func (c *Context) Root() *Context { return c.root }

// IsArrayItem reports whether c was created by WithIterator.
func (c *Context) IsArrayItem() bool { return c.isArrayItem }

// Depth returns the nesting depth from the root context.
func (c *Context) Depth() int { return c.depth }

// Parent returns the parent context, or nil at the root.
func (c *Context) Parent() *Context { return c.parent }

func (c *Context) String() string {
	return fmt.Sprintf("Context{depth=%d, bindings=%d}", c.depth, len(c.bindings))
}
