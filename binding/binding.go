// Package binding holds the worker's name table and the bindings stored in it.
//
// A Binding is what an export name resolves to: a Func (a Go function with a
// declared arity), an Object (a struct pointer whose methods are members), a
// Namespace (an explicit map of members) or a plain Value. Dotted call targets
// walk members: "counter.Incr" is the Incr member of the binding named counter.
package binding

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"pipeworker/codec"
)

// Binding is a value bound to an export name.
type Binding interface {
	// Member returns the named member, for dotted targets.
	Member(name string) (Binding, bool)
}

// Callable is a binding that can be invoked with positional arguments
// encoded by c.
type Callable interface {
	Binding
	Call(ctx context.Context, c codec.Codec, args []codec.Raw) (any, error)
}

// Namespace is a binding whose members are listed explicitly.
type Namespace map[string]Binding

func (ns Namespace) Member(name string) (Binding, bool) {
	b, ok := ns[name]
	return b, ok
}

// Value is a plain, non-callable binding.
type Value struct {
	V any
}

func (v Value) Member(string) (Binding, bool) {
	return nil, false
}

// Wrap turns an exported Go value into a Binding:
// Bindings are returned as-is, functions become Funcs, struct pointers become
// Objects, map[string]any become Namespaces (recursively), anything else a Value.
func Wrap(name string, v any) (Binding, error) {
	switch x := v.(type) {
	case Binding:
		return x, nil
	case map[string]any:
		ns := make(Namespace, len(x))
		for k, member := range x {
			b, err := Wrap(name+"."+k, member)
			if err != nil {
				return nil, err
			}
			ns[k] = b
		}
		return ns, nil
	}

	typ := reflect.TypeOf(v)
	switch {
	case typ == nil:
		return Value{}, nil
	case typ.Kind() == reflect.Func:
		return NewFunc(name, v)
	case typ.Kind() == reflect.Ptr && typ.Elem().Kind() == reflect.Struct:
		return NewObject(v)
	}
	return Value{V: v}, nil
}

// Table maps export names to bindings. It is owned by one worker and is not
// safe for concurrent use; the worker's sequential loop is its only user.
type Table struct {
	entries map[string]Binding
}

func NewTable() *Table {
	return &Table{entries: make(map[string]Binding)}
}

// Set binds name, replacing any earlier binding of the same name.
func (t *Table) Set(name string, b Binding) {
	t.entries[name] = b
}

func (t *Table) Get(name string) (Binding, bool) {
	b, ok := t.entries[name]
	return b, ok
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Names returns the bound names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArityError reports a call with the wrong number of arguments.
type ArityError struct {
	Want     int
	Got      int
	Variadic bool
}

func (e *ArityError) Error() string {
	if e.Variadic {
		return fmt.Sprintf("wrong number of arguments: want at least %d, got %d", e.Want, e.Got)
	}
	return fmt.Sprintf("wrong number of arguments: want %d, got %d", e.Want, e.Got)
}

// ArgumentError reports an argument that could not be decoded into its
// parameter type.
type ArgumentError struct {
	Index int
	Type  reflect.Type
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d: cannot decode into %s: %v", e.Index, e.Type, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
