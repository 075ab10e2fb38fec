package binding

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"pipeworker/codec"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Func is a callable binding backed by a Go function.
//
// Accepted shapes: an optional leading context.Context, any number of
// decodable parameters (the last may be variadic), and results (), (R),
// (error) or (R, error).
type Func struct {
	name      string
	fn        reflect.Value
	withCtx   bool
	params    []reflect.Type // excluding the context
	variadic  bool
	hasResult bool
	hasErr    bool
}

// NewFunc checks the signature of fn and wraps it.
func NewFunc(name string, fn any) (*Func, error) {
	return newFunc(name, reflect.ValueOf(fn))
}

// MustFunc is NewFunc for statically known functions.
func MustFunc(name string, fn any) *Func {
	f, err := NewFunc(name, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func newFunc(name string, fn reflect.Value) (*Func, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, errors.Errorf("binding %s: not a function", name)
	}
	if fn.IsNil() {
		return nil, errors.Errorf("binding %s: nil function", name)
	}
	typ := fn.Type()
	f := &Func{name: name, fn: fn, variadic: typ.IsVariadic()}

	for i := 0; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if i == 0 && in == contextType {
			f.withCtx = true
			continue
		}
		if in == contextType {
			return nil, errors.Errorf("binding %s: context.Context must be the first parameter", name)
		}
		f.params = append(f.params, in)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			f.hasErr = true
		} else {
			f.hasResult = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, errors.Errorf("binding %s: second result must be error, got %s", name, typ.Out(1))
		}
		f.hasResult = true
		f.hasErr = true
	default:
		return nil, errors.Errorf("binding %s: too many results (%d)", name, typ.NumOut())
	}
	return f, nil
}

func (f *Func) Name() string {
	return f.name
}

// Arity returns the declared parameter count, excluding a leading context.
// For variadic functions the variadic parameter counts as one.
func (f *Func) Arity() (n int, variadic bool) {
	return len(f.params), f.variadic
}

func (f *Func) Member(string) (Binding, bool) {
	return nil, false
}

// Call decodes args with c into the declared parameter types and calls the
// function. A returned non-nil error is passed through.
func (f *Func) Call(ctx context.Context, c codec.Codec, args []codec.Raw) (any, error) {
	n := len(f.params)
	if f.variadic {
		if len(args) < n-1 {
			return nil, &ArityError{Want: n - 1, Got: len(args), Variadic: true}
		}
	} else if len(args) != n {
		return nil, &ArityError{Want: n, Got: len(args)}
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if f.withCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		pt := f.paramType(i)
		v := reflect.New(pt)
		if len(arg) > 0 {
			if err := c.Decode(arg, v.Interface()); err != nil {
				return nil, &ArgumentError{Index: i, Type: pt, Err: err}
			}
		}
		in = append(in, v.Elem())
	}

	out := f.fn.Call(in)

	var result any
	if f.hasResult {
		result = out[0].Interface()
	}
	if f.hasErr {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	return result, nil
}

func (f *Func) paramType(i int) reflect.Type {
	last := len(f.params) - 1
	if f.variadic && i >= last {
		return f.params[last].Elem()
	}
	return f.params[i]
}
