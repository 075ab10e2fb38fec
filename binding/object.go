package binding

import (
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

// Object exposes the exported methods of a struct pointer as members.
// Methods whose signature is not a valid Func shape are skipped.
type Object struct {
	name    string
	rcvr    reflect.Value
	methods map[string]*Func
}

// NewObject scans rcvr's method set. rcvr must be a pointer to a struct.
func NewObject(rcvr any) (*Object, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.Errorf("binding: object must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("binding: object must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)
	obj := &Object{
		name:    typ.Elem().Name(),
		rcvr:    val,
		methods: make(map[string]*Func),
	}
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		f, err := newFunc(obj.name+"."+method.Name, val.Method(i))
		if err != nil {
			continue
		}
		obj.methods[method.Name] = f
	}
	return obj, nil
}

func (o *Object) Name() string {
	return o.name
}

func (o *Object) Member(name string) (Binding, bool) {
	f, ok := o.methods[name]
	return f, ok
}

// Methods lists the callable members in sorted order.
func (o *Object) Methods() []string {
	names := make([]string, 0, len(o.methods))
	for name := range o.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Receiver returns the wrapped struct pointer.
func (o *Object) Receiver() any {
	return o.rcvr.Interface()
}
