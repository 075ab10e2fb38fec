// Package invoker resolves call targets against the name table and calls them.
//
// Targets are a bound name optionally followed by member names, separated by
// dots. Resolution is a table walk, never expression evaluation.
package invoker

import (
	"context"
	"runtime/debug"
	"strings"

	"github.com/pkg/errors"

	"pipeworker/binding"
	"pipeworker/codec"
	"pipeworker/message"
)

var (
	ErrUnresolved  = errors.New("target not resolved")
	ErrNotCallable = errors.New("target is not callable")
)

type Invoker struct {
	table *binding.Table
}

func New(table *binding.Table) *Invoker {
	return &Invoker{table: table}
}

// Resolve walks target through the table and the members of its bindings.
func (inv *Invoker) Resolve(target string) (binding.Binding, error) {
	segments := strings.Split(target, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, errors.Wrapf(ErrUnresolved, "malformed target %q", target)
		}
	}

	b, ok := inv.table.Get(segments[0])
	if !ok {
		return nil, errors.Wrapf(ErrUnresolved, "%s is not bound", segments[0])
	}
	for i, seg := range segments[1:] {
		member, ok := b.Member(seg)
		if !ok {
			return nil, errors.Wrapf(ErrUnresolved, "%s has no member %s", strings.Join(segments[:i+1], "."), seg)
		}
		b = member
	}
	return b, nil
}

// Invoke resolves and calls req.Target with req.Args decoded by c. The
// result is returned verbatim. Every failure, including a panic in the
// callee, is a *message.Error of KindInvoke.
func (inv *Invoker) Invoke(ctx context.Context, c codec.Codec, req *message.Call) (result any, err error) {
	op := "call " + req.Target

	b, err := inv.Resolve(req.Target)
	if err != nil {
		return nil, message.NewError(message.KindInvoke, op, err)
	}
	f, ok := b.(binding.Callable)
	if !ok {
		return nil, message.NewError(message.KindInvoke, op, ErrNotCallable)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &message.Error{
				Kind:  message.KindInvoke,
				Op:    op,
				Err:   errors.Errorf("panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	result, err = f.Call(ctx, c, req.Args)
	if err != nil {
		return nil, message.NewError(message.KindInvoke, op, err)
	}
	return result, nil
}
