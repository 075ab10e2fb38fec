package message

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why handling a message failed.
type Kind int

const (
	KindDecode      Kind = iota + 1 // malformed payload or missing fields
	KindUnknownType                 // type discriminator not recognized
	KindLoad                        // module activation failed
	KindInvoke                      // target resolution or invocation failed
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindUnknownType:
		return "unknown_type"
	case KindLoad:
		return "load"
	case KindInvoke:
		return "invoke"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrUnknownType is the fixed diagnostic for unrecognized message types.
var ErrUnknownType = errors.New("unrecognized message type")

// Error is a handling failure of a known Kind. Stack is set when the failure
// was a recovered panic.
type Error struct {
	Kind  Kind
	Op    string
	Err   error
	Stack []byte
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return 0
}

// Diagnostic renders err for the Error field of a Response, appending the
// panic stack when there is one.
func Diagnostic(err error) string {
	var me *Error
	if errors.As(err, &me) && len(me.Stack) > 0 {
		return err.Error() + "\n" + string(me.Stack)
	}
	return err.Error()
}
