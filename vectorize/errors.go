package vectorize

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

type coder interface {
	Code() string
}

// errorDetail renders "<type>: <message>" followed by a stack: the stack
// recorded by github.com/pkg/errors when the chain carries one, otherwise
// the current goroutine stack.
func errorDetail(err error) string {
	head := fmt.Sprintf("%T: %s", err, err.Error())
	var st stackTracer
	if errors.As(err, &st) {
		return head + fmt.Sprintf("%+v", st.StackTrace())
	}
	return head + "\n" + string(debug.Stack())
}

// errorCode classifies err by its Code() method when it has one, by its
// type otherwise.
func errorCode(err error) string {
	var c coder
	if errors.As(err, &c) && c.Code() != "" {
		return c.Code()
	}
	return fmt.Sprintf("%T", err)
}

// panicDetail renders a recovered panic and the stack captured at
// recovery.
func panicDetail(v any, stack []byte) string {
	if err, ok := v.(error); ok {
		return fmt.Sprintf("panic: %T: %v\n%s", err, err, stack)
	}
	return fmt.Sprintf("panic: %v\n%s", v, stack)
}

const panicCode = "panic"

// outcome is the result of one wrapped call.
type outcome struct {
	err      error
	panicked bool
	panicVal any
	stack    []byte
}

func (o outcome) failed() bool {
	return o.err != nil || o.panicked
}

func (o outcome) detail() (message, code string) {
	switch {
	case o.panicked:
		return panicDetail(o.panicVal, o.stack), panicCode
	case o.err != nil:
		return errorDetail(o.err), errorCode(o.err)
	}
	return "", ""
}
