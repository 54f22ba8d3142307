package framing

import "errors"

// ErrBufferOverflow is returned when a write would exceed the capacity of
// the underlying pooled buffer.
var ErrBufferOverflow = errors.New("framing: buffer overflow")

// ErrUnderflow is returned when a read reaches past the end of the
// available bytes.
var ErrUnderflow = errors.New("framing: underflow")

// ErrUnbalanced is returned when EndMessage is called with no matching
// StartMessage on the stack.
var ErrUnbalanced = errors.New("framing: unbalanced start/end message")
