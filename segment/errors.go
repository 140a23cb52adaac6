package segment

import (
	"errors"
	"fmt"

	"github.com/zsiec/pgs/cursor"
)

// ErrStructural is the root of every malformed-content error. Match it with
// errors.Is to tell structural failures from buffer underruns.
var ErrStructural = errors.New("pgs: structural error")

// ErrBufferUnderrun reports a declared read that ran past the available
// bytes. It is the same value as cursor.ErrUnexpectedEnd.
var ErrBufferUnderrun = cursor.ErrUnexpectedEnd

// Structural errors raised by the codec.
var (
	ErrUnrecognizedType        = fmt.Errorf("%w: unrecognized segment type", ErrStructural)
	ErrInvalidSequenceFlag     = fmt.Errorf("%w: invalid ODS sequence flag", ErrStructural)
	ErrInvalidCompositionState = fmt.Errorf("%w: invalid composition state", ErrStructural)
	ErrBadMagic                = fmt.Errorf("%w: bad record magic", ErrStructural)
)
