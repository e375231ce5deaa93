package volume

import (
	"errors"
	"fmt"

	"github.com/ztrue/tracerr"
)

var (
	// ErrImageTooSmall is returned for images (or capacities) below MinImageSize.
	ErrImageTooSmall = errors.New("image too small")
	// ErrInvalidImage is returned when an image header does not describe the image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrVolumeFull is wrapped by a FatalError when the free list runs out
	// during an allocation, and returned as is by Reserve.
	ErrVolumeFull = errors.New("no free blocks left")
	// ErrCorrupted is wrapped by a FatalError when block links point nowhere sensible.
	ErrCorrupted = errors.New("volume corrupted")
)

// FatalError reports a state the volume cannot continue from. Callers decide
// whether to abort or attempt recovery; the engine never exits on its own.
type FatalError struct {
	Op    string
	Block BlockIndex
	Err   error
	trace tracerr.Error
}

func newFatal(op string, blk BlockIndex, err error) *FatalError {
	return &FatalError{
		Op:    op,
		Block: blk,
		Err:   err,
		trace: tracerr.Wrap(err),
	}
}

// Corruptf builds a FatalError wrapping ErrCorrupted.
func Corruptf(op string, blk BlockIndex, format string, args ...interface{}) error {
	return newFatal(op, blk, fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...)))
}

func (e *FatalError) Error() string {
	if e.Block == None {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: block %d: %v", e.Op, e.Block, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Trace returns the stack captured where the condition was detected.
func (e *FatalError) Trace() tracerr.Error {
	return e.trace
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
