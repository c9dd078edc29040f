package ra

import "errors"

// ErrAlreadyHeld is returned by RequestCS when the machine already holds
// the critical section.
var ErrAlreadyHeld = errors.New("ra: critical section already held")

// ErrNotHeld is returned by ExitCS when the machine does not hold the
// critical section.
var ErrNotHeld = errors.New("ra: critical section not held")
