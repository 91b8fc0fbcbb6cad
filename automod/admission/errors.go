package admission

import (
	"errors"
)

// The message was not admitted because of global backpressure. Callers turn this in to a "throttled" verdict.
var ErrThrottled = errors.New("throttled")
