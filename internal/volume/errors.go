package volume

import (
	"errors"
	"fmt"
)

// InvalidInputError reports a numeric input that makes a ratio meaningless,
// such as a zero average volume or a zero entry price. Callers skip the
// affected symbol/day and carry on with the batch.
type InvalidInputError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// IsInvalidInput reports whether err is or wraps an InvalidInputError
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}
