package metrics

import (
	"time"

	"github.com/tphakala/entityindex/internal/errors"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ShutdownTimeout bounds how long a metrics server waits on shutdown.
const ShutdownTimeout = 5 * time.Second

// categorizeError returns a low cardinality label for err. Enhanced errors
// carry their category; anything else is "unknown".
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.GetCategory() != "" {
		return ee.GetCategory()
	}
	return "unknown"
}
