package webhook

import (
	"errors"
	"fmt"
)

// Sentinels for the caller-facing error classes. Delivery failures are
// deliberately absent: they travel as DeliveryResult data, not errors.
var (
	ErrNotFound         = errors.New("webhook not found")
	ErrAttemptNotFound  = errors.New("delivery attempt not found")
	ErrTemplateNotFound = errors.New("webhook template not found")
	ErrForbidden        = errors.New("permission denied")
	ErrValidation       = errors.New("invalid input")
	ErrRetryRejected    = errors.New("successful delivery needs no retry")
	ErrSignatureInvalid = errors.New("signature verification failed")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
