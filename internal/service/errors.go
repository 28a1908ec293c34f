package service

import (
	"errors"
	"fmt"

	"github.com/dialogs/internal/repository"
)

// Error taxonomy. Validation and policy checks run before any mutation and
// short-circuit with one of these; anything else surfaces as a wrapped
// storage error (Internal at the HTTP layer).
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// notFound converts the repository sentinel into the service taxonomy.
func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func forbiddenf(format string, v ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrForbidden}, v...)...)
}

func validationf(format string, v ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, v...)...)
}
