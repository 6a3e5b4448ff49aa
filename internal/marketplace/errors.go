package marketplace

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrPrecondition = errors.New("precondition failed")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")

	ErrAlreadyDeleted     = fmt.Errorf("%w: service already deleted", ErrPrecondition)
	ErrNotDeleted         = fmt.Errorf("%w: service not deleted", ErrPrecondition)
	ErrTransactionSettled = fmt.Errorf("%w: transaction already settled", ErrPrecondition)
	ErrNotCompleted       = fmt.Errorf("%w: transaction not completed", ErrPrecondition)
	ErrAlreadyRated       = fmt.Errorf("%w: transaction already rated", ErrPrecondition)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StatusFor maps repository errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrPrecondition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteError renders err as a JSON error body. Internal errors are logged and
// replaced by fallback so storage details never reach the caller.
func WriteError(c echo.Context, log zerolog.Logger, err error, fallback string) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg(fallback)
		return c.JSON(status, echo.Map{"error": fallback})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}
