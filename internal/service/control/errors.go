package control

import (
	"errors"
	"net/http"

	"github.com/sunray-sh/sunray-api/internal/store"
)

// apiError is a service failure whose message is safe to return to the
// caller and whose status the HTTP layer uses verbatim.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func invalid(msg string) error       { return &apiError{http.StatusBadRequest, msg} }
func notFound(msg string) error      { return &apiError{http.StatusNotFound, msg} }
func forbidden(msg string) error     { return &apiError{http.StatusForbidden, msg} }
func conflict(msg string) error      { return &apiError{http.StatusConflict, msg} }
func unprocessable(msg string) error { return &apiError{http.StatusUnprocessableEntity, msg} }
func notImplemented(msg string) error {
	return &apiError{http.StatusNotImplemented, msg}
}
func tooManyRequests(msg string) error {
	return &apiError{http.StatusTooManyRequests, msg}
}
func internal(msg string) error { return &apiError{http.StatusInternalServerError, msg} }
func upstream(msg string) error { return &apiError{http.StatusBadGateway, msg} }

// HTTPStatus maps a service error to a response status. Unknown errors are
// treated as internal.
func HTTPStatus(err error) int {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status
	}
	return http.StatusInternalServerError
}

// ErrorMessage returns the caller-visible message for a service error.
// Errors that did not come from this package get a generic message so
// internal details never leak into responses.
func ErrorMessage(err error) string {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.msg
	}
	return "internal server error"
}

// IsNotFound reports whether err is a service not-found failure.
func IsNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == http.StatusNotFound
}

// notFoundOr converts a store miss into a caller-visible 404 with msg,
// passing every other error through unchanged.
func notFoundOr(err error, msg string) error {
	if isStoreMiss(err) {
		return notFound(msg)
	}
	return err
}

// isStoreMiss reports whether err is the store's not-found sentinel.
func isStoreMiss(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
