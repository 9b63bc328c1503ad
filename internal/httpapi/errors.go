package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/logging"
)

const (
	textCodeSignature     = "SIGNATURE_INVALID"
	textCodeNotConfigured = "INTEGRATION_NOT_CONFIGURED"
	textCodeForbidden     = "NOT_RESOURCE_OWNER"
	textCodeNotFound      = "NOT_FOUND"
	textCodeExternal      = "GITHUB_UNAVAILABLE"
	textCodeInvalid       = "INVALID_PAYLOAD"
	textCodeTransition    = "INVALID_TRANSITION"
	textCodeStorage       = "STORAGE_FAILURE"
)

// classify converts an error from the sync components into a rich error and
// the HTTP status it is answered with.
func classify(err error) (*goerrors.Error, int) {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr, statusOrInternal(richErr)
	}

	switch {
	case errors.Is(err, apperr.ErrSignature):
		return goerrors.Wrap(err, goerrors.CategoryAuth, "webhook signature verification failed").
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(textCodeSignature), http.StatusUnauthorized
	case errors.Is(err, apperr.ErrUnauthorized):
		return goerrors.Wrap(err, goerrors.CategoryAuthz, "caller does not own this resource").
			WithCode(goerrors.CodeForbidden).
			WithTextCode(textCodeForbidden), http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return goerrors.Wrap(err, goerrors.CategoryNotFound, "resource not found").
			WithCode(goerrors.CodeNotFound).
			WithTextCode(textCodeNotFound), http.StatusNotFound
	case errors.Is(err, apperr.ErrNotConfigured):
		return goerrors.Wrap(err, goerrors.CategoryValidation, "github integration is not configured").
			WithCode(http.StatusConflict).
			WithTextCode(textCodeNotConfigured), http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidPayload):
		return goerrors.Wrap(err, goerrors.CategoryValidation, "payload could not be processed").
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(textCodeInvalid), http.StatusBadRequest
	case errors.Is(err, apperr.ErrInvalidTransition):
		return goerrors.Wrap(err, goerrors.CategoryValidation, "status change not allowed").
			WithCode(http.StatusConflict).
			WithTextCode(textCodeTransition), http.StatusConflict
	case errors.Is(err, apperr.ErrExternalUnavailable):
		return goerrors.Wrap(err, goerrors.CategoryInternal, "github is unavailable, try again").
			WithCode(http.StatusBadGateway).
			WithTextCode(textCodeExternal), http.StatusBadGateway
	default:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "internal error").
			WithCode(goerrors.CodeInternal).
			WithTextCode(textCodeStorage), http.StatusInternalServerError
	}
}

func statusOrInternal(richErr *goerrors.Error) int {
	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// writeAppError answers with the classified status. Driver errors stay in
// the log and are not echoed to the caller.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := getRequestID(r)
	richErr, status := classify(err)
	log := requestLogger(r)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	} else {
		log.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"code":      richErr.TextCode,
		"category":  fmt.Sprint(richErr.Category),
		"message":   richErr.Message,
		"requestId": requestID,
	})
}

// requestLogger returns a logger carrying the request id and route.
func requestLogger(r *http.Request) *slog.Logger {
	return logging.With(
		"request_id", getRequestID(r),
		"method", r.Method,
		"path", r.URL.Path)
}
