package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/jmcleod/mgmtd/auth"
	"github.com/jmcleod/mgmtd/storage"
	"github.com/jmcleod/mgmtd/userdir"
)

const wwwAuthenticate = "Do Not Attempt Browser Authentication"

var supportedContentTypes = []string{"application/x-www-form-urlencoded", "application/json"}

// Transport and internal failures. These share auth.Error so that every
// client-visible failure carries a code and a fixed message.
var (
	errContentTypeUnsupported = &auth.Error{
		Code:    "CLIENT_CONTENT_TYPE_UNSUPPORTED",
		Message: `The content type uploaded is not supported by the server. Supported Content-Types are "application/x-www-form-urlencoded" and "application/json".`,
	}
	errContentMalformed = &auth.Error{
		Code:    "CLIENT_CONTENT_MALFORMED",
		Message: "The request body could not be parsed.",
	}
	errRateLimited = &auth.Error{
		Code:    "LOGIN_STATUS_RATE_LIMITED",
		Message: "Too many failed login attempts. Try again later.",
	}
	errUnexpected = &auth.Error{
		Code:    "INTERNAL_SERVER_ERROR_UNEXPECTED",
		Message: "An unexpected error happened! This might be a bug.",
	}
)

// httpError is the rendered form of any error.
type httpError struct {
	status  int
	code    string
	message string
	extra   map[string]any
}

// mapError classifies err. Anything unrecognised becomes a 500 whose
// detail is only exposed in development mode.
func (a *API) mapError(err error) httpError {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		he := httpError{status: authStatus(authErr), code: authErr.Code, message: authErr.Message}
		if authErr == errContentTypeUnsupported {
			he.extra = map[string]any{"supported_content_types": supportedContentTypes}
		}
		return he
	}

	switch {
	case errors.Is(err, userdir.ErrUserNotFound):
		return httpError{status: http.StatusNotFound, code: "USER_ACCOUNT_NOT_FOUND", message: "The user does not exist."}
	case errors.Is(err, userdir.ErrUserExists):
		return httpError{status: http.StatusConflict, code: "USER_ACCOUNT_EXISTS", message: "A user with this email address already exists."}
	case errors.Is(err, userdir.ErrInvalidEmail),
		errors.Is(err, userdir.ErrWeakPassword),
		errors.Is(err, userdir.ErrInvalidPrivilege):
		return httpError{status: http.StatusBadRequest, code: "USER_ACCOUNT_INVALID", message: err.Error()}
	case errors.Is(err, userdir.ErrInvalidTOTPCode):
		return httpError{status: http.StatusBadRequest, code: "MFA_CODE_INVALID", message: "The TOTP code is incorrect."}
	case errors.Is(err, userdir.ErrNoPendingTOTP):
		return httpError{status: http.StatusConflict, code: "MFA_SETUP_MISSING", message: "No TOTP setup is in progress or it has expired."}
	case errors.Is(err, userdir.ErrMFANotFound):
		return httpError{status: http.StatusNotFound, code: "MFA_METHOD_NOT_FOUND", message: "The MFA method does not exist."}
	case errors.Is(err, userdir.ErrConflict), errors.Is(err, storage.ErrCASFailed):
		return httpError{status: http.StatusConflict, code: "USER_ACCOUNT_CONFLICT", message: "The account was modified concurrently. Try again."}
	}

	he := httpError{status: http.StatusInternalServerError, code: errUnexpected.Code, message: errUnexpected.Message}
	if a.development {
		he.extra = map[string]any{"traceback": err.Error()}
	}
	return he
}

func authStatus(e *auth.Error) int {
	switch e {
	case auth.ErrAccessDenied:
		return http.StatusForbidden
	case errContentTypeUnsupported:
		return http.StatusUnsupportedMediaType
	case errContentMalformed:
		return http.StatusBadRequest
	case errRateLimited:
		return http.StatusTooManyRequests
	case errUnexpected:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// renderError writes err in the representation negotiated from Accept.
func (a *API) renderError(w http.ResponseWriter, r *http.Request, err error) {
	he := a.mapError(err)
	if he.status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	a.writeHTTPError(w, r, he)
}

func (a *API) writeHTTPError(w http.ResponseWriter, r *http.Request, he httpError) {
	if he.status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", wwwAuthenticate)
	}
	if errorMediaTypeFromRequest(r) != mediaJSON {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(he.status)
		fmt.Fprintln(w, he.message)
		return
	}
	body := make(map[string]any, len(he.extra)+2)
	for k, v := range he.extra {
		body[k] = v
	}
	body["code"] = he.code
	body["message"] = he.message
	writeJSON(w, he.status, body)
}

// recoverer turns a handler panic into an INTERNAL_SERVER_ERROR_UNEXPECTED
// response.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := debug.Stack()
			a.logger.ErrorContext(r.Context(), "panic serving request",
				slog.String("path", r.URL.Path),
				slog.Any("panic", rec),
				slog.String("stack", string(stack)))
			he := httpError{status: http.StatusInternalServerError, code: errUnexpected.Code, message: errUnexpected.Message}
			if a.development {
				he.extra = map[string]any{"traceback": fmt.Sprintf("%v\n%s", rec, stack)}
			}
			a.writeHTTPError(w, r, he)
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
