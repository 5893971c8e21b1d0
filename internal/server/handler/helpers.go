package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/server/middleware"
)

// principal returns the authenticated principal placed in the context
// by the auth middleware, writing a 401 when it is missing. Routes
// registered behind Authenticate always have one; the check guards
// against a route wired without it.
func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session token")
	}
	return p, ok
}

// writeJSON marshals v as JSON and writes it to the response with the
// given HTTP status code. If marshaling fails, it falls back to a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service-layer error onto an HTTP status.
// Client-caused failures carry the wrapped error text so the caller
// can see what to fix; anything unrecognised is logged and hidden
// behind the fallback message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrKYCRequired):
		writeError(w, http.StatusForbidden, "kyc approval required")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrExecutionInProgress):
		writeError(w, http.StatusConflict, "execution already in progress")
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	default:
		logger.ErrorContext(r.Context(), "handler: "+fallback,
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using
// http.Request.PathValue.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseDecimalField parses a decimal from a string form or query
// value. An empty value is an error; the caller names the field.
func parseDecimalField(value, field string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, errors.New(field + " is required")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.New("invalid " + field)
	}
	return d, nil
}
