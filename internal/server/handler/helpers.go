package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
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
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnsupportedChain):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrTransientUpstream), errors.Is(err, domain.ErrRegistryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError classifies err and writes it. Client errors echo the
// message; server errors are logged and answered generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		resp := errorResponse{Error: err.Error()}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			resp = errorResponse{Error: ve.Reason, Field: ve.Field}
		}
		writeJSON(w, status, resp)
	case http.StatusNotFound:
		writeError(w, status, "not found")
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", "1")
		writeError(w, status, "rate limited")
	case http.StatusUnauthorized:
		writeError(w, status, "upstream rejected credentials")
	case http.StatusServiceUnavailable:
		logger.WarnContext(r.Context(), "handler: "+op+" unavailable", slog.String("error", err.Error()))
		writeError(w, status, "upstream temporarily unreachable")
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, "internal server error")
	}
}

// Sessions resolves the session of a request from its {chainId} path value
// and demo flag.
type Sessions struct {
	// DefaultDemo applies when a request does not say.
	DefaultDemo bool
}

// chainID parses the {chainId} path value.
func chainID(r *http.Request) (int64, error) {
	raw := pathParam(r, "chainId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid("chainId", "must be a positive integer")
	}
	return id, nil
}

// parseDemo reads a demo flag, falling back to def when raw is empty.
func parseDemo(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, domain.Invalid("demo", "must be true or false")
	}
	return b, nil
}

// Resolve builds the session of r from the path and the demo query
// parameter.
func (s Sessions) Resolve(r *http.Request) (source.Session, error) {
	id, err := chainID(r)
	if err != nil {
		return source.Session{}, err
	}
	demo, err := parseDemo(r.URL.Query().Get("demo"), s.DefaultDemo)
	if err != nil {
		return source.Session{}, err
	}
	return source.Session{ChainID: id, Demo: demo}, nil
}

// queryInt parses an optional integer query parameter. Absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Invalid(name, "must be an integer")
	}
	return n, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
