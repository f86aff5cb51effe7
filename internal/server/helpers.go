package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/makr-code/loraforge/internal/domain"
)

// ErrorResponse is the standard error envelope for every non-2xx response,
// carrying the closed ErrorKind tag alongside a human-readable message.
type ErrorResponse struct {
	Error     string            `json:"error"`
	ErrorKind domain.ErrorKind  `json:"errorKind,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with no ErrorKind tag, for
// transport-level failures (bad method, bad JSON) that never reached the
// domain layer.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteJobError maps a domain error to its HTTP status code and writes it
// with its ErrorKind tag, so every client-visible failure that passed
// through the Job Manager carries the taxonomy the wire contract promises.
func WriteJobError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	WriteJSON(w, statusFor(kind), ErrorResponse{Error: err.Error(), ErrorKind: kind})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindNotFound:
		return http.StatusNotFound
	case domain.ErrKindInvalidConfig:
		return http.StatusBadRequest
	case domain.ErrKindUnknownTrainer:
		return http.StatusBadRequest
	case domain.ErrKindCapacity:
		return http.StatusServiceUnavailable
	case domain.ErrKindTerminal:
		return http.StatusConflict
	case domain.ErrKindAuthInsufficient:
		return http.StatusForbidden
	case domain.ErrKindUnauthenticated:
		return http.StatusUnauthorized
	case domain.ErrKindCancelTimeout, domain.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrKindSlowConsumer:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v. Returns
// false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path. For a pattern
// like /api/jobs/{id}/cancel, calling PathParam(r, "/api/jobs/", "/cancel")
// extracts the {id} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
