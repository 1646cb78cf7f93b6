package api

import (
	"encoding/json"
	"net/http"

	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a flat message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr classifies err into its documented HTTP status and writes
// the error response.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps a core error kind to its documented HTTP status.
func statusFor(err error) int {
	switch err.(type) {
	case *orcherr.ValidationError:
		return http.StatusBadRequest
	case *orcherr.AuthError:
		return http.StatusUnauthorized
	case *orcherr.PortExhausted:
		return http.StatusServiceUnavailable
	case *orcherr.RuntimeTransient:
		return http.StatusServiceUnavailable
	case *orcherr.RuntimeFatal:
		return http.StatusInternalServerError
	case *orcherr.StartupTimeout:
		return http.StatusGatewayTimeout
	case *orcherr.StartupFailed:
		return http.StatusInternalServerError
	case *orcherr.NotFound:
		return http.StatusNotFound
	case *orcherr.PersistenceError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// pathParam extracts a path parameter from the request.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
