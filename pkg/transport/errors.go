package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/localresp/pkg/api"
)

// statusByKind is the HTTP status of an error reported before any output.
// Body-size and content-type failures are decided by the HTTP adapter.
var statusByKind = map[api.ErrorKind]int{
	api.KindValidation:         http.StatusBadRequest,
	api.KindNotFound:           http.StatusNotFound,
	api.KindRateLimited:        http.StatusTooManyRequests,
	api.KindBackendUnavailable: http.StatusBadGateway,
	api.KindBackendTimeout:     http.StatusGatewayTimeout,
}

// HTTPStatusFromError returns the status for err, 500 for anything not
// listed above.
func HTTPStatusFromError(err *api.APIError) int {
	if status, ok := statusByKind[err.Kind()]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes {"error": ...} with the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
