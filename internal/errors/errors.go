package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// HTTPError represents an error that can be returned to clients
type HTTPError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no requestID), uses pre-serialized JSON to avoid allocations.
func (e *HTTPError) WriteJSON(w http.ResponseWriter) {
	body, ok := preSerialized[e]
	if !ok {
		body, _ = json.Marshal(e)
		body = append(body, '\n')
	}
	w.Header().Del("Content-Encoding")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(e.Code)
	w.Write(body)
}

// Common errors
var (
	ErrBadGateway = &HTTPError{
		Code:    http.StatusBadGateway,
		Message: "Bad Gateway",
	}

	ErrServiceUnavailable = &HTTPError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
	}

	ErrInternalServer = &HTTPError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*HTTPError][]byte

func init() {
	bases := []*HTTPError{
		ErrBadGateway, ErrServiceUnavailable, ErrInternalServer,
	}
	preSerialized = make(map[*HTTPError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// WithRequestID returns a copy of the error carrying a request ID
func (e *HTTPError) WithRequestID(requestID string) *HTTPError {
	return &HTTPError{
		Code:      e.Code,
		Message:   e.Message,
		RequestID: requestID,
	}
}
