package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	e := ErrInternalServer.WithRequestID("req-456")

	if e.RequestID != "req-456" {
		t.Errorf("RequestID = %q, want %q", e.RequestID, "req-456")
	}
	if e.Code != http.StatusInternalServerError || e.Error() != "Internal Server Error" {
		t.Errorf("unexpected copy: %+v", e)
	}
	if ErrInternalServer.RequestID != "" {
		t.Error("WithRequestID must not mutate the singleton")
	}
}

func TestWriteJSON_PreSerialized(t *testing.T) {
	for _, e := range []*HTTPError{ErrBadGateway, ErrServiceUnavailable, ErrInternalServer} {
		t.Run(e.Message, func(t *testing.T) {
			w := httptest.NewRecorder()
			w.Header().Set("Content-Encoding", "gzip")
			e.WriteJSON(w)

			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
			if ce := w.Header().Get("Content-Encoding"); ce != "" {
				t.Errorf("Content-Encoding = %q, want it removed", ce)
			}
			if w.Code != e.Code {
				t.Errorf("status = %d, want %d", w.Code, e.Code)
			}
			if cl := w.Header().Get("Content-Length"); cl != strconv.Itoa(w.Body.Len()) {
				t.Errorf("Content-Length = %q, body is %d bytes", cl, w.Body.Len())
			}

			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["message"] != e.Message {
				t.Errorf("body message = %v, want %q", body["message"], e.Message)
			}
		})
	}
}

func TestWriteJSON_WithRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	ErrInternalServer.WithRequestID("req-abc").WriteJSON(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["request_id"] != "req-abc" {
		t.Errorf("body request_id = %v, want %q", body["request_id"], "req-abc")
	}
}
