package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func recordingMiddleware(name string, order *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name+"-before")
			next.ServeHTTP(w, r)
			*order = append(*order, name+"-after")
		})
	}
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("at index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestChain(t *testing.T) {
	var order []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	final := NewChain(recordingMiddleware("m1", &order), recordingMiddleware("m2", &order)).Then(handler)
	final.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assertOrder(t, order, []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"})
}

func TestChainAppendDoesNotMutate(t *testing.T) {
	var order []string
	base := NewChain(recordingMiddleware("m1", &order))
	extended := base.Append(recordingMiddleware("m2", &order))

	if base.Len() != 1 || extended.Len() != 2 {
		t.Fatalf("expected lengths 1 and 2, got %d and %d", base.Len(), extended.Len())
	}

	extended.Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assertOrder(t, order, []string{"m1-before", "m2-before", "m2-after", "m1-after"})
}

func TestChainNilHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NewChain().Then(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for nil handler, got %d", rr.Code)
	}
}

func TestBuilderUseIf(t *testing.T) {
	var order []string
	h := NewBuilder().
		Use(recordingMiddleware("always", &order)).
		UseIf(false, recordingMiddleware("never", &order)).
		UseIf(true, recordingMiddleware("enabled", &order)).
		Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assertOrder(t, order, []string{"always-before", "enabled-before", "enabled-after", "always-after"})
}
