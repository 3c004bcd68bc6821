package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMiddleware_PassesThroughWhenDisabled(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	mw := HTTPMiddleware(next)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected the wrapped handler to be invoked")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through untouched, got %d", rec.Code)
	}
}

func TestResponseWriter_TracksBytesWritten(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}
	if rw.statusCode != http.StatusCreated {
		t.Fatalf("expected captured status 201, got %d", rw.statusCode)
	}
	if rw.bytesWritten != 5 {
		t.Fatalf("expected bytesWritten 5, got %d", rw.bytesWritten)
	}
}
