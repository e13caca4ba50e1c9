package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["path"] != "/healthz" {
		t.Fatalf("path = %v, want /healthz", fields["path"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("status = %v, want %d", fields["status"], http.StatusTeapot)
	}
	if fields["size"] != int64(5) {
		t.Fatalf("size = %v, want 5", fields["size"])
	}
}
