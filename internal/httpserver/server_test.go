package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestRoutes(t *testing.T) {
	var webhookHits int
	webhook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		webhookHits++
		w.WriteHeader(http.StatusOK)
	})
	router := NewRouter(webhook, fakePinger{}, zap.NewNop())

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/", http.StatusOK, "Бот работает!"},
		{http.MethodGet, "/healthz", http.StatusOK, "ok"},
		{http.MethodGet, "/metrics", http.StatusOK, "daily_tasks_http_requests_total"},
		{http.MethodPost, "/webhook", http.StatusOK, ""},
		{http.MethodGet, "/webhook", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.status {
			t.Fatalf("%s %s: status %d, want %d", tt.method, tt.path, rec.Code, tt.status)
		}
		if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
			t.Fatalf("%s %s: body %q does not contain %q", tt.method, tt.path, rec.Body.String(), tt.body)
		}
	}
	if webhookHits != 1 {
		t.Fatalf("webhook handler called %d times", webhookHits)
	}
}

func TestHealthReportsStoreFailure(t *testing.T) {
	router := NewRouter(nil, fakePinger{err: errors.New("down")}, zap.NewNop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("polling mode must not expose the webhook, got %d", rec.Code)
	}
}
