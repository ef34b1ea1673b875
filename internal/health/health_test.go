package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockPinger struct {
	pingError error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.pingError
}

func TestHTTPHandler(t *testing.T) {
	up := func() bool { return true }
	down := func() bool { return false }

	tests := []struct {
		name               string
		connected          func() bool
		db                 Pinger
		expectedStatusCode int
		expectedOK         bool
		expectedQueue      bool
		expectedMessage    string
		expectedDatabase   *bool
	}{
		{
			name:               "healthy without journal",
			connected:          up,
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedQueue:      true,
			expectedMessage:    "ok",
		},
		{
			name:               "healthy with nil checks",
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedQueue:      true,
			expectedMessage:    "ok",
		},
		{
			name:               "healthy with journal",
			connected:          up,
			db:                 &mockPinger{},
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedQueue:      true,
			expectedMessage:    "ok",
			expectedDatabase:   boolPtr(true),
		},
		{
			name:               "queue disconnected",
			connected:          down,
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedOK:         false,
			expectedQueue:      false,
			expectedMessage:    "queue disconnected",
		},
		{
			name:               "database ping failure",
			connected:          up,
			db:                 &mockPinger{pingError: context.DeadlineExceeded},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedOK:         false,
			expectedQueue:      true,
			expectedMessage:    "db ping failed",
			expectedDatabase:   boolPtr(false),
		},
		{
			name:               "both down",
			connected:          down,
			db:                 &mockPinger{pingError: errors.New("refused")},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedOK:         false,
			expectedQueue:      false,
			expectedMessage:    "db ping failed",
			expectedDatabase:   boolPtr(false),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler(tt.connected, tt.db)(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("HTTPHandler() Content-Type = %q, want %q", ct, "application/json")
			}

			var status Status
			if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
				t.Fatalf("HTTPHandler() response JSON parse error: %v", err)
			}
			if status.OK != tt.expectedOK {
				t.Errorf("Status.OK = %v, want %v", status.OK, tt.expectedOK)
			}
			if status.Queue != tt.expectedQueue {
				t.Errorf("Status.Queue = %v, want %v", status.Queue, tt.expectedQueue)
			}
			if status.Message != tt.expectedMessage {
				t.Errorf("Status.Message = %q, want %q", status.Message, tt.expectedMessage)
			}
			switch {
			case tt.expectedDatabase == nil && status.Database != nil:
				t.Errorf("Status.Database = %v, want absent", *status.Database)
			case tt.expectedDatabase != nil && (status.Database == nil || *status.Database != *tt.expectedDatabase):
				t.Errorf("Status.Database = %v, want %v", status.Database, *tt.expectedDatabase)
			}
		})
	}
}

func TestHTTPHandler_UsesRequestContext(t *testing.T) {
	var sawDeadline bool
	p := pingFunc(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})
	req := httptest.NewRequest("GET", "/healthz", nil)
	HTTPHandler(nil, p)(httptest.NewRecorder(), req)
	if !sawDeadline {
		t.Error("Ping() called without a deadline")
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func boolPtr(b bool) *bool { return &b }
