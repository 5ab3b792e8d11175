package agentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStartSessionReturnsBackendSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var request startSessionRequest
		_ = json.NewDecoder(r.Body).Decode(&request)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": "s-1", "channel": "c-1", "userId": request.UserID})
	}))
	defer server.Close()

	session, err := NewClient(server.URL).StartSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected session, got %v", err)
	}
	if session.ID != "s-1" || session.Channel != "c-1" || session.UserID != "u1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.CreatedAt.IsZero() {
		t.Fatalf("expected creation time to be set")
	}
}

func TestStartSessionSurfacesStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).StartSession(context.Background(), "u1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestStopSessionToleratesMissingSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/sessions/s-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	if err := NewClient(server.URL).StopSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("expected missing session to be ignored, got %v", err)
	}
}

func TestLocalSessionsUseSessionIDAsChannel(t *testing.T) {
	session, err := LocalSessions{}.StartSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected local session, got %v", err)
	}
	if session.ID == "" || session.Channel != session.ID || session.UserID != "u1" {
		t.Fatalf("unexpected session %+v", session)
	}
}
