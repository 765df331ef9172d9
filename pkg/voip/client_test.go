package voip

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"clicktodial/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(config.VoIPConfig{BaseURL: server.URL, Username: "alice", Token: "secret"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return client
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(config.VoIPConfig{}); err == nil {
		t.Fatal("expected error when base_url is missing")
	}
}

func TestDialPostsNumber(t *testing.T) {
	var gotAuth, gotNumber, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var body dialRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotNumber = body.BNumber

		_ = json.NewEncoder(w).Encode(dialResponse{CallID: "abc"})
	})

	callID, err := client.Dial(context.Background(), "0101234567")
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	if callID != "abc" {
		t.Fatalf("callID = %q, want abc", callID)
	}
	if gotAuth != "Token alice:secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotPath != "/api/clicktodial/" || gotNumber != "0101234567" {
		t.Fatalf("path = %q, number = %q", gotPath, gotNumber)
	}
}

func TestStatusReadsCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/clicktodial/abc/" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "connected"})
	})

	status, err := client.Status(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if status != "connected" {
		t.Fatalf("status = %q, want connected", status)
	}

	if _, err := client.Status(context.Background(), "missing"); CategoryFromError(err) != ErrorNotFound {
		t.Fatalf("missing call category = %q, want %q", CategoryFromError(err), ErrorNotFound)
	}
}

func TestErrorsAreCategorized(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrorUnauthorized},
		{name: "bad number", status: http.StatusBadRequest, want: ErrorInvalidNumber},
		{name: "server error", status: http.StatusBadGateway, want: ErrorUnavailable},
		{name: "teapot", status: http.StatusTeapot, want: ErrorProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})

			_, err := client.Dial(context.Background(), "0101234567")
			if got := CategoryFromError(err); got != tt.want {
				t.Fatalf("category = %q, want %q (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestDialWithoutCredentialsIsUnauthorized(t *testing.T) {
	client, err := New(config.VoIPConfig{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if client.Authenticated() {
		t.Fatal("client without token should not be authenticated")
	}

	_, err = client.Dial(context.Background(), "0101234567")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Dial error = %v, want ErrUnauthorized", err)
	}
}

func TestDialRejectsEmptyCallID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Dial(context.Background(), "0101234567")
	if got := CategoryFromError(err); got != ErrorProtocol {
		t.Fatalf("category = %q, want %q", got, ErrorProtocol)
	}
}
