package pihole

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testSID = "test-session-id"

// newTestServer returns an httptest server speaking the Pi-hole v6 API with
// the given password. Authenticated routes may be added via handlers.
func newTestServer(t *testing.T, password string, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if payload.Password != password {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"session": map[string]any{
					"valid":   false,
					"message": "password incorrect",
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"session": map[string]any{
				"valid":    true,
				"sid":      testSID,
				"validity": 300,
			},
		})
	})

	for path, h := range handlers {
		handler := h
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-FTL-SID") != testSID {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			handler(w, r)
		})
	}

	return httptest.NewServer(mux)
}

func TestPingAuthenticates(t *testing.T) {
	server := newTestServer(t, "correct-horse", nil)
	defer server.Close()

	client := NewClient(server.URL, "correct-horse")
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestPingWrongPassword(t *testing.T) {
	server := newTestServer(t, "correct-horse", nil)
	defer server.Close()

	client := NewClient(server.URL, "wrong")
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("Ping succeeded with wrong password")
	}
}

func TestSessionReuse(t *testing.T) {
	authCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth", func(w http.ResponseWriter, r *http.Request) {
		authCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"session": map[string]any{"valid": true, "sid": testSID, "validity": 300},
		})
	})
	mux.HandleFunc("/api/dns/blocking", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"blocking": "enabled"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "pw")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.BlockingStatus(ctx); err != nil {
			t.Fatalf("BlockingStatus call %d failed: %v", i, err)
		}
	}
	if authCalls != 1 {
		t.Errorf("expected 1 auth call, got %d", authCalls)
	}
}

func TestBlockingStatus(t *testing.T) {
	tests := []struct {
		name     string
		blocking string
		want     bool
	}{
		{"enabled", "enabled", true},
		{"disabled", "disabled", false},
		{"failed", "failed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, "pw", map[string]http.HandlerFunc{
				"/api/dns/blocking": func(w http.ResponseWriter, r *http.Request) {
					json.NewEncoder(w).Encode(map[string]any{"blocking": tt.blocking})
				},
			})
			defer server.Close()

			client := NewClient(server.URL, "pw")
			got, err := client.BlockingStatus(context.Background())
			if err != nil {
				t.Fatalf("BlockingStatus failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("BlockingStatus = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuerySummary(t *testing.T) {
	server := newTestServer(t, "pw", map[string]http.HandlerFunc{
		"/api/stats/summary": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"queries": map[string]any{
					"total":           1000,
					"blocked":         250,
					"percent_blocked": 25.0,
				},
				"gravity": map[string]any{
					"domains_being_blocked": 123456,
				},
			})
		},
	})
	defer server.Close()

	client := NewClient(server.URL, "pw")
	summary, err := client.QuerySummary(context.Background())
	if err != nil {
		t.Fatalf("QuerySummary failed: %v", err)
	}
	if summary.TotalQueries != 1000 {
		t.Errorf("TotalQueries = %d, want 1000", summary.TotalQueries)
	}
	if summary.BlockedQueries != 250 {
		t.Errorf("BlockedQueries = %d, want 250", summary.BlockedQueries)
	}
	if summary.DomainsOnList != 123456 {
		t.Errorf("DomainsOnList = %d, want 123456", summary.DomainsOnList)
	}
}

func TestExpiredSessionCleared(t *testing.T) {
	server := newTestServer(t, "pw", map[string]http.HandlerFunc{
		"/api/stats/summary": func(w http.ResponseWriter, r *http.Request) {
			// Simulate server-side session expiry
			w.WriteHeader(http.StatusUnauthorized)
		},
	})
	defer server.Close()

	client := NewClient(server.URL, "pw")
	if _, err := client.QuerySummary(context.Background()); err == nil {
		t.Fatal("expected error on expired session")
	}

	client.mu.RLock()
	sid := client.sid
	client.mu.RUnlock()
	if sid != "" {
		t.Errorf("expected SID cleared after 401, got %q", sid)
	}
}
