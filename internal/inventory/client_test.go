package inventory

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleethub/pkg/fleet"
)

func fakeJWT(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims, _ := json.Marshal(map[string]any{"exp": exp.Unix()})
	payload := base64.RawURLEncoding.EncodeToString(claims)
	return header + "." + payload + ".sig"
}

func TestClientLoginAndFetch(t *testing.T) {
	token := fakeJWT(time.Now().Add(time.Hour))
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/jwt/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"access_token":%q}`, token)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(fleet.Inventory{
			Devices: []fleet.DeviceRecord{{ID: 1, Name: "proj-101"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL, "admin", "secret", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	inv, err := c.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(inv.Devices) != 1 || inv.Devices[0].Name != "proj-101" {
		t.Fatalf("unexpected inventory: %+v", inv)
	}
}

func TestClientReLoginsOn401(t *testing.T) {
	calls := 0
	goodToken := fakeJWT(time.Now().Add(time.Hour))
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/jwt/login", func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"access_token":%q}`, goodToken)
	})
	firstAttempt := true
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if firstAttempt {
			firstAttempt = false
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(fleet.Inventory{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL, "admin", "secret", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.token = goodToken
	c.expiresAt = time.Now().Add(time.Hour)

	if _, err := c.Fetch(t.Context()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one re-login, got %d", calls)
	}
}

func TestParseExpiryReturnsZeroOnMalformedToken(t *testing.T) {
	if got := parseExpiry("not-a-jwt"); !got.IsZero() {
		t.Fatalf("expected zero time, got %v", got)
	}
}

func TestEnsureTokenTriggersLoginWhenNearExpiry(t *testing.T) {
	token := fakeJWT(time.Now().Add(time.Hour))
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/jwt/login", func(w http.ResponseWriter, r *http.Request) {
		logins++
		fmt.Fprintf(w, `{"access_token":%q}`, token)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL, "admin", "secret", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.token = "stale"
	c.expiresAt = time.Now().Add(5 * time.Second)

	if err := c.ensureToken(t.Context()); err != nil {
		t.Fatalf("ensureToken: %v", err)
	}
	if logins != 1 {
		t.Fatalf("expected pre-emptive refresh login, got %d logins", logins)
	}
}
