package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMailerSendsLoginCode(t *testing.T) {
	var got mailRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode mail request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewMailer(srv.URL, "key-123", "portal@example.com")
	if err := m.SendLoginCode(context.Background(), "alice@example.com", "123456"); err != nil {
		t.Fatalf("send login code: %v", err)
	}
	if auth != "Bearer key-123" {
		t.Fatalf("authorization = %q", auth)
	}
	if got.To != "alice@example.com" || got.From != "portal@example.com" {
		t.Fatalf("mail request = %+v", got)
	}
	if !strings.Contains(got.Text, "123456") {
		t.Fatalf("mail text %q does not contain the code", got.Text)
	}
}

func TestMailerSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewMailer(srv.URL, "key", "portal@example.com")
	err := m.SendLoginCode(context.Background(), "alice@example.com", "123456")
	if err == nil {
		t.Fatalf("expected error on non-2xx status")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want status in message", err)
	}
}
