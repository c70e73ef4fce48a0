package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-prbridge/core"
)

func TestRESTAdapterRoundTrip(t *testing.T) {
	var gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("limit")
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"123"}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(nil)
	adapter.DefaultHeaders = map[string]string{"Authorization": "Bot token"}

	res, err := adapter.Do(context.Background(), core.TransportRequest{
		Method: http.MethodPost,
		URL:    server.URL + "/channels/1/messages",
		Query:  map[string]string{"limit": "5"},
		Body:   []byte(`{"content":"hi"}`),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if string(res.Body) != `{"id":"123"}` {
		t.Fatalf("unexpected body %q", res.Body)
	}
	if res.Headers["X-Ratelimit-Remaining"] != "4" {
		t.Fatalf("expected rate limit header to round trip, got %+v", res.Headers)
	}
	if gotAuth != "Bot token" {
		t.Fatalf("expected default header to apply, got %q", gotAuth)
	}
	if gotQuery != "5" {
		t.Fatalf("expected query to merge, got %q", gotQuery)
	}
}

func TestRESTAdapterRejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(nil)
	adapter.MaxResponseBodyBytes = 16

	if _, err := adapter.Do(context.Background(), core.TransportRequest{URL: server.URL}); err == nil {
		t.Fatal("expected oversized response to be rejected")
	}
}

func TestRESTAdapterRequiresURL(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	if _, err := adapter.Do(context.Background(), core.TransportRequest{}); err == nil {
		t.Fatal("expected missing url error")
	}
}
