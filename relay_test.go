package prbridge_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	prbridge "github.com/goliatone/go-prbridge"
	"github.com/goliatone/go-prbridge/core"
)

type capturedRequest struct {
	method string
	path   string
	body   string
}

// recordingDoer plays the Discord API: thread creation returns a fixed id,
// everything else returns an empty object.
type recordingDoer struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}

	d.mu.Lock()
	d.requests = append(d.requests, capturedRequest{
		method: req.Method,
		path:   req.URL.Path,
		body:   body,
	})
	d.mu.Unlock()

	payload := `{}`
	if strings.HasSuffix(req.URL.Path, "/threads") {
		payload = `{"id":"555"}`
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(payload)),
	}, nil
}

func (d *recordingDoer) captured() []capturedRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]capturedRequest, len(d.requests))
	copy(out, d.requests)
	return out
}

func TestNewDiscordRelayEndToEnd(t *testing.T) {
	doer := &recordingDoer{}

	cfg := prbridge.DefaultConfig()
	cfg.WebhookSecret = "hook-secret"
	cfg.Repositories = []prbridge.RepositoryConfig{{
		Repo:              "octo/demo",
		PRChannelID:       "chan-pr",
		ActivityChannelID: "chan-activity",
	}}

	service, err := prbridge.NewDiscordRelay(cfg, prbridge.RelayOptions{
		BotToken:   "bot-token",
		BaseURL:    "https://discord.test/api",
		HTTPClient: doer,
	})
	if err != nil {
		t.Fatalf("new discord relay: %v", err)
	}

	processor, err := prbridge.NewWebhookProcessor(service)
	if err != nil {
		t.Fatalf("new webhook processor: %v", err)
	}

	body := []byte(`{
		"action": "opened",
		"pull_request": {"number": 9, "title": "Wire metrics", "html_url": "https://github.com/octo/demo/pull/9"},
		"repository": {"full_name": "octo/demo"}
	}`)
	result, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "github",
		EventType:  "pull_request",
		Headers: map[string]string{
			"X-GitHub-Delivery":   "delivery-relay-1",
			"X-Hub-Signature-256": signBody("hook-secret", body),
		},
		Body: body,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected result %+v", result)
	}

	// Drain the dispatch lanes so the gateway calls are observable.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	requests := doer.captured()
	if len(requests) != 2 {
		t.Fatalf("expected thread create + opening message, got %d requests: %+v", len(requests), requests)
	}
	if requests[0].method != http.MethodPost || requests[0].path != "/api/channels/chan-pr/threads" {
		t.Fatalf("unexpected thread create request %+v", requests[0])
	}
	if !strings.Contains(requests[0].body, "PR #9: Wire metrics") {
		t.Fatalf("expected thread name in payload, got %s", requests[0].body)
	}
	if requests[1].path != "/api/channels/555/messages" {
		t.Fatalf("expected opening message in created thread, got %+v", requests[1])
	}
	if !strings.Contains(requests[1].body, "New PR opened: https://github.com/octo/demo/pull/9") {
		t.Fatalf("unexpected opening message %s", requests[1].body)
	}

	record, err := service.GetPullRequestRecord(context.Background(), "octo/demo", 9)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.ThreadID != "555" || record.State != core.RecordStateOpen {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestNewDiscordRelayRequiresToken(t *testing.T) {
	_, err := prbridge.NewDiscordRelay(prbridge.DefaultConfig(), prbridge.RelayOptions{})
	if err == nil {
		t.Fatal("expected missing token error")
	}
}
