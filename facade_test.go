package prbridge_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	prbridge "github.com/goliatone/go-prbridge"
	"github.com/goliatone/go-prbridge/core"
	"github.com/goliatone/go-prbridge/github"
)

type stubGateway struct {
	threads  int
	messages int
}

func (g *stubGateway) CreateThread(context.Context, string, string) (string, error) {
	g.threads++
	return "thread-1", nil
}

func (g *stubGateway) PostMessage(context.Context, string, string) error {
	g.messages++
	return nil
}

func (g *stubGateway) CloseThread(context.Context, string) error { return nil }

func (g *stubGateway) PostChannelMessage(context.Context, string, string) error {
	g.messages++
	return nil
}

type inlineDispatcher struct{}

func (inlineDispatcher) Submit(ctx context.Context, _ string, task func(context.Context) error) error {
	return task(ctx)
}

func (d inlineDispatcher) Fanout(ctx context.Context, task func(context.Context) error) error {
	return task(ctx)
}

func (inlineDispatcher) Shutdown(context.Context) error { return nil }

func newTestService(t *testing.T, gateway *stubGateway) *prbridge.Service {
	t.Helper()
	cfg := prbridge.DefaultConfig()
	cfg.WebhookSecret = "hook-secret"
	cfg.Repositories = []prbridge.RepositoryConfig{{
		Repo:              "octo/demo",
		PRChannelID:       "chan-pr",
		ActivityChannelID: "chan-activity",
	}}

	service, err := prbridge.NewService(cfg,
		prbridge.WithGateway(gateway),
		prbridge.WithDispatcher(inlineDispatcher{}),
		prbridge.WithNormalizer(github.NewNormalizer()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookProcessorEndToEnd(t *testing.T) {
	gateway := &stubGateway{}
	service := newTestService(t, gateway)

	processor, err := prbridge.NewWebhookProcessor(service)
	if err != nil {
		t.Fatalf("new webhook processor: %v", err)
	}

	body := []byte(`{
		"action": "opened",
		"pull_request": {"number": 7, "title": "Add pagination", "html_url": "https://github.com/octo/demo/pull/7"},
		"repository": {"full_name": "octo/demo"}
	}`)
	req := core.InboundRequest{
		ProviderID: "github",
		EventType:  "pull_request",
		Headers: map[string]string{
			"X-GitHub-Delivery":   "delivery-1",
			"X-Hub-Signature-256": signBody("hook-secret", body),
		},
		Body: body,
	}

	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected result %+v", result)
	}
	if gateway.threads != 1 {
		t.Fatalf("expected one thread creation, got %d", gateway.threads)
	}

	// GitHub redelivery of the same id is acknowledged without side effects.
	result, err = processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process redelivery: %v", err)
	}
	if result.Metadata["deduped"] != true {
		t.Fatalf("expected deduped redelivery, got %+v", result.Metadata)
	}
	if gateway.threads != 1 {
		t.Fatalf("expected redelivery to be suppressed, got %d threads", gateway.threads)
	}
}

func TestWebhookProcessorRejectsBadSignature(t *testing.T) {
	service := newTestService(t, &stubGateway{})
	processor, err := prbridge.NewWebhookProcessor(service)
	if err != nil {
		t.Fatalf("new webhook processor: %v", err)
	}

	result, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "github",
		EventType:  "pull_request",
		Headers: map[string]string{
			"X-GitHub-Delivery":   "delivery-2",
			"X-Hub-Signature-256": "sha256=deadbeef",
		},
		Body: []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected signature rejection")
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", result.StatusCode)
	}
}

func TestNewFacadeWiresCommandsAndQueries(t *testing.T) {
	service := newTestService(t, &stubGateway{})

	facade, err := prbridge.NewFacade(service)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.ArchiveRecords == nil || commands.MarkOrphaned == nil {
		t.Fatal("expected maintenance commands to be wired")
	}
	queries := facade.Queries()
	if queries.GetPullRequestRecord == nil || queries.ListPullRequestRecords == nil {
		t.Fatal("expected record queries to be wired")
	}
	if facade.Service() == nil {
		t.Fatal("expected facade to expose its service")
	}
}
