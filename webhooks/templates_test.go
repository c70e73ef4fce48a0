package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/goliatone/go-prbridge/core"
)

func signHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubWebhookTemplate_VerifiesSignature(t *testing.T) {
	template := NewGitHubWebhookTemplate("hunter2")
	body := []byte(`{"action":"opened"}`)

	req := core.InboundRequest{
		ProviderID: template.ProviderID,
		Headers: map[string]string{
			"X-Hub-Signature-256": "sha256=" + signHex("hunter2", body),
			"X-GitHub-Delivery":   "delivery-1",
		},
		Body: body,
	}
	if err := template.Verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("expected valid signature to verify: %v", err)
	}

	deliveryID, err := template.Extractor(req)
	if err != nil {
		t.Fatalf("extract delivery id: %v", err)
	}
	if deliveryID != "delivery-1" {
		t.Fatalf("unexpected delivery id %q", deliveryID)
	}
}

func TestGitHubWebhookTemplate_RejectsBadSignature(t *testing.T) {
	template := NewGitHubWebhookTemplate("hunter2")
	body := []byte(`{"action":"opened"}`)

	cases := []struct {
		name   string
		header string
	}{
		{"wrong secret", "sha256=" + signHex("wrong", body)},
		{"missing prefix garbage", "sha256=nothex"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := core.InboundRequest{
				ProviderID: template.ProviderID,
				Headers:    map[string]string{"X-Hub-Signature-256": tc.header},
				Body:       body,
			}
			if err := template.Verifier.Verify(context.Background(), req); err == nil {
				t.Fatal("expected verification failure")
			}
		})
	}
}

func TestGitHubWebhookTemplate_RejectsTamperedBody(t *testing.T) {
	template := NewGitHubWebhookTemplate("hunter2")
	body := []byte(`{"action":"opened"}`)
	signature := "sha256=" + signHex("hunter2", body)

	req := core.InboundRequest{
		ProviderID: template.ProviderID,
		Headers:    map[string]string{"X-Hub-Signature-256": signature},
		Body:       []byte(`{"action":"closed"}`),
	}
	if err := template.Verifier.Verify(context.Background(), req); err == nil {
		t.Fatal("expected tampered body to fail verification")
	}
}
