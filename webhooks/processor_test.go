package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-prbridge/core"
)

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(context.Context, core.InboundRequest) error {
	return v.err
}

type stubWebhookHandler struct {
	result core.InboundResult
	err    error
	calls  int
}

func (h *stubWebhookHandler) Handle(context.Context, core.InboundRequest) (core.InboundResult, error) {
	h.calls++
	return h.result, h.err
}

func TestProcessor_DedupesDeliveries(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	handler := &stubWebhookHandler{
		result: core.InboundResult{
			Accepted:   true,
			StatusCode: 202,
		},
	}
	processor := NewProcessor(stubVerifier{}, ledger, handler)

	req := core.InboundRequest{
		ProviderID: "github",
		Headers: map[string]string{
			"X-GitHub-Delivery": "delivery-1",
		},
	}

	first, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process first webhook: %v", err)
	}
	if !first.Accepted {
		t.Fatalf("expected first delivery accepted")
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler to be called once")
	}

	second, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process duplicate webhook: %v", err)
	}
	if !second.Accepted {
		t.Fatalf("expected duplicate to be accepted as deduped")
	}
	if second.Metadata["deduped"] != true {
		t.Fatalf("expected deduped metadata marker")
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler call count to remain unchanged for duplicate")
	}
}

func TestProcessor_RecordsRetryOnHandlerFailure(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	handler := &stubWebhookHandler{
		err: errors.New("temporary failure"),
	}
	processor := NewProcessor(stubVerifier{}, ledger, handler)
	processor.RetryPolicy = ExponentialRetryPolicy{Initial: time.Second, Max: 4 * time.Second}
	processor.Now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	req := core.InboundRequest{
		ProviderID: "github",
		Headers: map[string]string{
			"X-GitHub-Delivery": "delivery-42",
		},
	}
	if _, err := processor.Process(context.Background(), req); err == nil {
		t.Fatalf("expected retryable handler failure")
	}

	record, err := ledger.Get(context.Background(), "github", "delivery-42")
	if err != nil {
		t.Fatalf("load delivery record: %v", err)
	}
	if record.Status != DeliveryStatusRetryReady {
		t.Fatalf("expected retry-ready status, got %q", record.Status)
	}

	// The redelivery of the same id must be reprocessed once its retry
	// window opens.
	ledger.Now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	}
	handler.err = nil
	handler.result = core.InboundResult{Accepted: true, StatusCode: 202}
	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process redelivery: %v", err)
	}
	if result.Metadata["deduped"] == true {
		t.Fatalf("expected redelivery to be reprocessed, not deduped")
	}
	if handler.calls != 2 {
		t.Fatalf("expected handler to run for the redelivery, calls=%d", handler.calls)
	}
}

func TestProcessor_RejectsInvalidSignature(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	handler := &stubWebhookHandler{}
	processor := NewProcessor(stubVerifier{err: errors.New("signature mismatch")}, ledger, handler)

	result, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "github",
		Headers: map[string]string{
			"X-GitHub-Delivery": "delivery-2",
		},
	})
	if err == nil {
		t.Fatalf("expected verifier error")
	}
	if result.StatusCode != 401 {
		t.Fatalf("expected unauthorized status code, got %d", result.StatusCode)
	}
	if handler.calls != 0 {
		t.Fatalf("expected handler not to run when verification fails")
	}
}

func TestProcessor_RequiresDeliveryID(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	handler := &stubWebhookHandler{}
	processor := NewProcessor(stubVerifier{}, ledger, handler)

	if _, err := processor.Process(context.Background(), core.InboundRequest{
		ProviderID: "github",
	}); err == nil {
		t.Fatalf("expected missing delivery id error")
	}
	if handler.calls != 0 {
		t.Fatalf("expected handler not to run without a delivery id")
	}
}

func TestProcessor_CoalescesPushBurstsByRef(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	handler := &stubWebhookHandler{
		result: core.InboundResult{Accepted: true, StatusCode: 202},
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	processor := NewProcessor(stubVerifier{}, ledger, handler)
	processor.Burst = NewBurstController(BurstOptions{
		Mode:   BurstModeCoalesce,
		Window: 10 * time.Second,
		Now: func() time.Time {
			return now
		},
	})

	makeReq := func(deliveryID string) core.InboundRequest {
		return core.InboundRequest{
			ProviderID: "github",
			EventType:  "push",
			Headers: map[string]string{
				"X-GitHub-Delivery": deliveryID,
			},
			Metadata: map[string]any{
				"repo": "octo/demo",
				"ref":  "refs/heads/main",
			},
		}
	}

	first, err := processor.Process(context.Background(), makeReq("push-1"))
	if err != nil {
		t.Fatalf("process first push: %v", err)
	}
	if first.Metadata["suppressed"] == true {
		t.Fatalf("expected first push to pass through")
	}

	second, err := processor.Process(context.Background(), makeReq("push-2"))
	if err != nil {
		t.Fatalf("process burst push: %v", err)
	}
	if second.Metadata["suppressed"] != true {
		t.Fatalf("expected burst push to be suppressed, got %+v", second.Metadata)
	}
	if handler.calls != 1 {
		t.Fatalf("expected one handler call, got %d", handler.calls)
	}
}

func TestInMemoryDeliveryLedger_LeaseTakeover(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	first, claimed, err := ledger.Claim(context.Background(), "github", "delivery-9", nil, 30*time.Second)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to win: claimed=%v err=%v", claimed, err)
	}

	// A second claimant inside the lease window loses.
	_, claimed, err = ledger.Claim(context.Background(), "github", "delivery-9", nil, 30*time.Second)
	if err != nil {
		t.Fatalf("claim inside lease: %v", err)
	}
	if claimed {
		t.Fatalf("expected claim inside lease to lose")
	}

	// Once the lease expires the delivery is claimable again, with a fresh
	// claim id fencing out the stale holder.
	now = now.Add(time.Minute)
	second, claimed, err := ledger.Claim(context.Background(), "github", "delivery-9", nil, 30*time.Second)
	if err != nil || !claimed {
		t.Fatalf("expected expired lease takeover: claimed=%v err=%v", claimed, err)
	}
	if second.ClaimID == first.ClaimID {
		t.Fatalf("expected a fresh claim id on takeover")
	}
	if second.Attempts != 2 {
		t.Fatalf("expected attempts to increment, got %d", second.Attempts)
	}

	// Completing with the stale claim id must be a no-op.
	if err := ledger.Complete(context.Background(), first.ClaimID); err != nil {
		t.Fatalf("stale complete: %v", err)
	}
	record, err := ledger.Get(context.Background(), "github", "delivery-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != DeliveryStatusProcessing {
		t.Fatalf("expected stale complete to be ignored, status=%q", record.Status)
	}
}

func TestInMemoryDeliveryLedger_DeadAfterMaxAttempts(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	record, _, err := ledger.Claim(context.Background(), "github", "delivery-3", nil, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ledger.Fail(context.Background(), record.ClaimID, errors.New("boom"), now.Add(time.Second), 1); err != nil {
		t.Fatalf("fail: %v", err)
	}

	record, err = ledger.Get(context.Background(), "github", "delivery-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != DeliveryStatusDead {
		t.Fatalf("expected dead status after max attempts, got %q", record.Status)
	}

	// Dead deliveries never run again.
	now = now.Add(time.Hour)
	_, claimed, err := ledger.Claim(context.Background(), "github", "delivery-3", nil, time.Second)
	if err != nil {
		t.Fatalf("claim dead: %v", err)
	}
	if claimed {
		t.Fatalf("expected dead delivery to stay unclaimable")
	}
}

func TestInMemoryDeliveryLedger_Sweep(t *testing.T) {
	ledger := NewInMemoryDeliveryLedger()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	record, _, err := ledger.Claim(context.Background(), "github", "delivery-7", nil, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ledger.Complete(context.Background(), record.ClaimID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	removed, err := ledger.Sweep(context.Background(), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected recent entry to survive sweep, removed=%d", removed)
	}

	removed, err = ledger.Sweep(context.Background(), now.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("sweep with future cutoff: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected processed entry to be swept, removed=%d", removed)
	}

	// Swept ids behave like fresh deliveries again.
	_, claimed, err := ledger.Claim(context.Background(), "github", "delivery-7", nil, time.Second)
	if err != nil || !claimed {
		t.Fatalf("expected reclaim after sweep: claimed=%v err=%v", claimed, err)
	}
}
