package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryDeliveryLedger keeps delivery claims in process memory. Processed
// entries are retained for the dedup window and evicted by Sweep; a crashed
// claimant's lease expires and the redelivery takes over the entry.
type InMemoryDeliveryLedger struct {
	mu      sync.Mutex
	entries map[string]DeliveryRecord
	claims  map[string]string
	Now     func() time.Time
}

func NewInMemoryDeliveryLedger() *InMemoryDeliveryLedger {
	return &InMemoryDeliveryLedger{
		entries: map[string]DeliveryRecord{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func ledgerKey(providerID, deliveryID string) string {
	return strings.ToLower(strings.TrimSpace(providerID)) + ":" + strings.TrimSpace(deliveryID)
}

func (s *InMemoryDeliveryLedger) Claim(
	_ context.Context,
	providerID string,
	deliveryID string,
	_ []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	if s == nil {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: provider id and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	now := s.now()
	key := ledgerKey(providerID, deliveryID)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if exists {
		switch entry.Status {
		case DeliveryStatusProcessed, DeliveryStatusDead:
			return entry, false, nil
		case DeliveryStatusProcessing:
			if entry.NextAttemptAt != nil && now.Before(*entry.NextAttemptAt) {
				return entry, false, nil
			}
			// Lease expired; the previous claimant died mid-flight.
		case DeliveryStatusRetryReady:
			if entry.NextAttemptAt != nil && now.Before(*entry.NextAttemptAt) {
				return entry, false, nil
			}
		}
		if entry.ClaimID != "" {
			delete(s.claims, entry.ClaimID)
		}
		leaseExpires := now.Add(lease)
		entry.ClaimID = uuid.NewString()
		entry.Status = DeliveryStatusProcessing
		entry.Attempts++
		entry.NextAttemptAt = &leaseExpires
		entry.UpdatedAt = now
		s.entries[key] = entry
		s.claims[entry.ClaimID] = key
		return entry, true, nil
	}

	leaseExpires := now.Add(lease)
	entry = DeliveryRecord{
		ID:            uuid.NewString(),
		ClaimID:       uuid.NewString(),
		ProviderID:    providerID,
		DeliveryID:    deliveryID,
		Status:        DeliveryStatusProcessing,
		Attempts:      1,
		NextAttemptAt: &leaseExpires,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.entries[key] = entry
	s.claims[entry.ClaimID] = key
	return entry, true, nil
}

func (s *InMemoryDeliveryLedger) Get(_ context.Context, providerID string, deliveryID string) (DeliveryRecord, error) {
	if s == nil {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ledgerKey(providerID, deliveryID)]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery %s/%s not found", strings.TrimSpace(providerID), strings.TrimSpace(deliveryID))
	}
	return entry, nil
}

func (s *InMemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	if s == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("webhooks: claim id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != DeliveryStatusProcessing {
		delete(s.claims, claimID)
		return nil
	}
	entry.Status = DeliveryStatusProcessed
	entry.NextAttemptAt = nil
	entry.UpdatedAt = s.now()
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

func (s *InMemoryDeliveryLedger) Fail(
	_ context.Context,
	claimID string,
	_ error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("webhooks: claim id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != DeliveryStatusProcessing {
		delete(s.claims, claimID)
		return nil
	}
	now := s.now()
	if maxAttempts > 0 && entry.Attempts >= maxAttempts {
		entry.Status = DeliveryStatusDead
		entry.NextAttemptAt = nil
	} else {
		if nextAttemptAt.IsZero() {
			nextAttemptAt = now
		}
		retryAt := nextAttemptAt.UTC()
		entry.Status = DeliveryStatusRetryReady
		entry.NextAttemptAt = &retryAt
	}
	entry.UpdatedAt = now
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

// Sweep drops terminal entries last touched before the cutoff, bounding the
// ledger to the dedup retention window.
func (s *InMemoryDeliveryLedger) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.Status != DeliveryStatusProcessed && entry.Status != DeliveryStatusDead {
			continue
		}
		if !entry.UpdatedAt.Before(olderThan) {
			continue
		}
		if entry.ClaimID != "" {
			delete(s.claims, entry.ClaimID)
		}
		delete(s.entries, key)
		removed++
	}
	return removed, nil
}

func (s *InMemoryDeliveryLedger) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ DeliveryLedger = (*InMemoryDeliveryLedger)(nil)
