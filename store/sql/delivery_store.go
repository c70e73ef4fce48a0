package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-prbridge/webhooks"
)

// DeliveryLedger persists webhook delivery claims. The unique index on
// (provider_id, delivery_id) arbitrates concurrent claimants: losers of the
// insert race read the winner's row, and lease takeovers are fenced by a
// conditional update on the previous claim id.
type DeliveryLedger struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	Now  func() time.Time
}

func NewDeliveryLedger(db *bun.DB) (*DeliveryLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &DeliveryLedger{
		db:   db,
		repo: repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers()),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *DeliveryLedger) Claim(
	ctx context.Context,
	providerID string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: provider id and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	now := s.now()
	leaseExpires := now.Add(lease)

	row := &webhookDeliveryRecord{
		ID:            uuid.NewString(),
		ClaimID:       uuid.NewString(),
		ProviderID:    providerID,
		DeliveryID:    deliveryID,
		Status:        webhooks.DeliveryStatusProcessing,
		Attempts:      1,
		NextAttemptAt: &leaseExpires,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	if err == nil {
		return deliveryToRecord(row), true, nil
	}
	if !isUniqueViolation(err) {
		return webhooks.DeliveryRecord{}, false, err
	}

	// Lost the insert race; decide against the winner's row.
	existing, err := s.fetch(ctx, providerID, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	switch existing.Status {
	case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
		return deliveryToRecord(existing), false, nil
	case webhooks.DeliveryStatusProcessing, webhooks.DeliveryStatusRetryReady:
		if existing.NextAttemptAt != nil && now.Before(*existing.NextAttemptAt) {
			return deliveryToRecord(existing), false, nil
		}
	}

	// The lease expired or a retry became due; fence the takeover on the
	// claim id we just observed.
	newClaimID := uuid.NewString()
	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("claim_id = ?", newClaimID).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = attempts + 1").
		Set("next_attempt_at = ?", leaseExpires).
		Set("updated_at = ?", now).
		Where("id = ?", existing.ID).
		Where("claim_id = ?", existing.ClaimID).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		// Another claimant fenced us out first.
		current, fetchErr := s.fetch(ctx, providerID, deliveryID)
		if fetchErr != nil {
			return webhooks.DeliveryRecord{}, false, fetchErr
		}
		return deliveryToRecord(current), false, nil
	}

	existing.ClaimID = newClaimID
	existing.Status = webhooks.DeliveryStatusProcessing
	existing.Attempts++
	existing.NextAttemptAt = &leaseExpires
	existing.UpdatedAt = now
	return deliveryToRecord(existing), true, nil
}

func (s *DeliveryLedger) Get(ctx context.Context, providerID string, deliveryID string) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	row, err := s.fetch(ctx, strings.TrimSpace(providerID), strings.TrimSpace(deliveryID))
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	return deliveryToRecord(row), nil
}

func (s *DeliveryLedger) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	// A stale claimant's update matches zero rows and is silently dropped.
	_, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Exec(ctx)
	return err
}

func (s *DeliveryLedger) Fail(
	ctx context.Context,
	claimID string,
	_ error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	now := s.now()
	if nextAttemptAt.IsZero() {
		nextAttemptAt = now
	}

	row := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.claim_id = ?", claimID).
		Where("?TableAlias.status = ?", webhooks.DeliveryStatusProcessing).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	query := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("updated_at = ?", now).
		Where("claim_id = ?", claimID).
		Where("status = ?", webhooks.DeliveryStatusProcessing)
	if maxAttempts > 0 && row.Attempts >= maxAttempts {
		query = query.
			Set("status = ?", webhooks.DeliveryStatusDead).
			Set("next_attempt_at = NULL")
	} else {
		query = query.
			Set("status = ?", webhooks.DeliveryStatusRetryReady).
			Set("next_attempt_at = ?", nextAttemptAt.UTC())
	}
	_, err = query.Exec(ctx)
	return err
}

func (s *DeliveryLedger) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*webhookDeliveryRecord)(nil)).
		Where("status IN (?)", bun.In([]string{webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead})).
		Where("updated_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: sweep row count: %w", err)
	}
	return int(affected), nil
}

func (s *DeliveryLedger) fetch(ctx context.Context, providerID string, deliveryID string) (*webhookDeliveryRecord, error) {
	row := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(row).
		Where("lower(?TableAlias.provider_id) = lower(?)", providerID).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: delivery %s/%s not found", providerID, deliveryID)
		}
		return nil, err
	}
	return row, nil
}

func (s *DeliveryLedger) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func deliveryToRecord(row *webhookDeliveryRecord) webhooks.DeliveryRecord {
	if row == nil {
		return webhooks.DeliveryRecord{}
	}
	record := webhooks.DeliveryRecord{
		ID:         row.ID,
		ClaimID:    row.ClaimID,
		ProviderID: row.ProviderID,
		DeliveryID: row.DeliveryID,
		Status:     row.Status,
		Attempts:   row.Attempts,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.NextAttemptAt != nil {
		value := *row.NextAttemptAt
		record.NextAttemptAt = &value
	}
	return record
}

var _ webhooks.DeliveryLedger = (*DeliveryLedger)(nil)
