// Package sqlstore persists the relay's durable state with bun: the pull
// request thread registry and the webhook delivery ledger. Uniqueness
// constraints carry the atomicity guarantees; the Go code only interprets
// constraint violations.
package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type prThreadRecord struct {
	bun.BaseModel `bun:"table:pr_thread_records,alias:ptr"`

	ID         string     `bun:"id,pk"`
	Repo       string     `bun:"repo,notnull"`
	Number     int        `bun:"pr_number,notnull"`
	Title      string     `bun:"title"`
	ThreadID   string     `bun:"thread_id,notnull"`
	State      string     `bun:"state,notnull"`
	Merged     bool       `bun:"merged,notnull"`
	LastError  string     `bun:"last_error"`
	AppliedSeq int64      `bun:"applied_seq,notnull"`
	CreatedAt  time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ClosedAt   *time.Time `bun:"closed_at,nullzero"`
	ArchivedAt *time.Time `bun:"archived_at,nullzero"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:pr_webhook_deliveries,alias:pwd"`

	ID            string     `bun:"id,pk"`
	ClaimID       string     `bun:"claim_id,notnull"`
	ProviderID    string     `bun:"provider_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
