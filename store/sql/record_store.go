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

	"github.com/goliatone/go-prbridge/core"
)

// RecordStore is the durable thread registry. The unique index on
// (repo, pr_number) makes Insert the atomic claim: whichever writer commits
// first owns the key, every later insert surfaces core.ErrRecordExists.
type RecordStore struct {
	db   *bun.DB
	repo repository.Repository[*prThreadRecord]
}

func NewRecordStore(db *bun.DB) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*prThreadRecord](db, prThreadHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid pr thread repository wiring: %w", err)
		}
	}
	return &RecordStore{db: db, repo: repo}, nil
}

func (s *RecordStore) Get(ctx context.Context, repo string, number int) (core.PullRequestRecord, error) {
	if s == nil || s.db == nil {
		return core.PullRequestRecord{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	record := &prThreadRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("lower(?TableAlias.repo) = lower(?)", strings.TrimSpace(repo)).
		Where("?TableAlias.pr_number = ?", number).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.PullRequestRecord{}, fmt.Errorf("%w: %s#%d", core.ErrRecordNotFound, strings.TrimSpace(repo), number)
		}
		return core.PullRequestRecord{}, err
	}
	return prThreadToDomain(record), nil
}

func (s *RecordStore) Insert(ctx context.Context, record core.PullRequestRecord) (core.PullRequestRecord, error) {
	if s == nil || s.db == nil {
		return core.PullRequestRecord{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	if err := record.Key().Validate(); err != nil {
		return core.PullRequestRecord{}, err
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	row := prThreadFromDomain(record)
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.PullRequestRecord{}, fmt.Errorf("%w: %s", core.ErrRecordExists, record.Key())
		}
		return core.PullRequestRecord{}, err
	}
	return prThreadToDomain(row), nil
}

func (s *RecordStore) Update(ctx context.Context, record core.PullRequestRecord) (core.PullRequestRecord, error) {
	if s == nil || s.db == nil {
		return core.PullRequestRecord{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	row := prThreadFromDomain(record)
	result, err := s.db.NewUpdate().
		Model(row).
		WherePK().
		Exec(ctx)
	if err != nil {
		return core.PullRequestRecord{}, err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return core.PullRequestRecord{}, fmt.Errorf("%w: %s", core.ErrRecordNotFound, record.Key())
	}
	return prThreadToDomain(row), nil
}

func (s *RecordStore) List(ctx context.Context, filter core.RecordFilter) ([]core.PullRequestRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	rows := []*prThreadRecord{}
	query := s.db.NewSelect().
		Model(&rows).
		OrderExpr("?TableAlias.repo ASC, ?TableAlias.pr_number ASC")
	if repo := strings.TrimSpace(filter.Repo); repo != "" {
		query = query.Where("lower(?TableAlias.repo) = lower(?)", repo)
	}
	if filter.State != "" {
		query = query.Where("?TableAlias.state = ?", string(filter.State))
	}
	if filter.PerPage > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Limit(filter.PerPage).Offset((page - 1) * filter.PerPage)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	records := make([]core.PullRequestRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, prThreadToDomain(row))
	}
	return records, nil
}

func (s *RecordStore) ListArchivable(ctx context.Context, closedBefore time.Time, limit int) ([]core.PullRequestRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	rows := []*prThreadRecord{}
	query := s.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.state != ?", string(core.RecordStateOpen)).
		Where("?TableAlias.archived_at IS NULL").
		Where("?TableAlias.closed_at IS NOT NULL").
		Where("?TableAlias.closed_at < ?", closedBefore.UTC()).
		OrderExpr("?TableAlias.closed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	records := make([]core.PullRequestRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, prThreadToDomain(row))
	}
	return records, nil
}

func (s *RecordStore) Archive(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: record store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: record id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*prThreadRecord)(nil)).
		Set("archived_at = ?", at.UTC()).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: id %s", core.ErrRecordNotFound, id)
	}
	return nil
}

func prThreadToDomain(row *prThreadRecord) core.PullRequestRecord {
	if row == nil {
		return core.PullRequestRecord{}
	}
	record := core.PullRequestRecord{
		ID:         row.ID,
		Repo:       row.Repo,
		Number:     row.Number,
		Title:      row.Title,
		ThreadID:   row.ThreadID,
		State:      core.RecordState(row.State),
		Merged:     row.Merged,
		LastError:  row.LastError,
		AppliedSeq: row.AppliedSeq,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.ClosedAt != nil {
		value := *row.ClosedAt
		record.ClosedAt = &value
	}
	if row.ArchivedAt != nil {
		value := *row.ArchivedAt
		record.ArchivedAt = &value
	}
	return record
}

func prThreadFromDomain(record core.PullRequestRecord) *prThreadRecord {
	row := &prThreadRecord{
		ID:         strings.TrimSpace(record.ID),
		Repo:       strings.TrimSpace(record.Repo),
		Number:     record.Number,
		Title:      record.Title,
		ThreadID:   strings.TrimSpace(record.ThreadID),
		State:      string(record.State),
		Merged:     record.Merged,
		LastError:  record.LastError,
		AppliedSeq: record.AppliedSeq,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if record.ClosedAt != nil {
		value := record.ClosedAt.UTC()
		row.ClosedAt = &value
	}
	if record.ArchivedAt != nil {
		value := record.ArchivedAt.UTC()
		row.ArchivedAt = &value
	}
	return row
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.RecordStore = (*RecordStore)(nil)
