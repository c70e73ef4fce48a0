package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRecordStore keeps pull request records in process memory. It backs
// tests and single-node deployments; durable installs use store/sql.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]PullRequestRecord
	byID    map[string]string
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: map[string]PullRequestRecord{},
		byID:    map[string]string{},
	}
}

func recordKey(repo string, number int) string {
	return strings.ToLower(strings.TrimSpace(repo)) + "#" + fmt.Sprint(number)
}

func (s *MemoryRecordStore) Get(_ context.Context, repo string, number int) (PullRequestRecord, error) {
	if s == nil {
		return PullRequestRecord{}, fmt.Errorf("core: memory record store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey(repo, number)]
	if !ok {
		return PullRequestRecord{}, fmt.Errorf("%w: %s#%d", ErrRecordNotFound, strings.TrimSpace(repo), number)
	}
	return record, nil
}

func (s *MemoryRecordStore) Insert(_ context.Context, record PullRequestRecord) (PullRequestRecord, error) {
	if s == nil {
		return PullRequestRecord{}, fmt.Errorf("core: memory record store is nil")
	}
	if err := record.Key().Validate(); err != nil {
		return PullRequestRecord{}, err
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	key := recordKey(record.Repo, record.Number)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return PullRequestRecord{}, fmt.Errorf("%w: %s", ErrRecordExists, record.Key())
	}
	s.records[key] = record
	s.byID[record.ID] = key
	return record, nil
}

func (s *MemoryRecordStore) Update(_ context.Context, record PullRequestRecord) (PullRequestRecord, error) {
	if s == nil {
		return PullRequestRecord{}, fmt.Errorf("core: memory record store is nil")
	}
	key := recordKey(record.Repo, record.Number)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; !exists {
		return PullRequestRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, record.Key())
	}
	s.records[key] = record
	return record, nil
}

func (s *MemoryRecordStore) List(_ context.Context, filter RecordFilter) ([]PullRequestRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory record store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]PullRequestRecord, 0, len(s.records))
	for _, record := range s.records {
		if strings.TrimSpace(filter.Repo) != "" && !strings.EqualFold(record.Repo, strings.TrimSpace(filter.Repo)) {
			continue
		}
		if filter.State != "" && record.State != filter.State {
			continue
		}
		matched = append(matched, record)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Repo != matched[j].Repo {
			return matched[i].Repo < matched[j].Repo
		}
		return matched[i].Number < matched[j].Number
	})

	perPage := filter.PerPage
	if perPage <= 0 {
		return matched, nil
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(matched) {
		return []PullRequestRecord{}, nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (s *MemoryRecordStore) ListArchivable(_ context.Context, closedBefore time.Time, limit int) ([]PullRequestRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory record store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]PullRequestRecord, 0)
	for _, record := range s.records {
		if record.ArchivedAt != nil {
			continue
		}
		if record.State == RecordStateOpen {
			continue
		}
		if record.ClosedAt == nil || !record.ClosedAt.Before(closedBefore) {
			continue
		}
		matched = append(matched, record)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

func (s *MemoryRecordStore) Archive(_ context.Context, id string, at time.Time) error {
	if s == nil {
		return fmt.Errorf("core: memory record store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("core: record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %s", ErrRecordNotFound, id)
	}
	record := s.records[key]
	archivedAt := at.UTC()
	record.ArchivedAt = &archivedAt
	record.UpdatedAt = archivedAt
	s.records[key] = record
	return nil
}

var _ RecordStore = (*MemoryRecordStore)(nil)
