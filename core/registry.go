package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ThreadFactory performs the side-effecting platform call that materializes a
// thread. It runs at most once per key under the registry's per-key lock.
type ThreadFactory func(ctx context.Context) (string, error)

// ThreadRegistry guards the (repo, number) -> thread correlation. Creation is
// atomic per key: the platform call and the record commit happen under one
// per-key critical section, so concurrent opens collapse into a single thread
// and every caller observes the same thread id.
type ThreadRegistry struct {
	store RecordStore
	locks keyedLocks
	Now   func() time.Time
}

func NewThreadRegistry(store RecordStore) (*ThreadRegistry, error) {
	if store == nil {
		return nil, fmt.Errorf("core: record store is required")
	}
	return &ThreadRegistry{
		store: store,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (r *ThreadRegistry) Get(ctx context.Context, key RepoKey) (PullRequestRecord, bool, error) {
	if r == nil || r.store == nil {
		return PullRequestRecord{}, false, fmt.Errorf("core: thread registry is not configured")
	}
	if err := key.Validate(); err != nil {
		return PullRequestRecord{}, false, err
	}
	record, err := r.store.Get(ctx, key.Repo, key.Number)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return PullRequestRecord{}, false, nil
		}
		return PullRequestRecord{}, false, err
	}
	return record, true, nil
}

// CreateIfAbsent returns the existing record for the key, or runs the factory
// and commits a fresh Open record bound to the produced thread id. The bool
// reports whether this call created the record.
func (r *ThreadRegistry) CreateIfAbsent(
	ctx context.Context,
	key RepoKey,
	title string,
	factory ThreadFactory,
) (PullRequestRecord, bool, error) {
	if r == nil || r.store == nil {
		return PullRequestRecord{}, false, fmt.Errorf("core: thread registry is not configured")
	}
	if err := key.Validate(); err != nil {
		return PullRequestRecord{}, false, err
	}
	if factory == nil {
		return PullRequestRecord{}, false, fmt.Errorf("core: thread factory is required")
	}

	unlock := r.locks.lock(key.String())
	defer unlock()

	existing, err := r.store.Get(ctx, key.Repo, key.Number)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return PullRequestRecord{}, false, err
	}

	threadID, err := factory(ctx)
	if err != nil {
		return PullRequestRecord{}, false, err
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return PullRequestRecord{}, false, fmt.Errorf("core: thread factory returned empty thread id for %s", key)
	}

	now := r.now()
	record := PullRequestRecord{
		ID:        uuid.NewString(),
		Repo:      key.Repo,
		Number:    key.Number,
		Title:     strings.TrimSpace(title),
		ThreadID:  threadID,
		State:     RecordStateOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := r.store.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, ErrRecordExists) {
			// Another process claimed the key between our read and write;
			// surface its record so callers converge on one thread id.
			existing, getErr := r.store.Get(ctx, key.Repo, key.Number)
			if getErr != nil {
				return PullRequestRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return PullRequestRecord{}, false, err
	}
	return created, true, nil
}

// MarkClosed transitions the record to closed. Applying it twice is a no-op;
// the bool reports whether this call performed the transition.
func (r *ThreadRegistry) MarkClosed(ctx context.Context, key RepoKey, merged bool) (PullRequestRecord, bool, error) {
	if r == nil || r.store == nil {
		return PullRequestRecord{}, false, fmt.Errorf("core: thread registry is not configured")
	}
	unlock := r.locks.lock(key.String())
	defer unlock()

	record, err := r.store.Get(ctx, key.Repo, key.Number)
	if err != nil {
		return PullRequestRecord{}, false, err
	}
	if record.State != RecordStateOpen {
		return record, false, nil
	}
	if err := record.TransitionTo(RecordStateClosed, "", r.now()); err != nil {
		return PullRequestRecord{}, false, err
	}
	record.Merged = merged
	updated, err := r.store.Update(ctx, record)
	if err != nil {
		return PullRequestRecord{}, false, err
	}
	return updated, true, nil
}

// MarkOrphaned suppresses further platform actions for a key whose thread or
// channel disappeared externally.
func (r *ThreadRegistry) MarkOrphaned(ctx context.Context, key RepoKey, reason string) (PullRequestRecord, error) {
	if r == nil || r.store == nil {
		return PullRequestRecord{}, fmt.Errorf("core: thread registry is not configured")
	}
	unlock := r.locks.lock(key.String())
	defer unlock()

	record, err := r.store.Get(ctx, key.Repo, key.Number)
	if err != nil {
		return PullRequestRecord{}, err
	}
	if record.State == RecordStateOrphaned {
		return record, nil
	}
	if err := record.TransitionTo(RecordStateOrphaned, reason, r.now()); err != nil {
		return PullRequestRecord{}, err
	}
	return r.store.Update(ctx, record)
}

// RecordSequence stamps the latest applied ingestion sequence for audit.
func (r *ThreadRegistry) RecordSequence(ctx context.Context, key RepoKey, seq int64) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("core: thread registry is not configured")
	}
	unlock := r.locks.lock(key.String())
	defer unlock()

	record, err := r.store.Get(ctx, key.Repo, key.Number)
	if err != nil {
		return err
	}
	if seq <= record.AppliedSeq {
		return nil
	}
	record.AppliedSeq = seq
	record.UpdatedAt = r.now()
	_, err = r.store.Update(ctx, record)
	return err
}

func (r *ThreadRegistry) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// keyedLocks hands out one mutex per pull request key so unrelated PRs never
// contend on a global lock.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
