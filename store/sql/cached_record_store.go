package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-prbridge/core"
)

const prThreadCacheKeyPrefix = "go-prbridge::pr_thread::v1"

// CachedRecordStore layers read-through caching over a RecordStore. Only the
// hot lookup path is cached; list queries always hit the base store.
type CachedRecordStore struct {
	base  core.RecordStore
	cache repositorycache.CacheService
}

func NewCachedRecordStore(base core.RecordStore, cacheService repositorycache.CacheService) (*CachedRecordStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base record store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: record cache service is required")
	}
	return &CachedRecordStore{base: base, cache: cacheService}, nil
}

// PRThreadCacheKey returns the deterministic cache key for a registry lookup:
// go-prbridge::pr_thread::v1::<repo>::<pr_number> with the repo segment
// URL-path escaped after lowercasing.
func PRThreadCacheKey(repo string, number int) (string, error) {
	repo = strings.ToLower(strings.TrimSpace(repo))
	if repo == "" {
		return "", fmt.Errorf("sqlstore: repo is required for cache key")
	}
	if number <= 0 {
		return "", fmt.Errorf("sqlstore: pull request number is required for cache key")
	}
	return strings.Join([]string{
		prThreadCacheKeyPrefix,
		url.PathEscape(repo),
		strconv.Itoa(number),
	}, "::"), nil
}

func (s *CachedRecordStore) Get(ctx context.Context, repo string, number int) (core.PullRequestRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.PullRequestRecord{}, fmt.Errorf("sqlstore: cached record store is not configured")
	}
	cacheKey, err := PRThreadCacheKey(repo, number)
	if err != nil {
		return core.PullRequestRecord{}, err
	}
	record, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.PullRequestRecord, error) {
		return s.base.Get(ctx, repo, number)
	})
	if err != nil {
		return core.PullRequestRecord{}, err
	}
	return record, nil
}

func (s *CachedRecordStore) Insert(ctx context.Context, record core.PullRequestRecord) (core.PullRequestRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.PullRequestRecord{}, fmt.Errorf("sqlstore: cached record store is not configured")
	}
	inserted, err := s.base.Insert(ctx, record)
	if err != nil {
		return core.PullRequestRecord{}, err
	}
	if err := s.invalidate(ctx, inserted.Repo, inserted.Number); err != nil {
		return core.PullRequestRecord{}, err
	}
	return inserted, nil
}

func (s *CachedRecordStore) Update(ctx context.Context, record core.PullRequestRecord) (core.PullRequestRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.PullRequestRecord{}, fmt.Errorf("sqlstore: cached record store is not configured")
	}
	updated, err := s.base.Update(ctx, record)
	if err != nil {
		return core.PullRequestRecord{}, err
	}
	if err := s.invalidate(ctx, updated.Repo, updated.Number); err != nil {
		return core.PullRequestRecord{}, err
	}
	return updated, nil
}

func (s *CachedRecordStore) List(ctx context.Context, filter core.RecordFilter) ([]core.PullRequestRecord, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached record store is not configured")
	}
	return s.base.List(ctx, filter)
}

func (s *CachedRecordStore) ListArchivable(ctx context.Context, closedBefore time.Time, limit int) ([]core.PullRequestRecord, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached record store is not configured")
	}
	return s.base.ListArchivable(ctx, closedBefore, limit)
}

func (s *CachedRecordStore) Archive(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached record store is not configured")
	}
	// Archive carries only the row id; the cached copy keeps serving reads
	// until its TTL expires, which is fine because archived_at never drives
	// lifecycle decisions.
	return s.base.Archive(ctx, id, at)
}

func (s *CachedRecordStore) invalidate(ctx context.Context, repo string, number int) error {
	cacheKey, err := PRThreadCacheKey(repo, number)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.RecordStore = (*CachedRecordStore)(nil)
