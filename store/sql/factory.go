package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-prbridge/core"
	"github.com/goliatone/go-prbridge/webhooks"
)

// RepositoryFactory builds the SQL-backed stores from one shared bun handle.
type RepositoryFactory struct {
	db *bun.DB

	recordStore    *RecordStore
	deliveryLedger *DeliveryLedger
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.recordStore != nil && f.deliveryLedger != nil {
		return nil
	}

	recordStore, err := NewRecordStore(f.db)
	if err != nil {
		return err
	}
	f.recordStore = recordStore

	deliveryLedger, err := NewDeliveryLedger(f.db)
	if err != nil {
		return err
	}
	f.deliveryLedger = deliveryLedger
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) RecordStore() core.RecordStore {
	if f == nil {
		return nil
	}
	return f.recordStore
}

func (f *RepositoryFactory) DeliveryLedger() webhooks.DeliveryLedger {
	if f == nil {
		return nil
	}
	return f.deliveryLedger
}

// CachedRecordStore wraps the factory's record store with the cache service.
func (f *RepositoryFactory) CachedRecordStore(cacheService repositorycache.CacheService) (core.RecordStore, error) {
	if f == nil || f.recordStore == nil {
		return nil, fmt.Errorf("sqlstore: record store has not been built")
	}
	return NewCachedRecordStore(f.recordStore, cacheService)
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
