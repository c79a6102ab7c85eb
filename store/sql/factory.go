package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-billing-hooks/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	webhookJobStore *WebhookJobStore
	cachedJobStore  *CachedWebhookJobStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (*RepositoryFactory, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.webhookJobStore != nil {
		return f, nil
	}
	store, err := NewWebhookJobStore(f.db)
	if err != nil {
		return nil, err
	}
	f.webhookJobStore = store
	return f, nil
}

// WithCache routes job status reads through cacheService.
func (f *RepositoryFactory) WithCache(cacheService repositorycache.CacheService) error {
	if f == nil || f.webhookJobStore == nil {
		return fmt.Errorf("sqlstore: repository factory stores are not built")
	}
	cached, err := NewCachedWebhookJobStore(f.webhookJobStore, cacheService)
	if err != nil {
		return err
	}
	f.cachedJobStore = cached
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) WebhookJobStore() *WebhookJobStore {
	if f == nil {
		return nil
	}
	return f.webhookJobStore
}

// JobStore returns the cached store when a cache was configured.
func (f *RepositoryFactory) JobStore() core.JobStore {
	if f == nil {
		return nil
	}
	if f.cachedJobStore != nil {
		return f.cachedJobStore
	}
	if f.webhookJobStore == nil {
		return nil
	}
	return f.webhookJobStore
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
