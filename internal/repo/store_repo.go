package repo

import (
	"context"

	"gorm.io/gorm"

	"shopsync/internal/entity"
)

type StoreRepository interface {
	GetByDomain(ctx context.Context, domain string) (*entity.Store, error)
	Create(ctx context.Context, store *entity.Store) error
}

type storeRepository struct {
	db *gorm.DB
}

func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepository{db: db}
}

func (r *storeRepository) GetByDomain(ctx context.Context, domain string) (*entity.Store, error) {
	var store entity.Store
	err := r.db.WithContext(ctx).Where("domain = ? AND active = ?", domain, true).First(&store).Error
	if err != nil {
		return nil, translate(err)
	}
	return &store, nil
}

func (r *storeRepository) Create(ctx context.Context, store *entity.Store) error {
	return r.db.WithContext(ctx).Create(store).Error
}
