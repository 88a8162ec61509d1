package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Auctions() IAuctionStore {
	return &AuctionStore{db: r.db}
}

func (r *Repository) Bids() IBidStore {
	return &BidStore{db: r.db}
}

func (r *Repository) Users() IUserStore {
	return &UserStore{db: r.db}
}

func (r *Repository) Transaction(ctx context.Context, fn func(tx IRepository) error) error {
	const op = "Repository.Transaction"
	// fn 的錯誤原封不動地回傳，只有 begin/commit 本身的失敗才算是 store 不可用
	var fnErr error
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Repository{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return wrapError(op, err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	const op = "Repository.Ping"
	sqlDB, err := r.db.DB()
	if err != nil {
		return wrapError(op, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return nil
}
