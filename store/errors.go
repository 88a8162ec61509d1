package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound                 = errors.New("record not found")
	ErrAlreadyExists            = errors.New("record already exists")
	ErrDuplicateTransactionHash = errors.New("duplicate transaction hash")
	ErrConflict                 = errors.New("conditional update lost")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrStoreUnavailable         = errors.New("store unavailable")
)

// wrapError 將 gorm 的錯誤轉換成 store 的錯誤分類
func wrapError(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}
