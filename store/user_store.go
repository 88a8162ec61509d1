package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"arbiter/models"
)

type UserStore struct {
	db *gorm.DB
}

func (s *UserStore) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "UserStore.Get"
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, wrapError(op, err)
	}
	return &user, nil
}
