package repository

import (
	"context"
	"errors"

	"crash-game/internal/models"

	"gorm.io/gorm"
)

// ErrStaleTransition means the row was no longer in the expected status
var ErrStaleTransition = errors.New("stale status transition")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying handle
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByWallet returns the user owning a wallet address, or nil
func (r *Repository) FindUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("LOWER(wallet_address) = LOWER(?)", wallet).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
