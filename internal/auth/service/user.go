package service

import (
	"context"

	"github.com/calderhealth/medrec/internal/auth/domain"
	"github.com/calderhealth/medrec/internal/auth/store"
)

type UserService struct {
	Store store.Store
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// GetProfile returns the client-visible profile for a user.
func (s *UserService) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.ProfileOf(u), nil
}

// ListActivity returns the newest audit entries for a user.
func (s *UserService) ListActivity(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Store.Activity().ListUserActivity(ctx, userID, limit)
}
