package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/calderhealth/medrec/internal/auth/domain"
	"github.com/calderhealth/medrec/pkg/cryptox"
	"github.com/calderhealth/medrec/pkg/idx"
)

// seedAdmin creates the first admin account from config when the user table
// is empty. A populated table means the deployment is already provisioned and
// the seed settings are ignored.
func (app *Application) seedAdmin(ctx context.Context) error {
	if app.cfg.SeedAdminEmail == "" || app.cfg.SeedAdminPassword == "" {
		return nil
	}

	empty, err := app.db.Users().IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for existing users: %w", err)
	}
	if !empty {
		app.logger.Debug("users exist, skipping admin seed")
		return nil
	}

	hash, err := cryptox.HashPassword(app.cfg.SeedAdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash seed admin password: %w", err)
	}

	u := domain.User{
		ID:           idx.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(app.cfg.SeedAdminEmail)),
		FullName:     app.cfg.SeedAdminName,
		PasswordHash: hash,
		Role:         "admin",
		Active:       true,
		Superuser:    true,
	}
	if err := app.db.Users().CreateUser(ctx, u); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	app.logger.Info("seeded initial admin account", "email", u.Email)
	return nil
}
