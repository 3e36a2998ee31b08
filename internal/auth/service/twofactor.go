package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/calderhealth/medrec/internal/auth/domain"
	"github.com/calderhealth/medrec/internal/auth/store"
	"github.com/calderhealth/medrec/pkg/idx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	ErrTwoFactorNotEnabled     = errors.New("two-factor not enabled for this user")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled for this user")
	ErrTwoFactorNotSetUp       = errors.New("two-factor not set up, call SetupTOTP first")
)

// TwoFactorSetup carries a freshly generated TOTP secret for enrollment.
type TwoFactorSetup struct {
	Secret     string
	OTPAuthURL string
}

type TwoFactorService struct {
	Store  store.Store
	Issuer string // issuer name shown in authenticator apps
}

// SetupTOTP generates a TOTP secret for the user and stores it provisionally.
// Two-factor is not enforced at login until EnableTOTP confirms the user's
// authenticator produces valid codes.
func (s *TwoFactorService) SetupTOTP(ctx context.Context, userID string) (TwoFactorSetup, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if u.HasTwoFactor() {
		return TwoFactorSetup{}, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: u.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TwoFactorSetup{}, fmt.Errorf("generate TOTP key: %w", err)
	}

	if err := s.Store.Users().UpdateTwoFactorSecret(ctx, userID, key.Secret()); err != nil {
		return TwoFactorSetup{}, fmt.Errorf("store TOTP secret: %w", err)
	}

	return TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
	}, nil
}

// EnableTOTP turns two-factor on after verifying a code against the
// provisional secret stored by SetupTOTP.
func (s *TwoFactorService) EnableTOTP(ctx context.Context, userID, code, ip string) error {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.HasTwoFactor() {
		return ErrTwoFactorAlreadyEnabled
	}
	if u.TwoFactorSecret == nil || *u.TwoFactorSecret == "" {
		return ErrTwoFactorNotSetUp
	}
	if !totp.Validate(code, *u.TwoFactorSecret) {
		return ErrInvalidTwoFactorCode
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().EnableTwoFactor(ctx, userID); err != nil {
			return err
		}
		return tx.Activity().RecordActivity(ctx, domain.ActivityEntry{
			ID:        idx.New().String(),
			UserID:    userID,
			Type:      domain.ActivityTwoFactorEnable,
			IPAddress: ip,
		})
	})
}

// DisableTOTP turns two-factor off. A valid current code is required so a
// hijacked session can't silently weaken the account.
func (s *TwoFactorService) DisableTOTP(ctx context.Context, userID, code, ip string) error {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.HasTwoFactor() {
		return ErrTwoFactorNotEnabled
	}
	if !totp.Validate(code, *u.TwoFactorSecret) {
		return ErrInvalidTwoFactorCode
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().DisableTwoFactor(ctx, userID); err != nil {
			return err
		}
		return tx.Activity().RecordActivity(ctx, domain.ActivityEntry{
			ID:        idx.New().String(),
			UserID:    userID,
			Type:      domain.ActivityTwoFactorDisable,
			IPAddress: ip,
		})
	})
}
