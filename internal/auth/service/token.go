package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calderhealth/medrec/internal/auth/domain"
	"github.com/calderhealth/medrec/internal/auth/store"
	"github.com/calderhealth/medrec/pkg/authsdk"
	"github.com/calderhealth/medrec/pkg/cryptox"
	"github.com/calderhealth/medrec/pkg/idx"
	"github.com/calderhealth/medrec/pkg/jwtx"
	"github.com/calderhealth/medrec/pkg/slogx"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultChallengeTTL is how long a pending two-factor login stays
	// completable after the password check.
	DefaultChallengeTTL = 5 * time.Minute
)

var (
	ErrInvalidCredentials   = errors.New("invalid_credentials")
	ErrInvalidTwoFactorCode = errors.New("invalid_two_factor_code")
	ErrInvalidRefresh       = errors.New("invalid_refresh_token")
	ErrTooManyAttempts      = errors.New("too_many_attempts")
)

// TwoFactorRequiredError is an alias to the SDK's TwoFactorRequiredError so
// the service and the wire layer share one type.
type TwoFactorRequiredError = authsdk.TwoFactorRequiredError

type TokenService struct {
	Signer       jwtx.Signer
	Store        store.Store
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
}

// PasswordLogin verifies an email/password pair and issues tokens.
//
// Accounts with two-factor enabled get no tokens here: the password check
// reserves a login challenge and the caller receives *TwoFactorRequiredError
// carrying the challenge token for CompleteTwoFactor.
func (s *TokenService) PasswordLogin(
	ctx context.Context,
	email, password, ip string,
) (*domain.TokenPair, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn roughly the same time as a real verification so response
			// timing doesn't reveal which emails exist.
			cryptox.VerifyDummyPassword(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		l.Info("password verification failed", slog.String("user_id", u.ID))
		return nil, ErrInvalidCredentials
	}

	// Inactive accounts get the same answer as a wrong password.
	if !u.Active {
		l.Info("login attempt on inactive account", slog.String("user_id", u.ID))
		return nil, ErrInvalidCredentials
	}

	sessionID := idx.New().String()

	if u.HasTwoFactor() {
		challenge := domain.LoginChallenge{
			ID:        idx.New().String(),
			UserID:    u.ID,
			SessionID: sessionID,
			ExpiresAt: now.Add(s.challengeTTL()),
		}
		if err := s.Store.LoginChallenges().CreateLoginChallenge(ctx, challenge); err != nil {
			return nil, err
		}
		l.Info("two-factor challenge issued", slog.String("user_id", u.ID))
		return nil, &TwoFactorRequiredError{TwoFactorToken: challenge.ID}
	}

	var pair *domain.TokenPair
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		pair, err = s.issueTokens(ctx, tx, u, sessionID, []string{jwtx.AMRPassword}, now)
		if err != nil {
			return err
		}
		return s.recordLoginSideEffects(ctx, tx, u.ID, domain.ActivityLogin, ip)
	})
	if err != nil {
		return nil, err
	}

	l.Info("password login succeeded", slog.String("user_id", u.ID), slog.String("sid", sessionID))
	return pair, nil
}

// CompleteTwoFactor finishes a pending login by validating a TOTP code
// against the challenge issued by PasswordLogin.
//
// Each challenge survives at most domain.MaxChallengeAttempts failed codes,
// then it is deleted and the user must start over from the password step.
func (s *TokenService) CompleteTwoFactor(
	ctx context.Context,
	challengeToken, code, ip string,
) (*domain.TokenPair, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	challenge, err := s.Store.LoginChallenges().GetLoginChallenge(ctx, challengeToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidTwoFactorCode
		}
		return nil, err
	}

	if challenge.Expired(now) {
		_ = s.Store.LoginChallenges().DeleteLoginChallenge(ctx, challenge.ID)
		return nil, ErrInvalidTwoFactorCode
	}

	if challenge.Attempts >= domain.MaxChallengeAttempts {
		_ = s.Store.LoginChallenges().DeleteLoginChallenge(ctx, challenge.ID)
		l.Warn("two-factor challenge exceeded max attempts",
			slog.String("user_id", challenge.UserID),
			slog.Int("attempts", challenge.Attempts),
		)
		return nil, ErrTooManyAttempts
	}

	u, err := s.Store.Users().GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}

	if u.TwoFactorSecret == nil || *u.TwoFactorSecret == "" || !totp.Validate(code, *u.TwoFactorSecret) {
		updated, err := s.Store.LoginChallenges().IncrementLoginChallengeAttempts(ctx, challenge.ID)
		if err != nil {
			return nil, ErrInvalidTwoFactorCode
		}
		l.Info("two-factor code rejected",
			slog.String("user_id", u.ID),
			slog.Int("attempts", updated.Attempts),
		)
		if updated.Attempts >= domain.MaxChallengeAttempts {
			_ = s.Store.LoginChallenges().DeleteLoginChallenge(ctx, challenge.ID)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidTwoFactorCode
	}

	// Token issuance and challenge consumption are atomic so a challenge can
	// never mint two sessions.
	var pair *domain.TokenPair
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		pair, err = s.issueTokens(ctx, tx, u, challenge.SessionID, []string{jwtx.AMRPassword, jwtx.AMROTP}, now)
		if err != nil {
			return err
		}
		if err := tx.LoginChallenges().DeleteLoginChallenge(ctx, challenge.ID); err != nil {
			return err
		}
		return s.recordLoginSideEffects(ctx, tx, u.ID, domain.ActivityTwoFactorVerify, ip)
	})
	if err != nil {
		return nil, err
	}

	l.Info("two-factor login succeeded", slog.String("user_id", u.ID), slog.String("sid", challenge.SessionID))
	return pair, nil
}

// Refresh exchanges a live refresh token for a new token pair. The old
// refresh token is revoked in the same transaction that stores the new one,
// so replaying a consumed token always fails.
func (s *TokenService) Refresh(ctx context.Context, refreshOpaque string) (*domain.TokenPair, error) {
	now := time.Now()

	fp := cryptox.FingerprintToken(refreshOpaque)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	if rt.Revoked || now.After(rt.ExpiresAt) {
		return nil, ErrInvalidRefresh
	}

	u, err := s.Store.Users().GetUserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidRefresh
	}

	// Preserve how the session originally authenticated and stamp the
	// refresh on top.
	amr := dedupe(append(rt.AMR, jwtx.AMRRefresh))

	accessToken, err := s.signAccess(u, rt.SessionID, amr, now)
	if err != nil {
		return nil, err
	}

	newOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	newRT := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(newOpaque),
		SessionID: rt.SessionID,
		AMR:       amr,
		ExpiresAt: now.Add(s.RefreshTTL),
	}

	if err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, fp); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, newRT)
	}); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newOpaque,
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// RevokeSession revokes every refresh token belonging to a session (logout).
func (s *TokenService) RevokeSession(ctx context.Context, userID, sessionID, ip string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeSessionRefreshTokens(ctx, sessionID); err != nil {
			return err
		}
		return tx.Activity().RecordActivity(ctx, domain.ActivityEntry{
			ID:        idx.New().String(),
			UserID:    userID,
			Type:      domain.ActivityLogout,
			IPAddress: ip,
		})
	})
}

// issueTokens signs an access token and stores a fresh refresh token inside
// the caller's transaction.
func (s *TokenService) issueTokens(
	ctx context.Context,
	tx store.Tx,
	u domain.User,
	sessionID string,
	amr []string,
	now time.Time,
) (*domain.TokenPair, error) {
	accessToken, err := s.signAccess(u, sessionID, amr, now)
	if err != nil {
		return nil, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	rt := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(refreshOpaque),
		SessionID: sessionID,
		AMR:       amr,
		ExpiresAt: now.Add(s.RefreshTTL),
	}
	if err := tx.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		ExpiresIn:    s.AccessTTL,
	}, nil
}

func (s *TokenService) recordLoginSideEffects(
	ctx context.Context,
	tx store.Tx,
	userID string,
	activity domain.ActivityType,
	ip string,
) error {
	if err := tx.Users().UpdateLastLogin(ctx, userID); err != nil {
		return err
	}
	return tx.Activity().RecordActivity(ctx, domain.ActivityEntry{
		ID:        idx.New().String(),
		UserID:    userID,
		Type:      activity,
		IPAddress: ip,
	})
}

func (s *TokenService) signAccess(
	u domain.User,
	sessionID string,
	amr []string,
	now time.Time,
) (string, error) {
	claims := jwtx.NewAccessClaims(
		u.ID,        // subject
		sessionID,   // session ID
		u.Email,     // email
		u.FullName,  // full name
		u.Role,      // role
		amr,         // authentication methods
		s.AccessTTL, // token lifetime
		s.Issuer,    // issuer
		now,         // current time
	)
	return s.Signer.Sign(claims)
}

func (s *TokenService) challengeTTL() time.Duration {
	if s.ChallengeTTL > 0 {
		return s.ChallengeTTL
	}
	return DefaultChallengeTTL
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
