package sqlite

import (
	"context"

	"github.com/calderhealth/medrec/internal/auth/domain"
)

const loginChallengeColumns = `id, user_id, session_id, attempts, created_at, expires_at`

type loginChallengesRepo struct {
	db dbtx
}

func (r *loginChallengesRepo) CreateLoginChallenge(ctx context.Context, c domain.LoginChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_challenges (id, user_id, session_id, expires_at)
		 VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, c.SessionID, c.ExpiresAt)
	return err
}

func (r *loginChallengesRepo) GetLoginChallenge(ctx context.Context, id string) (domain.LoginChallenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+loginChallengeColumns+` FROM login_challenges WHERE id = ?`, id)
	c, err := scanLoginChallenge(row)
	if err != nil {
		return domain.LoginChallenge{}, mapNotFound(err)
	}
	return c, nil
}

func (r *loginChallengesRepo) IncrementLoginChallengeAttempts(ctx context.Context, id string) (domain.LoginChallenge, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE login_challenges SET attempts = attempts + 1
		 WHERE id = ?
		 RETURNING `+loginChallengeColumns, id)
	c, err := scanLoginChallenge(row)
	if err != nil {
		return domain.LoginChallenge{}, mapNotFound(err)
	}
	return c, nil
}

func (r *loginChallengesRepo) DeleteLoginChallenge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_challenges WHERE id = ?`, id)
	return err
}

func (r *loginChallengesRepo) DeleteExpiredLoginChallenges(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_challenges WHERE expires_at < CURRENT_TIMESTAMP`)
	return err
}
