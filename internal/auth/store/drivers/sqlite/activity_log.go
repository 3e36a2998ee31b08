package sqlite

import (
	"context"
	"fmt"

	"github.com/calderhealth/medrec/internal/auth/domain"
)

type activityRepo struct {
	db dbtx
}

func (r *activityRepo) RecordActivity(ctx context.Context, e domain.ActivityEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, user_id, type, description, ip_address)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Type, e.Description, e.IPAddress)
	return err
}

func (r *activityRepo) ListUserActivity(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, description, ip_address, created_at
		 FROM activity_log WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Description, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *activityRepo) DeleteActivityOlderThan(ctx context.Context, days int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM activity_log WHERE created_at < DATETIME('now', ?)`,
		fmt.Sprintf("-%d days", days))
	return err
}
