package postgres

import (
	"context"
	"errors"
	"fmt"

	"competition-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// UserDirectory reads participant profiles from the users table.
type UserDirectory struct {
	pool *pgxpool.Pool
}

func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

func (d *UserDirectory) ActiveUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, email, first_name, last_name FROM users WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *UserDirectory) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := d.pool.QueryRow(ctx, `SELECT id, email, first_name, last_name FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// RewardLedger records subscription credits; the primary key on
// (competition_id, user_id) makes a repeated grant a no-op.
type RewardLedger struct {
	pool *pgxpool.Pool
}

func NewRewardLedger(pool *pgxpool.Pool) *RewardLedger {
	return &RewardLedger{pool: pool}
}

func (l *RewardLedger) ApplyReward(ctx context.Context, competitionID, userID string, tier domain.RewardTier) error {
	_, err := l.pool.Exec(ctx, `INSERT INTO reward_grants (competition_id, user_id, tier, granted_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (competition_id, user_id) DO NOTHING`, competitionID, userID, string(tier))
	if err != nil {
		return fmt.Errorf("apply reward: %w", err)
	}
	return nil
}
