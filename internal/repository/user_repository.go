package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velvetapps/StarMarket/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `
SELECT id, COALESCE(username, ''), COALESCE(first_name, ''), stars_balance, spent, referrer_id, referrals_count, created_at, updated_at
FROM users WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var u models.User
	var referrer sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.StarsBalance, &u.Spent, &referrer, &u.ReferralsCount, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if referrer.Valid {
		u.ReferrerID = &referrer.Int64
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `
INSERT INTO users (id, username, first_name, stars_balance, spent, referrer_id, referrals_count)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)`
	var referrer sql.NullInt64
	if user.ReferrerID != nil {
		referrer = sql.NullInt64{Int64: *user.ReferrerID, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.FirstName, user.StarsBalance, user.Spent, referrer, user.ReferralsCount); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, username, firstName string) error {
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, userID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// AddBalance credits (or debits, with a negative delta) a user's star balance.
// The balance is clamped at zero; settlement flows pre-check inside their own
// transaction and never rely on the clamp.
func (r *UserRepository) AddBalance(ctx context.Context, userID int64, delta int) error {
	const query = `UPDATE users SET stars_balance = GREATEST(stars_balance + ?, 0), updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, userID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (r *UserRepository) IncrementReferrals(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET referrals_count = referrals_count + 1, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("increment referrals: %w", err)
	}
	return nil
}

func (r *UserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
