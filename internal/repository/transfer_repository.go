package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velvetapps/StarMarket/internal/models"
)

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

const transferColumns = `id, ref, nft_id, from_user_id, to_user_id, type, amount, created_at`

func scanTransfer(row interface{ Scan(...any) error }) (*models.TransferLog, error) {
	var t models.TransferLog
	if err := row.Scan(&t.ID, &t.Ref, &t.NFTID, &t.FromUserID, &t.ToUserID, &t.Type, &t.Amount, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByUser returns ownership changes the user participated in, newest first.
func (r *TransferRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.TransferLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + transferColumns + ` FROM transfer_logs WHERE from_user_id = ? OR to_user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transfers by user: %w", err)
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// ListRecent returns the global sales feed, newest first.
func (r *TransferRepository) ListRecent(ctx context.Context, limit int) ([]models.TransferLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + transferColumns + ` FROM transfer_logs ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent transfers: %w", err)
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func collectTransfers(rows *sql.Rows) ([]models.TransferLog, error) {
	var out []models.TransferLog
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
