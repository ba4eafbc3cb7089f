package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velvetapps/StarMarket/internal/models"
)

type NFTRepository struct {
	db *sql.DB
}

func NewNFTRepository(db *sql.DB) *NFTRepository {
	return &NFTRepository{db: db}
}

const nftColumns = `id, collection_id, owner_id, number, model_id, background_id, pattern_id, upgraded, pinned, created_at`

func scanNFT(row interface{ Scan(...any) error }) (*models.NFT, error) {
	var n models.NFT
	var model, background, pattern sql.NullInt64
	var upgraded, pinned int
	if err := row.Scan(&n.ID, &n.CollectionID, &n.OwnerID, &n.Number, &model, &background, &pattern, &upgraded, &pinned, &n.CreatedAt); err != nil {
		return nil, err
	}
	if model.Valid {
		n.ModelID = &model.Int64
	}
	if background.Valid {
		n.BackgroundID = &background.Int64
	}
	if pattern.Valid {
		n.PatternID = &pattern.Int64
	}
	n.Upgraded = upgraded != 0
	n.Pinned = pinned != 0
	return &n, nil
}

func (r *NFTRepository) GetByID(ctx context.Context, id int64) (*models.NFT, error) {
	query := `SELECT ` + nftColumns + ` FROM nfts WHERE id = ?`
	n, err := scanNFT(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan nft: %w", err)
	}
	return n, nil
}

// ListByOwner returns the user's items, pinned ones first, newest after.
func (r *NFTRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.NFT, error) {
	query := `SELECT ` + nftColumns + ` FROM nfts WHERE owner_id = ? ORDER BY pinned DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list nfts by owner: %w", err)
	}
	defer rows.Close()

	var out []models.NFT
	for rows.Next() {
		n, err := scanNFT(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nft: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *NFTRepository) SetPinned(ctx context.Context, nftID, ownerID int64, pinned bool) (bool, error) {
	value := 0
	if pinned {
		value = 1
	}
	const query = `UPDATE nfts SET pinned = ? WHERE id = ? AND owner_id = ?`
	res, err := r.db.ExecContext(ctx, query, value, nftID, ownerID)
	if err != nil {
		return false, fmt.Errorf("set pinned: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pinned rows affected: %w", err)
	}
	return affected > 0, nil
}
