package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velvetapps/StarMarket/internal/models"
)

type ListingRepository struct {
	db *sql.DB
}

func NewListingRepository(db *sql.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) GetByNFT(ctx context.Context, nftID int64) (*models.SaleListing, error) {
	const query = `SELECT nft_id, seller_id, price, created_at FROM sale_listings WHERE nft_id = ?`
	row := r.db.QueryRowContext(ctx, query, nftID)
	var l models.SaleListing
	if err := row.Scan(&l.NFTID, &l.SellerID, &l.Price, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return &l, nil
}

// Upsert creates a listing, or re-prices the seller's existing listing for the
// same item.
func (r *ListingRepository) Upsert(ctx context.Context, l *models.SaleListing) error {
	const query = `
INSERT INTO sale_listings (nft_id, seller_id, price) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE price = VALUES(price)`
	if _, err := r.db.ExecContext(ctx, query, l.NFTID, l.SellerID, l.Price); err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// Delete removes the listing if it belongs to the given seller.
func (r *ListingRepository) Delete(ctx context.Context, nftID, sellerID int64) (bool, error) {
	const query = `DELETE FROM sale_listings WHERE nft_id = ? AND seller_id = ?`
	res, err := r.db.ExecContext(ctx, query, nftID, sellerID)
	if err != nil {
		return false, fmt.Errorf("delete listing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("listing rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarketFilter narrows the for-sale query.
type MarketFilter struct {
	CollectionID int64
	MinPrice     int
	MaxPrice     int
	Limit        int
	Offset       int
}

// ListForSale returns listings joined with their items, cheapest first.
func (r *ListingRepository) ListForSale(ctx context.Context, filter MarketFilter) ([]models.MarketItem, error) {
	query := `
SELECT n.id, n.collection_id, n.owner_id, n.number, n.model_id, n.background_id, n.pattern_id, n.upgraded, n.pinned, n.created_at,
       l.seller_id, l.price, l.created_at
FROM sale_listings l
JOIN nfts n ON n.id = l.nft_id
WHERE 1=1`
	args := []any{}
	if filter.CollectionID > 0 {
		query += ` AND n.collection_id = ?`
		args = append(args, filter.CollectionID)
	}
	if filter.MinPrice > 0 {
		query += ` AND l.price >= ?`
		args = append(args, filter.MinPrice)
	}
	if filter.MaxPrice > 0 {
		query += ` AND l.price <= ?`
		args = append(args, filter.MaxPrice)
	}
	query += ` ORDER BY l.price ASC, l.created_at ASC`
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list for sale: %w", err)
	}
	defer rows.Close()

	var out []models.MarketItem
	for rows.Next() {
		var item models.MarketItem
		var model, background, pattern sql.NullInt64
		var upgraded, pinned int
		if err := rows.Scan(
			&item.NFT.ID, &item.NFT.CollectionID, &item.NFT.OwnerID, &item.NFT.Number,
			&model, &background, &pattern, &upgraded, &pinned, &item.NFT.CreatedAt,
			&item.Seller, &item.Price, &item.Listed,
		); err != nil {
			return nil, fmt.Errorf("scan market item: %w", err)
		}
		if model.Valid {
			item.NFT.ModelID = &model.Int64
		}
		if background.Valid {
			item.NFT.BackgroundID = &background.Int64
		}
		if pattern.Valid {
			item.NFT.PatternID = &pattern.Int64
		}
		item.NFT.Upgraded = upgraded != 0
		item.NFT.Pinned = pinned != 0
		out = append(out, item)
	}
	return out, rows.Err()
}
