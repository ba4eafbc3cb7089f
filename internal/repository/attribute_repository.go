package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velvetapps/StarMarket/internal/models"
)

// AttributeKind selects one of the three cosmetic trait tables.
type AttributeKind string

const (
	AttributeModel      AttributeKind = "model"
	AttributeBackground AttributeKind = "background"
	AttributePattern    AttributeKind = "pattern"
)

func (k AttributeKind) table() string {
	switch k {
	case AttributeModel:
		return "nft_models"
	case AttributeBackground:
		return "nft_backgrounds"
	case AttributePattern:
		return "nft_patterns"
	}
	return ""
}

type AttributeRepository struct {
	db *sql.DB
}

func NewAttributeRepository(db *sql.DB) *AttributeRepository {
	return &AttributeRepository{db: db}
}

func (r *AttributeRepository) ListByCollection(ctx context.Context, kind AttributeKind, collectionID int64) ([]models.Attribute, error) {
	table := kind.table()
	if table == "" {
		return nil, fmt.Errorf("unknown attribute kind: %s", kind)
	}
	query := `SELECT id, collection_id, name, rarity, COALESCE(image_key, '') FROM ` + table + ` WHERE collection_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list %s attributes: %w", kind, err)
	}
	defer rows.Close()

	var out []models.Attribute
	for rows.Next() {
		var a models.Attribute
		if err := rows.Scan(&a.ID, &a.CollectionID, &a.Name, &a.Rarity, &a.ImageKey); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AttributeRepository) Insert(ctx context.Context, kind AttributeKind, a *models.Attribute) error {
	table := kind.table()
	if table == "" {
		return fmt.Errorf("unknown attribute kind: %s", kind)
	}
	if a.Rarity < 1 {
		return fmt.Errorf("rarity must be positive, got %d", a.Rarity)
	}
	query := `INSERT INTO ` + table + ` (collection_id, name, rarity, image_key) VALUES (?, ?, ?, NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query, a.CollectionID, a.Name, a.Rarity, a.ImageKey)
	if err != nil {
		return fmt.Errorf("insert %s attribute: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	return nil
}
