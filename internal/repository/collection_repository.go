package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velvetapps/StarMarket/internal/models"
)

type CollectionRepository struct {
	db *sql.DB
}

func NewCollectionRepository(db *sql.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

const collectionColumns = `id, name, COALESCE(description, ''), COALESCE(image_key, ''), price, total_supply, sold_count, updateble, created_at`

func scanCollection(row interface{ Scan(...any) error }) (*models.Collection, error) {
	var c models.Collection
	var updateble int
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.ImageKey, &c.Price, &c.TotalSupply, &c.SoldCount, &updateble, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Updateble = updateble != 0
	return &c, nil
}

func (r *CollectionRepository) GetByID(ctx context.Context, id int64) (*models.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE id = ?`
	c, err := scanCollection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan collection: %w", err)
	}
	return c, nil
}

func (r *CollectionRepository) List(ctx context.Context) ([]models.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []models.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CollectionRepository) Create(ctx context.Context, c *models.Collection) error {
	const query = `
INSERT INTO collections (name, description, image_key, price, total_supply, updateble)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`
	updateble := 0
	if c.Updateble {
		updateble = 1
	}
	res, err := r.db.ExecContext(ctx, query, c.Name, c.Description, c.ImageKey, c.Price, c.TotalSupply, updateble)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func (r *CollectionRepository) Update(ctx context.Context, c *models.Collection) error {
	const query = `
UPDATE collections SET name = ?, description = NULLIF(?, ''), image_key = NULLIF(?, ''), price = ?, total_supply = ?, updateble = ?
WHERE id = ?`
	updateble := 0
	if c.Updateble {
		updateble = 1
	}
	if _, err := r.db.ExecContext(ctx, query, c.Name, c.Description, c.ImageKey, c.Price, c.TotalSupply, updateble, c.ID); err != nil {
		return fmt.Errorf("update collection: %w", err)
	}
	return nil
}
