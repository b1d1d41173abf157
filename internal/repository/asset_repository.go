package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pinlite/internal/domain"
)

// Колонки для жадной загрузки File вместе с Asset одним запросом
const assetWithFileColumns = `
        a.id, a.owner_id, a.digest, a.display_name, a.created_at,
        f.digest AS "file.digest",
        f.size_bytes AS "file.size_bytes",
        f.mime_type AS "file.mime_type",
        f.path AS "file.path",
        f.ref_count AS "file.ref_count",
        f.created_at AS "file.created_at"`

type AssetRepository struct {
	db *sqlx.DB
}

func NewAssetRepository(db *sqlx.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Create вставляет Asset и в том же наборе стейтментов поднимает ref_count
// файла относительным апдейтом: конкурентные загрузки одного дайджеста
// сериализуются блокировкой строки, без read-modify-write в приложении.
func (r *AssetRepository) Create(ctx context.Context, tx *sqlx.Tx, asset *domain.Asset) error {
	insertQuery := `
        INSERT INTO assets (id, owner_id, digest, display_name, created_at)
        VALUES ($1, $2, $3, $4, $5)`

	_, err := tx.ExecContext(
		ctx,
		insertQuery,
		asset.ID,
		asset.OwnerID,
		asset.Digest,
		asset.DisplayName,
		asset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE files SET ref_count = ref_count + 1 WHERE digest = $1`, asset.Digest)
	if err != nil {
		return fmt.Errorf("failed to increment ref_count: %w", err)
	}

	return nil
}

// GetByID возвращает nil, nil если запись отсутствует. File загружается
// жадно, чтобы не ходить в базу вторым запросом.
func (r *AssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	var asset domain.Asset
	query := `
        SELECT` + assetWithFileColumns + `
        FROM assets a
        JOIN files f ON f.digest = a.digest
        WHERE a.id = $1`

	err := r.db.GetContext(ctx, &asset, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset by id: %w", err)
	}

	return &asset, nil
}

// GetPublic — публичная лента: свежие сверху, стабильный порядок при
// совпадении created_at.
func (r *AssetRepository) GetPublic(ctx context.Context, limit, offset int) ([]domain.Asset, error) {
	var assets []domain.Asset
	query := `
        SELECT` + assetWithFileColumns + `
        FROM assets a
        JOIN files f ON f.digest = a.digest
        ORDER BY a.created_at DESC, a.id DESC
        LIMIT $1 OFFSET $2`

	err := r.db.SelectContext(ctx, &assets, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get public assets: %w", err)
	}

	return assets, nil
}

func (r *AssetRepository) GetByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Asset, error) {
	var assets []domain.Asset
	query := `
        SELECT` + assetWithFileColumns + `
        FROM assets a
        JOIN files f ON f.digest = a.digest
        WHERE a.owner_id = $1
        ORDER BY a.created_at DESC, a.id DESC
        LIMIT $2 OFFSET $3`

	err := r.db.SelectContext(ctx, &assets, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get assets by owner: %w", err)
	}

	return assets, nil
}

// Delete удаляет Asset и тем же относительным апдейтом опускает ref_count
// файла, на который он ссылался.
func (r *AssetRepository) Delete(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	var digest string
	err := tx.QueryRowContext(ctx, `SELECT digest FROM assets WHERE id = $1`, id).Scan(&digest)
	if err == sql.ErrNoRows {
		return fmt.Errorf("asset %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load asset digest: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE files SET ref_count = ref_count - 1 WHERE digest = $1`, digest)
	if err != nil {
		return fmt.Errorf("failed to decrement ref_count: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}

	return nil
}
