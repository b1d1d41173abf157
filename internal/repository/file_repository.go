package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"pinlite/internal/domain"
)

// FileRepository — реестр уникального контента. Все мутации выполняются
// в транзакции, которую открывает сервис и передаёт сюда.
type FileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

// GetByDigest возвращает nil, nil если дайджест ещё не зарегистрирован.
func (r *FileRepository) GetByDigest(ctx context.Context, digest string) (*domain.File, error) {
	var file domain.File
	query := `SELECT digest, size_bytes, mime_type, path, ref_count, created_at FROM files WHERE digest = $1`

	err := r.db.GetContext(ctx, &file, query, digest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file by digest: %w", err)
	}

	return &file, nil
}

// Create регистрирует новый физический файл. Начальный ref_count равен
// нулю: его поднимет вставка Asset в этой же транзакции.
func (r *FileRepository) Create(ctx context.Context, tx *sqlx.Tx, file *domain.File) error {
	query := `
        INSERT INTO files (digest, size_bytes, mime_type, path, ref_count, created_at)
        VALUES ($1, $2, $3, $4, 0, $5)`

	_, err := tx.ExecContext(
		ctx,
		query,
		file.Digest,
		file.SizeBytes,
		file.MIMEType,
		file.Path,
		file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}

	return nil
}

// Delete удаляет запись реестра. Вызывается только когда ref_count
// дошёл до нуля в той же транзакции.
func (r *FileRepository) Delete(ctx context.Context, tx *sqlx.Tx, digest string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM files WHERE digest = $1`, digest)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

// GetUsageCount читает текущий ref_count внутри транзакции.
func (r *FileRepository) GetUsageCount(ctx context.Context, tx *sqlx.Tx, digest string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `SELECT ref_count FROM files WHERE digest = $1`, digest).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage count: %w", err)
	}
	return count, nil
}
