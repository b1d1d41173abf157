package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pinlite/internal/domain"
)

// Контракты репозиториев, потребляемые сервисами. Конкретные реализации
// живут в internal/repository; тестовые работают поверх sqlite в памяти.

type FileRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	GetByDigest(ctx context.Context, digest string) (*domain.File, error)
	Create(ctx context.Context, tx *sqlx.Tx, file *domain.File) error
	Delete(ctx context.Context, tx *sqlx.Tx, digest string) error
	GetUsageCount(ctx context.Context, tx *sqlx.Tx, digest string) (int, error)
}

type AssetRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, asset *domain.Asset) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error)
	GetPublic(ctx context.Context, limit, offset int) ([]domain.Asset, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Asset, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type TokenRepository interface {
	Create(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	GetByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// Thumbnailer — генератор миниатюр; его сбой не фатален для загрузки.
type Thumbnailer interface {
	Derive(originalPath, thumbPath string) error
}
