package domain

import (
	"time"

	"github.com/google/uuid"
)

// File — запись в реестре уникального контента (CAS).
// Ключ — SHA-256 дайджест содержимого, ref_count равен числу живых
// записей Asset, ссылающихся на этот дайджест.
type File struct {
	Digest    string    `json:"digest" db:"digest"`
	SizeBytes int64     `json:"size_bytes" db:"size_bytes"`
	MIMEType  string    `json:"mime_type" db:"mime_type"`
	Path      string    `json:"-" db:"path"`
	RefCount  int       `json:"-" db:"ref_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Asset — пользовательская ссылка на File. Одна строка на каждое
// событие загрузки, даже если контент дублируется.
type Asset struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OwnerID     uuid.UUID `json:"owner_id" db:"owner_id"`
	Digest      string    `json:"-" db:"digest"`
	DisplayName string    `json:"filename" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	File        File      `json:"file" db:"file"`
}

// AssetResponse — ответ API с публичными URL, вычисленными из дайджеста
// и MIME-типа.
type AssetResponse struct {
	ID           uuid.UUID `json:"id"`
	Filename     string    `json:"filename"`
	CreatedAt    time.Time `json:"created_at"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	File         File      `json:"file"`
}
