package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"pinlite/internal/domain"
	"pinlite/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// Блобы без записи в реестре моложе этого возраста не трогаем:
	// это может быть незакоммиченная загрузка
	orphanMinAge = time.Hour
	// Staging-файлы старше суток считаются брошенными
	staleStagingAge = 24 * time.Hour
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// MediaService — оркестратор медиахранилища: приём загрузок с
// дедупликацией по контенту, лента, удаление со сборкой мусора по
// счётчику ссылок.
type MediaService struct {
	fileRepo  FileRepository
	assetRepo AssetRepository
	cas       *storage.CAS
	thumb     Thumbnailer

	maxUploadSize int64
}

func NewMediaService(
	fileRepo FileRepository,
	assetRepo AssetRepository,
	cas *storage.CAS,
	thumb Thumbnailer,
	maxUploadSize int64,
) *MediaService {
	return &MediaService{
		fileRepo:      fileRepo,
		assetRepo:     assetRepo,
		cas:           cas,
		thumb:         thumb,
		maxUploadSize: maxUploadSize,
	}
}

// UploadAsset принимает поток загрузки: стримит его в staging с
// одновременным хешированием, валидирует тип по содержимому и связывает
// пользователя с контентом. Идентичные байты от любых пользователей дают
// ровно одну запись File и один физический блоб.
func (s *MediaService) UploadAsset(ctx context.Context, ownerID uuid.UUID, stream io.Reader, filename string) (*domain.AssetResponse, error) {
	log.Printf("MediaService | action=upload_start owner_id=%s filename=%q", ownerID, filename)

	if filename == "" {
		filename = "unknown"
	}

	// Staging + хеш. При ошибке ingest сам удаляет staging-файл,
	// записей в базе ещё нет.
	res, err := s.cas.IngestStream(stream, s.maxUploadSize)
	if err != nil {
		log.Printf("MediaService | action=upload_rejected error=%v", err)
		return nil, err
	}
	log.Printf("MediaService | action=file_processed digest=%s size=%d mime=%s", res.Digest, res.SizeBytes, res.MIMEType)

	// С этого места staging-файл принадлежит нам: любой выход с ошибкой
	// обязан попытаться его удалить.
	existing, err := s.fileRepo.GetByDigest(ctx, res.Digest)
	if err != nil {
		s.discardStaging(res.StagingPath)
		return nil, err
	}

	asset := &domain.Asset{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Digest:      res.Digest,
		DisplayName: filename,
		CreatedAt:   time.Now().UTC(),
	}

	tx, err := s.fileRepo.BeginTx(ctx)
	if err != nil {
		s.discardStaging(res.StagingPath)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if existing != nil {
		// Дедупликация: контент уже в CAS, staging не нужен
		log.Printf("MediaService | action=deduplication_hit digest=%s", res.Digest)
		s.discardStaging(res.StagingPath)

		if err := s.assetRepo.Create(ctx, tx, asset); err != nil {
			return nil, err
		}
		asset.File = *existing
		asset.File.RefCount++
	} else {
		log.Printf("MediaService | action=deduplication_miss digest=%s", res.Digest)

		ext := storage.MIMEExtensions[res.MIMEType]
		relPath, err := s.cas.Commit(res.StagingPath, res.Digest, ext)
		if err != nil {
			s.discardStaging(res.StagingPath)
			return nil, err
		}

		// Сбой миниатюры не откатывает загрузку: ассет пригоден и без неё
		if err := s.deriveThumbnail(res.Digest, ext); err != nil {
			log.Printf("MediaService | action=thumbnail_failed digest=%s error=%v", res.Digest, err)
		}

		file := &domain.File{
			Digest:    res.Digest,
			SizeBytes: res.SizeBytes,
			MIMEType:  res.MIMEType,
			Path:      relPath,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.fileRepo.Create(ctx, tx, file); err != nil {
			return nil, err
		}
		if err := s.assetRepo.Create(ctx, tx, asset); err != nil {
			return nil, err
		}
		file.RefCount = 1
		asset.File = *file
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("MediaService | action=upload_success asset_id=%s digest=%s", asset.ID, res.Digest)
	return s.toResponse(asset), nil
}

// DeleteAsset удаляет пользовательскую ссылку и, если она была последней,
// запускает GC: запись File и оба физических файла уходят вместе с ней.
func (s *MediaService) DeleteAsset(ctx context.Context, ownerID, assetID uuid.UUID) error {
	asset, err := s.assetRepo.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		log.Printf("MediaService | action=delete_failed reason=not_found asset_id=%s", assetID)
		return fmt.Errorf("asset %s: %w", assetID, domain.ErrNotFound)
	}

	// Проверка владения строго после проверки существования: различие
	// 404/403 в API намеренное
	if asset.OwnerID != ownerID {
		log.Printf("MediaService | action=delete_failed reason=permission_denied owner_id=%s actor_id=%s", asset.OwnerID, ownerID)
		return fmt.Errorf("asset %s: %w", assetID, domain.ErrPermissionDenied)
	}

	tx, err := s.fileRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.assetRepo.Delete(ctx, tx, assetID); err != nil {
		return err
	}

	usageCount, err := s.fileRepo.GetUsageCount(ctx, tx, asset.Digest)
	if err != nil {
		return err
	}

	if usageCount == 0 {
		log.Printf("MediaService | action=gc_start digest=%s", asset.Digest)

		if err := s.fileRepo.Delete(ctx, tx, asset.Digest); err != nil {
			return err
		}

		// Физическое удаление best-effort: реестр — источник истины,
		// осиротевший блоб подметёт фоновая сверка
		found, err := s.cas.RemoveOriginal(asset.Digest)
		if err != nil {
			log.Printf("MediaService | action=gc_warn reason=remove_failed digest=%s error=%v", asset.Digest, err)
		} else if !found {
			log.Printf("MediaService | action=gc_warn reason=file_not_found_on_disk digest=%s", asset.Digest)
		}
		if err := s.cas.RemoveThumbnail(asset.Digest); err != nil {
			log.Printf("MediaService | action=gc_warn reason=thumbnail_remove_failed digest=%s error=%v", asset.Digest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("MediaService | action=delete_success asset_id=%s owner_id=%s", assetID, ownerID)
	return nil
}

// GetFeed возвращает публичную ленту: свежие загрузки первыми,
// независимо от владельца.
func (s *MediaService) GetFeed(ctx context.Context, limit, offset int) ([]domain.AssetResponse, error) {
	limit, offset = clampPage(limit, offset)

	assets, err := s.assetRepo.GetPublic(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.toResponses(assets), nil
}

// GetUserGallery — лента одного владельца с тем же порядком.
func (s *MediaService) GetUserGallery(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.AssetResponse, error) {
	limit, offset = clampPage(limit, offset)

	assets, err := s.assetRepo.GetByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.toResponses(assets), nil
}

// ResolveOriginal отдаёт путь оригинала для запасной раздачи через
// приложение. Основной трафик ожидается через reverse proxy.
func (s *MediaService) ResolveOriginal(digest string) (string, error) {
	if !digestPattern.MatchString(digest) {
		return "", fmt.Errorf("invalid digest: %w", domain.ErrNotFound)
	}
	p, err := s.cas.ResolveOriginal(digest)
	if err != nil {
		log.Printf("MediaService | action=get_file_failed reason=not_found digest=%s", digest)
		return "", fmt.Errorf("file %s: %w", digest, domain.ErrNotFound)
	}
	return p, nil
}

func (s *MediaService) ResolveThumbnail(digest string) (string, error) {
	if !digestPattern.MatchString(digest) {
		return "", fmt.Errorf("invalid digest: %w", domain.ErrNotFound)
	}
	p, err := s.cas.ResolveThumbnail(digest)
	if err != nil {
		log.Printf("MediaService | action=get_thumb_failed reason=not_found digest=%s", digest)
		return "", fmt.Errorf("thumbnail %s: %w", digest, domain.ErrNotFound)
	}
	return p, nil
}

// SweepOrphans — внеполосная сверка диска с реестром: блобы без записи в
// files старше orphanMinAge удаляются, как и брошенные staging-файлы.
func (s *MediaService) SweepOrphans(ctx context.Context) error {
	log.Printf("MediaService | action=sweep_start")

	removed := 0
	now := time.Now()

	err := filepath.Walk(s.cas.StorageDir(), func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if now.Sub(info.ModTime()) < orphanMinAge {
			return nil
		}

		name := info.Name()
		digest := strings.TrimSuffix(name, "_thumb.jpg")
		if digest == name {
			digest = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if !digestPattern.MatchString(digest) {
			return nil
		}

		file, dbErr := s.fileRepo.GetByDigest(ctx, digest)
		if dbErr != nil {
			return dbErr
		}
		if file != nil {
			return nil
		}

		if removeErr := os.Remove(p); removeErr != nil && !os.IsNotExist(removeErr) {
			log.Printf("MediaService | action=sweep_warn path=%s error=%v", p, removeErr)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("orphan sweep failed: %w", err)
	}

	stale := s.cleanStaleStaging(now)

	log.Printf("MediaService | action=sweep_done orphans_removed=%d stale_staging_removed=%d", removed, stale)
	return nil
}

func (s *MediaService) cleanStaleStaging(now time.Time) int {
	removed := 0
	entries, err := os.ReadDir(s.cas.TempDir())
	if err != nil {
		log.Printf("MediaService | action=sweep_warn reason=temp_read_failed error=%v", err)
		return 0
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < staleStagingAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.cas.TempDir(), entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}

func (s *MediaService) discardStaging(stagingPath string) {
	if err := os.Remove(stagingPath); err != nil && !os.IsNotExist(err) {
		log.Printf("MediaService | action=staging_cleanup_failed path=%s error=%v", stagingPath, err)
	}
}

func (s *MediaService) deriveThumbnail(digest, ext string) error {
	originalPath, err := s.cas.PathFor(digest, ext)
	if err != nil {
		return err
	}
	thumbPath, err := s.cas.ThumbnailPathFor(digest)
	if err != nil {
		return err
	}
	if err := s.thumb.Derive(originalPath, thumbPath); err != nil {
		return err
	}
	log.Printf("MediaService | action=thumbnail_generated digest=%s", digest)
	return nil
}

func (s *MediaService) toResponse(asset *domain.Asset) *domain.AssetResponse {
	ext := storage.MIMEExtensions[asset.File.MIMEType]
	return &domain.AssetResponse{
		ID:           asset.ID,
		Filename:     asset.DisplayName,
		CreatedAt:    asset.CreatedAt,
		URL:          s.cas.BlobURL(asset.File.Digest, ext),
		ThumbnailURL: s.cas.ThumbnailURL(asset.File.Digest),
		File:         asset.File,
	}
}

func (s *MediaService) toResponses(assets []domain.Asset) []domain.AssetResponse {
	responses := make([]domain.AssetResponse, 0, len(assets))
	for i := range assets {
		responses = append(responses, *s.toResponse(&assets[i]))
	}
	return responses
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
