package storage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

const (
	tempDirName    = "temp"
	storageDirName = "storage"
	thumbSuffix    = "_thumb.jpg"
)

// MIMEExtensions — фиксированный список допустимых типов контента и их
// расширений на диске. Используется и при выборе имени файла, и при
// построении публичного URL, и при валидации загрузки.
var MIMEExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AllowedMIMETypes возвращает отсортированный список типов для сообщений
// об ошибках.
func AllowedMIMETypes() []string {
	types := make([]string, 0, len(MIMEExtensions))
	for t := range MIMEExtensions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CAS — контентно-адресуемое хранилище: неизменяемые блобы лежат по пути,
// детерминированно вычисляемому из SHA-256 дайджеста. Два уровня шардинга
// по hex-символам ограничивают число записей в каталоге (256 на уровень).
type CAS struct {
	root string
}

func NewCAS(root string) (*CAS, error) {
	c := &CAS{root: root}
	for _, dir := range []string{c.TempDir(), c.StorageDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return c, nil
}

func (c *CAS) Root() string {
	return c.root
}

func (c *CAS) TempDir() string {
	return filepath.Join(c.root, tempDirName)
}

func (c *CAS) StorageDir() string {
	return filepath.Join(c.root, storageDirName)
}

func (c *CAS) shardDir(digest string) string {
	return filepath.Join(c.StorageDir(), digest[:2], digest[2:4])
}

// PathFor возвращает путь блоба для дайджеста и расширения, создавая
// шард-каталоги. Идемпотентно и безопасно при параллельных вызовах.
func (c *CAS) PathFor(digest, ext string) (string, error) {
	shard := c.shardDir(digest)
	if err := os.MkdirAll(shard, 0755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}
	return filepath.Join(shard, digest+ext), nil
}

// ThumbnailPathFor возвращает путь миниатюры. Миниатюры всегда JPEG
// независимо от исходного формата.
func (c *CAS) ThumbnailPathFor(digest string) (string, error) {
	shard := c.shardDir(digest)
	if err := os.MkdirAll(shard, 0755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}
	return filepath.Join(shard, digest+thumbSuffix), nil
}

// BlobURL возвращает публичный путь блоба относительно корня хранилища.
// В продакшене эти пути раздаёт reverse proxy напрямую из дерева шардов.
func (c *CAS) BlobURL(digest, ext string) string {
	return "/" + path.Join(storageDirName, digest[:2], digest[2:4], digest+ext)
}

func (c *CAS) ThumbnailURL(digest string) string {
	return "/" + path.Join(storageDirName, digest[:2], digest[2:4], digest+thumbSuffix)
}

// Commit атомарно переносит staging-файл на место в CAS. Если цель уже
// существует, это проигранная гонка за тот же дайджест: содержимое
// байт-в-байт идентично, перенос считается успешным.
func (c *CAS) Commit(stagingPath, digest, ext string) (string, error) {
	target, err := c.PathFor(digest, ext)
	if err != nil {
		return "", err
	}

	if err := os.Rename(stagingPath, target); err != nil {
		if _, statErr := os.Stat(target); statErr == nil {
			if removeErr := os.Remove(stagingPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return "", fmt.Errorf("failed to discard staging file after lost race: %w", removeErr)
			}
		} else {
			return "", fmt.Errorf("failed to move staging file into storage: %w", err)
		}
	}

	rel, err := filepath.Rel(c.root, target)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative storage path: %w", err)
	}
	return rel, nil
}

// ResolveOriginal находит блоб на диске. Сначала пробуем имя без
// расширения (legacy-раскладка), затем все расширения из списка.
func (c *CAS) ResolveOriginal(digest string) (string, error) {
	candidates := make([]string, 0, len(MIMEExtensions)+1)
	candidates = append(candidates, "")
	for _, ext := range MIMEExtensions {
		candidates = append(candidates, ext)
	}

	for _, ext := range candidates {
		p := filepath.Join(c.shardDir(digest), digest+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", os.ErrNotExist
}

func (c *CAS) ResolveThumbnail(digest string) (string, error) {
	p := filepath.Join(c.shardDir(digest), digest+thumbSuffix)
	if _, err := os.Stat(p); err != nil {
		return "", os.ErrNotExist
	}
	return p, nil
}

// RemoveOriginal удаляет все кандидаты блоба (с расширением и без).
// Возвращает true, если хоть один файл был найден и удалён.
func (c *CAS) RemoveOriginal(digest string) (bool, error) {
	found := false
	candidates := []string{""}
	for _, ext := range MIMEExtensions {
		candidates = append(candidates, ext)
	}

	for _, ext := range candidates {
		p := filepath.Join(c.shardDir(digest), digest+ext)
		if err := os.Remove(p); err == nil {
			found = true
		} else if !os.IsNotExist(err) {
			return found, err
		}
	}
	return found, nil
}

func (c *CAS) RemoveThumbnail(digest string) error {
	p := filepath.Join(c.shardDir(digest), digest+thumbSuffix)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
