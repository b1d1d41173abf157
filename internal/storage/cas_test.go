package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinlite/internal/domain"
)

func newTestCAS(t *testing.T) *CAS {
	t.Helper()
	cas, err := NewCAS(t.TempDir())
	require.NoError(t, err)
	return cas
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPathFor_Sharding(t *testing.T) {
	cas := newTestCAS(t)
	digest := strings.Repeat("ab", 32)

	p, err := cas.PathFor(digest, ".png")
	require.NoError(t, err)

	expected := filepath.Join(cas.StorageDir(), "ab", "ab", digest+".png")
	assert.Equal(t, expected, p)

	// Шард-каталоги создаются при вычислении пути
	info, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Путь детерминирован
	again, err := cas.PathFor(digest, ".png")
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestBlobURL(t *testing.T) {
	cas := newTestCAS(t)
	digest := "deadbeef" + strings.Repeat("0", 56)

	assert.Equal(t, "/storage/de/ad/"+digest+".jpg", cas.BlobURL(digest, ".jpg"))
	assert.Equal(t, "/storage/de/ad/"+digest+"_thumb.jpg", cas.ThumbnailURL(digest))
}

func TestCommit_LostRaceTolerated(t *testing.T) {
	cas := newTestCAS(t)
	digest := strings.Repeat("cd", 32)

	first := filepath.Join(cas.TempDir(), "upload_one.tmp")
	require.NoError(t, os.WriteFile(first, []byte("content"), 0644))

	rel, err := cas.Commit(first, digest, ".png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("storage", "cd", "cd", digest+".png"), rel)

	// Вторая загрузка того же контента: цель уже существует, staging
	// должен быть удалён, ошибки нет
	second := filepath.Join(cas.TempDir(), "upload_two.tmp")
	require.NoError(t, os.WriteFile(second, []byte("content"), 0644))

	rel2, err := cas.Commit(second, digest, ".png")
	require.NoError(t, err)
	assert.Equal(t, rel, rel2)
	assert.NoFileExists(t, second)
}

func TestIngestStream_DigestAndSize(t *testing.T) {
	cas := newTestCAS(t)
	data := pngBytes(t, 3, 3)

	res, err := cas.IngestStream(bytes.NewReader(data), 1<<20)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Digest)
	assert.Equal(t, int64(len(data)), res.SizeBytes)
	assert.Equal(t, "image/png", res.MIMEType)

	// Staging-файл существует и содержит ровно исходные байты
	written, err := os.ReadFile(res.StagingPath)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestIngestStream_TooLarge(t *testing.T) {
	cas := newTestCAS(t)
	data := pngBytes(t, 50, 50)

	_, err := cas.IngestStream(bytes.NewReader(data), 10)
	require.Error(t, err)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Detail, "File too large")

	// Никаких следов в temp
	entries, err := os.ReadDir(cas.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngestStream_MasqueradingContentRejected(t *testing.T) {
	cas := newTestCAS(t)

	// Текст, выдающий себя за изображение: решает содержимое, а не имя
	// или заголовки клиента
	_, err := cas.IngestStream(strings.NewReader("<html>not an image</html>"), 1<<20)
	require.Error(t, err)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Detail, "Invalid file type")

	entries, err := os.ReadDir(cas.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolveOriginal_LegacyExtensionless(t *testing.T) {
	cas := newTestCAS(t)
	digest := strings.Repeat("ef", 32)

	// Блоб, записанный до введения расширений
	legacy := filepath.Join(cas.shardDir(digest), digest)
	require.NoError(t, os.MkdirAll(filepath.Dir(legacy), 0755))
	require.NoError(t, os.WriteFile(legacy, []byte("old"), 0644))

	p, err := cas.ResolveOriginal(digest)
	require.NoError(t, err)
	assert.Equal(t, legacy, p)
}

func TestResolveOriginal_NotFound(t *testing.T) {
	cas := newTestCAS(t)

	_, err := cas.ResolveOriginal(strings.Repeat("00", 32))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoveOriginal(t *testing.T) {
	cas := newTestCAS(t)
	digest := strings.Repeat("12", 32)

	p, err := cas.PathFor(digest, ".gif")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	found, err := cas.RemoveOriginal(digest)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoFileExists(t, p)

	// Повторное удаление сообщает, что файла уже не было
	found, err = cas.RemoveOriginal(digest)
	require.NoError(t, err)
	assert.False(t, found)
}
