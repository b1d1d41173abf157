package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"pinlite/internal/domain"
	"pinlite/internal/repository"
	"pinlite/internal/storage"
)

const mediaTestSchema = `
CREATE TABLE files (
    digest TEXT PRIMARY KEY,
    size_bytes INTEGER NOT NULL,
    mime_type TEXT NOT NULL,
    path TEXT NOT NULL,
    ref_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE assets (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    digest TEXT NOT NULL,
    display_name TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// fakeThumbnailer пишет заглушку вместо настоящей миниатюры, чтобы тесты
// сервиса не зависели от графической библиотеки.
type fakeThumbnailer struct {
	fail  bool
	calls int
}

func (f *fakeThumbnailer) Derive(originalPath, thumbPath string) error {
	f.calls++
	if f.fail {
		return errors.New("thumbnailer is broken")
	}
	return os.WriteFile(thumbPath, []byte("thumb"), 0644)
}

type mediaTestEnv struct {
	db      *sqlx.DB
	cas     *storage.CAS
	thumb   *fakeThumbnailer
	service *MediaService
}

func newMediaTestEnv(t *testing.T) *mediaTestEnv {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(mediaTestSchema)
	require.NoError(t, err)

	cas, err := storage.NewCAS(t.TempDir())
	require.NoError(t, err)

	thumb := &fakeThumbnailer{}
	svc := NewMediaService(
		repository.NewFileRepository(db),
		repository.NewAssetRepository(db),
		cas,
		thumb,
		5*1024*1024,
	)

	return &mediaTestEnv{db: db, cas: cas, thumb: thumb, service: svc}
}

func testImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (e *mediaTestEnv) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func (e *mediaTestEnv) refCount(t *testing.T, digest string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.Get(&n, "SELECT ref_count FROM files WHERE digest = $1", digest))
	return n
}

func TestUploadAsset_NewContent(t *testing.T) {
	env := newMediaTestEnv(t)
	data := testImage(t, 4, 4)

	resp, err := env.service.UploadAsset(context.Background(), uuid.New(), bytes.NewReader(data), "cat.png")
	require.NoError(t, err)

	assert.Equal(t, "cat.png", resp.Filename)
	assert.Equal(t, "image/png", resp.File.MIMEType)
	assert.Equal(t, int64(len(data)), resp.File.SizeBytes)
	assert.Contains(t, resp.URL, "/storage/")
	assert.Contains(t, resp.ThumbnailURL, "_thumb.jpg")

	// Блоб лежит на диске, staging пуст
	original, err := env.cas.ResolveOriginal(resp.File.Digest)
	require.NoError(t, err)
	written, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, data, written)

	entries, err := os.ReadDir(env.cas.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Миниатюра сгенерирована
	_, err = env.cas.ResolveThumbnail(resp.File.Digest)
	require.NoError(t, err)
	assert.Equal(t, 1, env.thumb.calls)
}

func TestUploadAsset_Deduplicates(t *testing.T) {
	env := newMediaTestEnv(t)
	data := testImage(t, 4, 4)
	ctx := context.Background()

	first, err := env.service.UploadAsset(ctx, uuid.New(), bytes.NewReader(data), "one.png")
	require.NoError(t, err)

	second, err := env.service.UploadAsset(ctx, uuid.New(), bytes.NewReader(data), "two.png")
	require.NoError(t, err)

	// Один и тот же контент: разные ассеты, один файл
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.File.Digest, second.File.Digest)
	assert.Equal(t, 1, env.countRows(t, "files"))
	assert.Equal(t, 2, env.countRows(t, "assets"))
	assert.Equal(t, 2, env.refCount(t, first.File.Digest))

	// Миниатюра генерировалась только при первой загрузке
	assert.Equal(t, 1, env.thumb.calls)
}

func TestUploadAsset_EmptyFilename(t *testing.T) {
	env := newMediaTestEnv(t)

	resp, err := env.service.UploadAsset(context.Background(), uuid.New(), bytes.NewReader(testImage(t, 2, 2)), "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", resp.Filename)
}

func TestUploadAsset_OversizeLeavesNoTrace(t *testing.T) {
	env := newMediaTestEnv(t)
	svc := NewMediaService(
		repository.NewFileRepository(env.db),
		repository.NewAssetRepository(env.db),
		env.cas,
		env.thumb,
		10,
	)

	_, err := svc.UploadAsset(context.Background(), uuid.New(), bytes.NewReader(testImage(t, 50, 50)), "big.png")
	require.Error(t, err)

	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	assert.Equal(t, 0, env.countRows(t, "files"))
	assert.Equal(t, 0, env.countRows(t, "assets"))

	entries, err := os.ReadDir(env.cas.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadAsset_ThumbnailFailureNotFatal(t *testing.T) {
	env := newMediaTestEnv(t)
	env.thumb.fail = true

	resp, err := env.service.UploadAsset(context.Background(), uuid.New(), bytes.NewReader(testImage(t, 4, 4)), "cat.png")
	require.NoError(t, err)

	// Оригинал на месте, миниатюры нет
	_, err = env.cas.ResolveOriginal(resp.File.Digest)
	require.NoError(t, err)
	_, err = env.cas.ResolveThumbnail(resp.File.Digest)
	assert.Error(t, err)
}

func TestDeleteAsset_LastReferenceRunsGC(t *testing.T) {
	env := newMediaTestEnv(t)
	data := testImage(t, 4, 4)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	first, err := env.service.UploadAsset(ctx, alice, bytes.NewReader(data), "one.png")
	require.NoError(t, err)
	second, err := env.service.UploadAsset(ctx, bob, bytes.NewReader(data), "two.png")
	require.NoError(t, err)

	// Первая ссылка снята: контент ещё нужен второму ассету
	require.NoError(t, env.service.DeleteAsset(ctx, alice, first.ID))
	assert.Equal(t, 1, env.countRows(t, "files"))
	_, err = env.cas.ResolveOriginal(first.File.Digest)
	require.NoError(t, err)

	// Последняя ссылка: реестр и диск очищаются полностью
	require.NoError(t, env.service.DeleteAsset(ctx, bob, second.ID))
	assert.Equal(t, 0, env.countRows(t, "files"))
	assert.Equal(t, 0, env.countRows(t, "assets"))

	_, err = env.cas.ResolveOriginal(first.File.Digest)
	assert.Error(t, err)
	_, err = env.cas.ResolveThumbnail(first.File.Digest)
	assert.Error(t, err)
}

func TestDeleteAsset_NotOwner(t *testing.T) {
	env := newMediaTestEnv(t)
	ctx := context.Background()

	owner := uuid.New()
	resp, err := env.service.UploadAsset(ctx, owner, bytes.NewReader(testImage(t, 4, 4)), "mine.png")
	require.NoError(t, err)

	err = env.service.DeleteAsset(ctx, uuid.New(), resp.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	// Ничего не изменилось
	assert.Equal(t, 1, env.countRows(t, "assets"))
	assert.Equal(t, 1, env.countRows(t, "files"))
	_, err = env.cas.ResolveOriginal(resp.File.Digest)
	require.NoError(t, err)
}

func TestDeleteAsset_Missing(t *testing.T) {
	env := newMediaTestEnv(t)

	err := env.service.DeleteAsset(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetFeedAndGallery(t *testing.T) {
	env := newMediaTestEnv(t)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	_, err := env.service.UploadAsset(ctx, alice, bytes.NewReader(testImage(t, 4, 4)), "a.png")
	require.NoError(t, err)
	_, err = env.service.UploadAsset(ctx, bob, bytes.NewReader(testImage(t, 6, 6)), "b.png")
	require.NoError(t, err)

	feed, err := env.service.GetFeed(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, feed, 2)
	for _, item := range feed {
		assert.NotEmpty(t, item.URL)
		assert.NotEmpty(t, item.ThumbnailURL)
	}

	gallery, err := env.service.GetUserGallery(ctx, alice, 0, 0)
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	assert.Equal(t, "a.png", gallery[0].Filename)
}

func TestResolveOriginal_InvalidDigest(t *testing.T) {
	env := newMediaTestEnv(t)

	_, err := env.service.ResolveOriginal("../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.service.ResolveOriginal("ABCDEF")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweepOrphans(t *testing.T) {
	env := newMediaTestEnv(t)
	ctx := context.Background()

	// Зарегистрированный блоб не трогаем даже старым
	resp, err := env.service.UploadAsset(ctx, uuid.New(), bytes.NewReader(testImage(t, 4, 4)), "keep.png")
	require.NoError(t, err)
	registered, err := env.cas.ResolveOriginal(resp.File.Digest)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(registered, old, old))

	// Осиротевший блоб без записи в реестре
	orphanDigest := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	orphanPath, err := env.cas.PathFor(orphanDigest, ".png")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(orphanPath, []byte("orphan"), 0644))
	require.NoError(t, os.Chtimes(orphanPath, old, old))

	// Свежий блоб без записи: может быть незавершённая загрузка
	freshDigest := "ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100"
	freshPath, err := env.cas.PathFor(freshDigest, ".png")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(freshPath, []byte("fresh"), 0644))

	// Брошенный staging-файл старше суток
	stale := filepath.Join(env.cas.TempDir(), "upload_stale.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))
	ancient := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, ancient, ancient))

	require.NoError(t, env.service.SweepOrphans(ctx))

	assert.FileExists(t, registered)
	assert.NoFileExists(t, orphanPath)
	assert.FileExists(t, freshPath)
	assert.NoFileExists(t, stale)
}
