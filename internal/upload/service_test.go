package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arusso/filedepot/internal/blob"
	"github.com/arusso/filedepot/internal/common"
	"github.com/arusso/filedepot/internal/metadata"
	"github.com/arusso/filedepot/pkg/apperrors"
	"github.com/arusso/filedepot/pkg/config"
	"github.com/arusso/filedepot/pkg/types"
	"github.com/arusso/filedepot/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// memCache is an in-memory SessionCache for tests
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrCacheMiss, key)
	}
	return json.Unmarshal(data, dest)
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type testEnv struct {
	service *Service
	blobs   *blob.LocalStore
	files   *metadata.FileStore
	cache   *memCache
	cfg     *config.UploadConfig
}

func setupTestEnv(t *testing.T) *testEnv {
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.FileRecord{}))

	files := metadata.NewFileStore(&common.Database{DB: db})
	cache := newMemCache()

	cfg := &config.UploadConfig{
		MaxChunkSize:       1024,
		LocationTokenBytes: 32,
		BackfillQueueSize:  8,
	}

	return &testEnv{
		service: NewService(blobs, files, cache, nil, cfg),
		blobs:   blobs,
		files:   files,
		cache:   cache,
		cfg:     cfg,
	}
}

func TestStartUpload_OffsetStartsAtZero(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)
	require.NotEmpty(t, location)

	offset, err := env.service.GetOffset(ctx, location, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
}

func TestStartUpload_RejectsFlatPath(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
	}{
		{"no directory", "report.pdf"},
		{"root only", "/report.pdf"},
		{"dot", "."},
		{"escapes root", "../secrets/file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.StartUpload(ctx, "u1@example.com", tt.path, nil)
			assert.ErrorIs(t, err, apperrors.ErrPathNotNested)
		})
	}
}

func TestWriteChunk_SequentialWritesConcatenate(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	chunks := [][]byte{[]byte("AAAA"), []byte("BBBB"), []byte("CCCC")}
	var offset int64
	for _, chunk := range chunks {
		newOffset, err := env.service.WriteChunk(ctx, location, "u1@example.com", offset, chunk)
		require.NoError(t, err)
		assert.Equal(t, offset+int64(len(chunk)), newOffset)
		offset = newOffset
	}

	got, err := env.service.GetOffset(ctx, location, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(12), got)

	// content reads back as the concatenation of all chunks in write order
	var session Session
	require.NoError(t, env.cache.Get(ctx, sessionKey(location), &session))
	data, err := env.blobs.ReadAt(ctx, session.BlobHandle, 0, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAABBBBCCCC"), data)
}

func TestWriteChunk_RetrySameOffsetIsSafe(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 0, []byte("AAAA"))
	require.NoError(t, err)

	// a client retrying the same chunk at the same offset must not corrupt
	newOffset, err := env.service.WriteChunk(ctx, location, "u1@example.com", 0, []byte("AAAA"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), newOffset)

	got, err := env.service.GetOffset(ctx, location, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

func TestWriteChunk_TooLarge(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	big := make([]byte, env.cfg.MaxChunkSize+1)
	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 0, big)
	assert.ErrorIs(t, err, apperrors.ErrChunkTooLarge)
}

func TestWriteChunk_UnknownLocation(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.service.WriteChunk(context.Background(), "never-issued", "u1@example.com", 0, []byte("AAAA"))
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestWriteChunk_ForbiddenLeavesBlobUnchanged(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	_, err = env.service.WriteChunk(ctx, location, "u2@example.com", 0, []byte("XXXX"))
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	offset, err := env.service.GetOffset(ctx, location, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
}

func TestWriteChunk_StrictOffsets(t *testing.T) {
	env := setupTestEnv(t)
	env.cfg.StrictOffsets = true
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 0, []byte("AAAA"))
	require.NoError(t, err)

	// gap
	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 8, []byte("CCCC"))
	assert.ErrorIs(t, err, apperrors.ErrOffsetMismatch)

	// overwrite
	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 0, []byte("AAAA"))
	assert.ErrorIs(t, err, apperrors.ErrOffsetMismatch)

	// matching offset still fine
	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 4, []byte("BBBB"))
	assert.NoError(t, err)
}

func TestConfirmUpload_Scenario(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	offset, err := env.service.WriteChunk(ctx, location, "u1@example.com", 0, []byte("AAAA"))
	require.NoError(t, err)
	offset, err = env.service.WriteChunk(ctx, location, "u1@example.com", offset, []byte("BBBB"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), offset)

	stored, err := env.service.GetOffset(ctx, location, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(8), stored)

	record, err := env.service.ConfirmUpload(ctx, location, "u1@example.com", utils.ComputeSHA256([]byte("AAAABBBB")))
	require.NoError(t, err)
	assert.Equal(t, int64(8), record.SizeBytes)
	assert.Equal(t, "docs/report.pdf", record.FilePath)
	assert.Equal(t, "u1@example.com", record.OwnerID)
	assert.NotEmpty(t, record.Checksum)

	// session is gone after confirmation
	_, err = env.service.GetOffset(ctx, location, "u1@example.com")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestConfirmUpload_ChecksumMismatchKeepsSession(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)
	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 0, []byte("AAAABBBB"))
	require.NoError(t, err)

	_, err = env.service.ConfirmUpload(ctx, location, "u1@example.com", "definitely-wrong")
	assert.ErrorIs(t, err, apperrors.ErrChecksumMismatch)

	// session and blob are untouched; the client can still resume
	offset, err := env.service.GetOffset(ctx, location, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(8), offset)

	// and a correct retry succeeds
	record, err := env.service.ConfirmUpload(ctx, location, "u1@example.com", utils.ComputeSHA256([]byte("AAAABBBB")))
	require.NoError(t, err)
	assert.Equal(t, int64(8), record.SizeBytes)
}

func TestConfirmUpload_RetryAfterPartialFailure(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)
	_, err = env.service.WriteChunk(ctx, location, "u1@example.com", 0, []byte("AAAABBBB"))
	require.NoError(t, err)

	var session Session
	require.NoError(t, env.cache.Get(ctx, sessionKey(location), &session))

	record, err := env.service.ConfirmUpload(ctx, location, "u1@example.com", "")
	require.NoError(t, err)

	// simulate a crash between the record insert and the session delete:
	// the session entry is still visible on retry
	require.NoError(t, env.cache.Set(ctx, sessionKey(location), &session, 0))

	retried, err := env.service.ConfirmUpload(ctx, location, "u1@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, record.ID, retried.ID)

	// the retry cleaned the session up
	_, err = env.service.GetOffset(ctx, location, "u1@example.com")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	// and no second record was created
	records, err := env.service.ListFiles(ctx, "u1@example.com")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestConfirmUpload_TwoSessionsSamePath(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	first, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)
	second, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	_, err = env.service.WriteChunk(ctx, first, "u1@example.com", 0, []byte("AAAA"))
	require.NoError(t, err)
	_, err = env.service.WriteChunk(ctx, second, "u1@example.com", 0, []byte("BBBB"))
	require.NoError(t, err)

	_, err = env.service.ConfirmUpload(ctx, first, "u1@example.com", "")
	require.NoError(t, err)

	// the second session must not silently overwrite the first file
	_, err = env.service.ConfirmUpload(ctx, second, "u1@example.com", "")
	assert.ErrorIs(t, err, apperrors.ErrDuplicatePath)
}

func TestCancelUpload(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	var session Session
	require.NoError(t, env.cache.Get(ctx, sessionKey(location), &session))

	require.NoError(t, env.service.CancelUpload(ctx, location, "u1@example.com"))

	_, err = env.service.GetOffset(ctx, location, "u1@example.com")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	_, err = env.blobs.Size(ctx, session.BlobHandle)
	assert.ErrorIs(t, err, apperrors.ErrBlobNotFound)

	// cancelling again is not an error
	assert.NoError(t, env.service.CancelUpload(ctx, location, "u1@example.com"))
}

func TestCancelUpload_Forbidden(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, "u1@example.com", "docs/report.pdf", nil)
	require.NoError(t, err)

	err = env.service.CancelUpload(ctx, location, "u2@example.com")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	// session survives the failed cancel
	_, err = env.service.GetOffset(ctx, location, "u1@example.com")
	assert.NoError(t, err)
}

func uploadAndConfirm(t *testing.T, env *testEnv, owner, path string, content []byte) *types.FileRecord {
	t.Helper()
	ctx := context.Background()

	location, err := env.service.StartUpload(ctx, owner, path, nil)
	require.NoError(t, err)
	_, err = env.service.WriteChunk(ctx, location, owner, 0, content)
	require.NoError(t, err)

	record, err := env.service.ConfirmUpload(ctx, location, owner, "")
	require.NoError(t, err)
	return record
}

func TestDownloadRange(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	uploadAndConfirm(t, env, "u1@example.com", "docs/report.pdf", []byte("hello world"))

	data, err := env.service.DownloadRange(ctx, "u1@example.com", "docs/report.pdf", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	data, err = env.service.DownloadRange(ctx, "u1@example.com", "docs/report.pdf", 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)

	// a foreign owner's path does not resolve
	_, err = env.service.DownloadRange(ctx, "u2@example.com", "docs/report.pdf", 0)
	assert.ErrorIs(t, err, apperrors.ErrFileNotFound)
}

func TestDeleteFile_ReleasesBlob(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	record := uploadAndConfirm(t, env, "u1@example.com", "docs/report.pdf", []byte("AAAABBBB"))

	require.NoError(t, env.service.DeleteFile(ctx, "u1@example.com", "docs/report.pdf"))

	_, err := env.service.DownloadRange(ctx, "u1@example.com", "docs/report.pdf", 0)
	assert.ErrorIs(t, err, apperrors.ErrFileNotFound)

	_, err = env.blobs.ReadAt(ctx, record.BlobHandle, 0, 4)
	assert.ErrorIs(t, err, apperrors.ErrBlobNotFound)
}

func TestListFiles(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	records, err := env.service.ListFiles(ctx, "u1@example.com")
	require.NoError(t, err)
	assert.Empty(t, records)

	uploadAndConfirm(t, env, "u1@example.com", "docs/a.txt", []byte("aaa"))
	uploadAndConfirm(t, env, "u1@example.com", "docs/b.txt", []byte("bbb"))

	records, err = env.service.ListFiles(ctx, "u1@example.com")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
