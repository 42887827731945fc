package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/arusso/filedepot/pkg/apperrors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocalStore implements Store on the local filesystem. Each blob is a
// single file named by its handle. Handles are UUIDs, which also keeps
// path traversal out of reach.
type LocalStore struct {
	basePath string
	mutex    sync.RWMutex
}

// NewLocalStore creates a local blob store rooted at basePath
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create blob directory")
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local blob store initialized")
	return &LocalStore{basePath: basePath}, nil
}

// blobPath validates the handle and maps it to a filesystem path
func (ls *LocalStore) blobPath(handle string) (string, error) {
	if _, err := uuid.Parse(handle); err != nil {
		return "", fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, handle)
	}
	return filepath.Join(ls.basePath, handle), nil
}

// Create allocates a new empty blob file and returns its handle
func (ls *LocalStore) Create(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	handle := uuid.New().String()
	file, err := os.OpenFile(filepath.Join(ls.basePath, handle), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		log.Error().Err(err).Str("handle", handle).Msg("failed to create blob")
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	file.Close()

	log.Debug().Str("handle", handle).Msg("blob created")
	return handle, nil
}

// WriteAt writes data into the blob at offset. Offsets beyond the current
// size leave a zero-filled gap (sparse file semantics).
func (ls *LocalStore) WriteAt(ctx context.Context, handle string, offset int64, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	path, err := ls.blobPath(handle)
	if err != nil {
		return err
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	file, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, handle)
		}
		log.Error().Err(err).Str("handle", handle).Msg("failed to open blob for writing")
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteAt(data, offset); err != nil {
		log.Error().Err(err).Str("handle", handle).Int64("offset", offset).Msg("failed to write to blob")
		return fmt.Errorf("failed to write to blob: %w", err)
	}

	log.Debug().
		Str("handle", handle).
		Int64("offset", offset).
		Int("bytes", len(data)).
		Msg("blob chunk written")

	return nil
}

// ReadAt reads up to length bytes starting at offset
func (ls *LocalStore) ReadAt(ctx context.Context, handle string, offset int64, length int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path, err := ls.blobPath(handle)
	if err != nil {
		return nil, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, handle)
		}
		log.Error().Err(err).Str("handle", handle).Msg("failed to open blob for reading")
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer file.Close()

	buf := make([]byte, length)
	n, err := file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		log.Error().Err(err).Str("handle", handle).Int64("offset", offset).Msg("failed to read from blob")
		return nil, fmt.Errorf("failed to read from blob: %w", err)
	}

	return buf[:n], nil
}

// Size returns the current stored size of the blob
func (ls *LocalStore) Size(ctx context.Context, handle string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	path, err := ls.blobPath(handle)
	if err != nil {
		return 0, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, handle)
		}
		log.Error().Err(err).Str("handle", handle).Msg("failed to stat blob")
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}

	return info.Size(), nil
}

// Delete removes the blob. A deleted handle is invalid for all further
// operations.
func (ls *LocalStore) Delete(ctx context.Context, handle string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	path, err := ls.blobPath(handle)
	if err != nil {
		return err
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, handle)
		}
		log.Error().Err(err).Str("handle", handle).Msg("failed to delete blob")
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	log.Info().Str("handle", handle).Msg("blob deleted")
	return nil
}
