// Package metadata persists finalized file records. It is the only
// durable record of which blob belongs to which owner and path.
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/arusso/filedepot/internal/common"
	"github.com/arusso/filedepot/pkg/apperrors"
	"github.com/arusso/filedepot/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// FileStore provides access to the files table. Raw gorm errors are
// translated into the domain taxonomy at this boundary.
type FileStore struct {
	db *common.Database
}

// NewFileStore creates a new file metadata store
func NewFileStore(db *common.Database) *FileStore {
	return &FileStore{db: db}
}

// Insert persists a new file record. (owner_id, file_path) uniqueness is
// enforced by the database constraint; violations surface as
// ErrDuplicatePath.
func (s *FileStore) Insert(ctx context.Context, record *types.FileRecord) (*types.FileRecord, error) {
	var existing types.FileRecord
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND file_path = ?", record.OwnerID, record.FilePath).
		First(&existing).Error; err == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicatePath, record.FilePath)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicatePath, record.FilePath)
		}
		return nil, fmt.Errorf("failed to insert file record: %w", err)
	}

	log.Info().
		Str("owner", record.OwnerID).
		Str("file_path", record.FilePath).
		Int64("size_bytes", record.SizeBytes).
		Msg("file record created")

	return record, nil
}

// GetByPath fetches the record for (ownerID, filePath)
func (s *FileStore) GetByPath(ctx context.Context, ownerID, filePath string) (*types.FileRecord, error) {
	var record types.FileRecord
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND file_path = ?", ownerID, filePath).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}

	return &record, nil
}

// ListByOwner returns all records for an owner. An owner with no files
// gets an empty slice, not an error.
func (s *FileStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.FileRecord, error) {
	var records []*types.FileRecord
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("file_path").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}

	return records, nil
}

// UpdateChecksum backfills the checksum of an existing record
func (s *FileStore) UpdateChecksum(ctx context.Context, ownerID, filePath, checksum string) error {
	result := s.db.WithContext(ctx).
		Model(&types.FileRecord{}).
		Where("owner_id = ? AND file_path = ?", ownerID, filePath).
		Update("checksum", checksum)

	if result.Error != nil {
		return fmt.Errorf("failed to update checksum: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, filePath)
	}

	return nil
}

// Delete removes the record for (ownerID, filePath). Releasing the
// referenced blob is the caller's responsibility.
func (s *FileStore) Delete(ctx context.Context, ownerID, filePath string) error {
	result := s.db.WithContext(ctx).
		Where("owner_id = ? AND file_path = ?", ownerID, filePath).
		Delete(&types.FileRecord{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete file record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, filePath)
	}

	log.Info().Str("owner", ownerID).Str("file_path", filePath).Msg("file record deleted")
	return nil
}

// isUniqueViolation matches unique constraint errors from postgres and
// the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
