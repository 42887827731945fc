// Package upload implements the resumable-upload session protocol: the
// state machine that turns a sequence of independent chunk writes into
// one durably stored, checksum-verified file.
//
// A session is created in the cache, chunks land in the blob store at
// caller-supplied offsets, and confirmation moves ownership of the blob
// to a durable file record. The service holds no in-process mutable
// state; operations on different locations are safe to run concurrently.
// Writes within one session are assumed to come from a single client at
// a time, as the wire protocol guarantees; the service does not
// serialize concurrent writers on the same location.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/arusso/filedepot/internal/blob"
	"github.com/arusso/filedepot/internal/common"
	"github.com/arusso/filedepot/internal/metadata"
	"github.com/arusso/filedepot/pkg/apperrors"
	"github.com/arusso/filedepot/pkg/config"
	"github.com/arusso/filedepot/pkg/types"
	"github.com/arusso/filedepot/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Service coordinates the three stores of the upload protocol. It is the
// only component touching all of them.
type Service struct {
	blobs    blob.Store
	files    *metadata.FileStore
	sessions SessionCache
	worker   *Worker
	cfg      *config.UploadConfig
}

// NewService creates the upload session manager. worker may be nil, in
// which case confirmed files without a synchronous checksum keep an
// empty checksum until something else backfills it.
func NewService(blobs blob.Store, files *metadata.FileStore, sessions SessionCache, worker *Worker, cfg *config.UploadConfig) *Service {
	return &Service{
		blobs:    blobs,
		files:    files,
		sessions: sessions,
		worker:   worker,
		cfg:      cfg,
	}
}

// normalizePath cleans a client-supplied target path and rejects paths
// without a directory component.
func normalizePath(targetPath string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(targetPath, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", apperrors.ErrPathNotNested, targetPath)
	}
	if !strings.Contains(cleaned, "/") {
		return "", fmt.Errorf("%w: %q", apperrors.ErrPathNotNested, targetPath)
	}
	return cleaned, nil
}

// StartUpload allocates a blob, generates a location token and caches the
// session state. Nothing is durable as a file until confirmation.
func (s *Service) StartUpload(ctx context.Context, ownerID, targetPath string, declaredLength *int64) (string, error) {
	cleaned, err := normalizePath(targetPath)
	if err != nil {
		return "", err
	}

	handle, err := s.blobs.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to allocate blob: %w", err)
	}

	location, err := utils.GenerateLocationToken(s.cfg.LocationTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate location token: %w", err)
	}

	session := &Session{
		OwnerID:        ownerID,
		BlobHandle:     handle,
		TargetPath:     cleaned,
		DeclaredLength: declaredLength,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.sessions.Set(ctx, sessionKey(location), session, 0); err != nil {
		return "", fmt.Errorf("failed to store upload session: %w", err)
	}

	log.Info().
		Str("actor", ownerID).
		Str("operation", "start_upload").
		Str("target_path", cleaned).
		Msg("upload session created")

	return location, nil
}

// fetchSession loads the session for a location and enforces ownership
func (s *Service) fetchSession(ctx context.Context, location, ownerID string) (*Session, error) {
	var session Session
	if err := s.sessions.Get(ctx, sessionKey(location), &session); err != nil {
		if errors.Is(err, common.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSessionNotFound, location)
		}
		return nil, fmt.Errorf("failed to load upload session: %w", err)
	}

	if session.OwnerID != ownerID {
		return nil, apperrors.ErrForbidden
	}

	return &session, nil
}

// WriteChunk writes data into the session's blob at the caller-supplied
// offset and returns the next expected offset. The returned value is
// computed, not queried, to keep a single storage round trip on the hot
// path; GetOffset is the authoritative source for resumption.
func (s *Service) WriteChunk(ctx context.Context, location, ownerID string, offset int64, data []byte) (int64, error) {
	if len(data) > s.cfg.MaxChunkSize {
		return 0, fmt.Errorf("%w: %d > %d", apperrors.ErrChunkTooLarge, len(data), s.cfg.MaxChunkSize)
	}

	session, err := s.fetchSession(ctx, location, ownerID)
	if err != nil {
		return 0, err
	}

	if s.cfg.StrictOffsets {
		size, err := s.blobs.Size(ctx, session.BlobHandle)
		if err != nil {
			return 0, err
		}
		if offset != size {
			return 0, fmt.Errorf("%w: got %d, stored size is %d", apperrors.ErrOffsetMismatch, offset, size)
		}
	}

	if err := s.blobs.WriteAt(ctx, session.BlobHandle, offset, data); err != nil {
		return 0, err
	}

	newOffset := offset + int64(len(data))

	log.Debug().
		Str("actor", ownerID).
		Str("operation", "write_chunk").
		Int64("offset", offset).
		Int("bytes", len(data)).
		Int64("new_offset", newOffset).
		Msg("chunk written")

	return newOffset, nil
}

// GetOffset returns the blob's current stored size: the last durable
// byte, which a client uses to resume an interrupted upload.
func (s *Service) GetOffset(ctx context.Context, location, ownerID string) (int64, error) {
	session, err := s.fetchSession(ctx, location, ownerID)
	if err != nil {
		return 0, err
	}

	return s.blobs.Size(ctx, session.BlobHandle)
}

// ConfirmUpload finalizes a session into a durable file record. The
// record is inserted before the session is deleted, so a crash in
// between leaves a retryable session; the retry lands on the existing
// record and is treated as success. A checksum mismatch leaves both the
// session and the blob intact for the client to retry or cancel.
func (s *Service) ConfirmUpload(ctx context.Context, location, ownerID, expectedChecksum string) (*types.FileRecord, error) {
	session, err := s.fetchSession(ctx, location, ownerID)
	if err != nil {
		return nil, err
	}

	var checksum string
	if expectedChecksum != "" {
		verifier := NewVerifier(s.blobs, s.cfg.MaxChunkSize)
		digest, err := verifier.Compute(ctx, session.BlobHandle)
		if err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
		if digest != expectedChecksum {
			log.Warn().
				Str("actor", ownerID).
				Str("operation", "confirm_upload").
				Str("target_path", session.TargetPath).
				Msg("checksum mismatch, session left intact")
			return nil, apperrors.ErrChecksumMismatch
		}
		checksum = digest
	}

	size, err := s.blobs.Size(ctx, session.BlobHandle)
	if err != nil {
		return nil, err
	}

	record := &types.FileRecord{
		BlobHandle: session.BlobHandle,
		OwnerID:    session.OwnerID,
		FilePath:   session.TargetPath,
		SizeBytes:  size,
		Checksum:   checksum,
	}

	record, err = s.files.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicatePath) {
			// A previous confirm may have committed the record and then
			// failed to delete the session. Same blob handle means same
			// confirmation: report success idempotently.
			existing, getErr := s.files.GetByPath(ctx, session.OwnerID, session.TargetPath)
			if getErr == nil && existing.BlobHandle == session.BlobHandle {
				if delErr := s.sessions.Delete(ctx, sessionKey(location)); delErr != nil {
					log.Warn().Err(delErr).Msg("failed to delete session after confirm retry")
				}
				return existing, nil
			}
		}
		return nil, err
	}

	if err := s.sessions.Delete(ctx, sessionKey(location)); err != nil {
		// the record is already durable; a retried confirm resolves this
		log.Warn().Err(err).
			Str("actor", ownerID).
			Str("operation", "confirm_upload").
			Msg("failed to delete session after confirm")
	}

	if checksum == "" && s.worker != nil {
		s.worker.Enqueue(BackfillJob{
			OwnerID:    record.OwnerID,
			FilePath:   record.FilePath,
			BlobHandle: record.BlobHandle,
		})
	}

	log.Info().
		Str("actor", ownerID).
		Str("operation", "confirm_upload").
		Str("file_path", record.FilePath).
		Int64("size_bytes", record.SizeBytes).
		Msg("upload confirmed")

	return record, nil
}

// CancelUpload deletes the session's blob and cache entry. Cancelling an
// already-gone session is not an error.
func (s *Service) CancelUpload(ctx context.Context, location, ownerID string) error {
	session, err := s.fetchSession(ctx, location, ownerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.blobs.Delete(ctx, session.BlobHandle); err != nil && !errors.Is(err, apperrors.ErrBlobNotFound) {
		return err
	}

	if err := s.sessions.Delete(ctx, sessionKey(location)); err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}

	log.Info().
		Str("actor", ownerID).
		Str("operation", "cancel_upload").
		Str("target_path", session.TargetPath).
		Msg("upload cancelled")

	return nil
}

// DownloadRange reads up to one chunk of a finalized file starting at
// offset. Lookup is keyed by owner, so a foreign path simply does not
// resolve.
func (s *Service) DownloadRange(ctx context.Context, ownerID, filePath string, offset int64) ([]byte, error) {
	record, err := s.files.GetByPath(ctx, ownerID, filePath)
	if err != nil {
		return nil, err
	}

	return s.blobs.ReadAt(ctx, record.BlobHandle, offset, s.cfg.MaxChunkSize)
}

// ListFiles returns all finalized files of an owner
func (s *Service) ListFiles(ctx context.Context, ownerID string) ([]*types.FileRecord, error) {
	return s.files.ListByOwner(ctx, ownerID)
}

// DeleteFile removes a finalized file record and releases its blob
func (s *Service) DeleteFile(ctx context.Context, ownerID, filePath string) error {
	record, err := s.files.GetByPath(ctx, ownerID, filePath)
	if err != nil {
		return err
	}

	if err := s.files.Delete(ctx, ownerID, filePath); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, record.BlobHandle); err != nil && !errors.Is(err, apperrors.ErrBlobNotFound) {
		return fmt.Errorf("failed to release blob: %w", err)
	}

	log.Info().
		Str("actor", ownerID).
		Str("operation", "delete_file").
		Str("file_path", filePath).
		Msg("file deleted")

	return nil
}
