package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/arusso/filedepot/internal/blob"
	"github.com/arusso/filedepot/internal/metadata"
	"github.com/rs/zerolog/log"
)

// Verifier computes content digests of stored blobs by streaming them in
// fixed-size blocks. It never holds a whole blob in memory, which is the
// point of keeping it separate from the upload service.
type Verifier struct {
	blobs     blob.Store
	blockSize int
}

// NewVerifier creates a verifier reading blockSize bytes per iteration
func NewVerifier(blobs blob.Store, blockSize int) *Verifier {
	return &Verifier{blobs: blobs, blockSize: blockSize}
}

// Compute reads the blob from offset 0 until a short or empty read and
// returns the hex-encoded SHA-256 of its content. Cancelling ctx aborts
// the read loop between blocks.
func (v *Verifier) Compute(ctx context.Context, handle string) (string, error) {
	hasher := sha256.New()
	var offset int64

	for {
		block, err := v.blobs.ReadAt(ctx, handle, offset, v.blockSize)
		if err != nil {
			return "", fmt.Errorf("failed to read blob block: %w", err)
		}
		if len(block) == 0 {
			break
		}

		hasher.Write(block)
		offset += int64(len(block))

		if len(block) < v.blockSize {
			break
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// BackfillJob identifies a finalized file whose checksum is still empty
type BackfillJob struct {
	OwnerID    string
	FilePath   string
	BlobHandle string
}

// Worker backfills checksums for files confirmed without one. Jobs are
// fire-and-forget: a failed backfill is logged and dropped, it never
// affects the confirmation that enqueued it.
type Worker struct {
	verifier *Verifier
	files    *metadata.FileStore
	jobs     chan BackfillJob
}

// NewWorker creates a backfill worker with a bounded job queue
func NewWorker(verifier *Verifier, files *metadata.FileStore, queueSize int) *Worker {
	return &Worker{
		verifier: verifier,
		files:    files,
		jobs:     make(chan BackfillJob, queueSize),
	}
}

// Enqueue submits a job without blocking. When the queue is full the job
// is dropped; the file simply keeps an empty checksum until re-enqueued.
func (w *Worker) Enqueue(job BackfillJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		log.Warn().
			Str("file_path", job.FilePath).
			Msg("checksum backfill queue full, dropping job")
		return false
	}
}

// Run consumes the job queue until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	log.Info().Msg("checksum backfill worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("checksum backfill worker stopped")
			return
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job BackfillJob) {
	digest, err := w.verifier.Compute(ctx, job.BlobHandle)
	if err != nil {
		log.Error().Err(err).
			Str("owner", job.OwnerID).
			Str("file_path", job.FilePath).
			Msg("checksum backfill failed to compute digest")
		return
	}

	if err := w.files.UpdateChecksum(ctx, job.OwnerID, job.FilePath, digest); err != nil {
		// the file may have been deleted since confirmation
		log.Warn().Err(err).
			Str("owner", job.OwnerID).
			Str("file_path", job.FilePath).
			Msg("checksum backfill failed to update record")
		return
	}

	log.Info().
		Str("owner", job.OwnerID).
		Str("file_path", job.FilePath).
		Str("checksum", digest).
		Msg("checksum backfilled")
}
