// Package apperrors defines the domain error taxonomy shared by the
// storage adapters, the upload service and the HTTP layer. Storage errors
// are translated into these sentinels at the service boundary; handlers
// map them to status codes and never see raw gorm/redis errors.
package apperrors

import "errors"

var (
	// ErrSessionNotFound means the upload location token is unknown or the
	// cache entry was evicted. Surfaced as 404.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrForbidden means the caller is not the owner of the session or file.
	// Deliberately carries no hint of whether the resource exists.
	ErrForbidden = errors.New("no privileges to access resource")

	// ErrChunkTooLarge means a chunk exceeded the configured maximum size.
	ErrChunkTooLarge = errors.New("chunk exceeds maximum allowed size")

	// ErrChecksumMismatch means the supplied checksum did not match the
	// stored content. The session and blob are left intact so the client
	// can retry or cancel.
	ErrChecksumMismatch = errors.New("checksums do not match")

	// ErrDuplicatePath means a file already exists at (owner, path).
	ErrDuplicatePath = errors.New("file already exists at path")

	// ErrFileNotFound means no finalized file record exists for the path.
	ErrFileNotFound = errors.New("file not found")

	// ErrBlobNotFound means a blob handle is invalid or already deleted.
	// Reaching a client with this error indicates a bug, not user error.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrPathNotNested means a target path has no directory component.
	// Flat uploads into the root are rejected.
	ErrPathNotNested = errors.New("file path must contain at least one directory")

	// ErrOffsetMismatch means strict offset checking is enabled and the
	// caller-supplied offset disagrees with the stored blob size.
	ErrOffsetMismatch = errors.New("upload offset does not match stored size")

	// ErrInvalidCredentials covers failed logins and bad tokens.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists means registration hit an existing username or email.
	ErrUserExists = errors.New("user with username or email already exists")
)
