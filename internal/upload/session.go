package upload

import (
	"context"
	"time"
)

// SessionCache is the ephemeral store for in-progress upload state,
// keyed by location token. *common.Cache satisfies it; tests substitute
// an in-memory map. Entries are volatile: a lost entry orphans its blob,
// which is reclaimed offline, never by this service.
type SessionCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}

// Session is the cached state of one in-progress upload. The record
// itself is immutable; only the underlying blob grows as chunks arrive.
// It exists from StartUpload until ConfirmUpload or CancelUpload.
type Session struct {
	OwnerID        string    `json:"owner_id"`
	BlobHandle     string    `json:"blob_handle"`
	TargetPath     string    `json:"target_path"`
	DeclaredLength *int64    `json:"declared_length,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const sessionKeyPrefix = "upload:session:"

func sessionKey(location string) string {
	return sessionKeyPrefix + location
}
