package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents a user in the system. The user's email doubles as the
// owner id on sessions and file records.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"uniqueIndex;not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"not null"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the user ID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// FileRecord represents a finalized upload. It is created only by
// confirming an upload session and owns the referenced blob from that
// point until deletion. (owner_id, file_path) is unique.
type FileRecord struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey"`
	BlobHandle string    `json:"-" gorm:"not null"`
	OwnerID    string    `json:"owner_id" gorm:"uniqueIndex:idx_owner_path;not null"`
	FilePath   string    `json:"file_path" gorm:"uniqueIndex:idx_owner_path;not null"`
	SizeBytes  int64     `json:"size_bytes"`
	// Checksum is empty until computed, either synchronously at confirm
	// time or by the backfill worker afterwards.
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the file record ID
func (f *FileRecord) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// View returns the client-facing representation of the record
func (f *FileRecord) View() *FileView {
	return &FileView{
		FilePath:  f.FilePath,
		SizeBytes: f.SizeBytes,
		SizeMB:    float64(f.SizeBytes) / (1024 * 1024),
		Checksum:  f.Checksum,
		CreatedAt: f.CreatedAt,
	}
}

// FileView is the read model returned to clients
type FileView struct {
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	SizeMB    float64   `json:"size_mb"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthToken represents a JWT token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uuid.UUID `json:"user_id"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
