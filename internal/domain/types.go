package domain

import "time"

// User is a pre-provisioned (or first-login provisioned) portal account.
// There are no passwords: login is always email + one-time code.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Company     string     `json:"company,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// LoginCode is a single-use email login credential. Only a bcrypt hash of
// the 6-digit code is persisted.
type LoginCode struct {
	ID        string
	Email     string
	CodeHash  string
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Session is an opaque bearer credential with a fixed expiry. Expired rows
// are inert: every lookup filters on expiry, cleanup is best-effort.
type Session struct {
	ID        string    `json:"-"`
	UserID    string    `json:"-"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FileRecord describes an uploaded file owned by exactly one user. The
// storage key is the only link to the blob backend and is never exposed.
type FileRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Filename    string    `json:"filename"`
	StorageKey  string    `json:"-"`
	SizeBytes   int64     `json:"sizeBytes"`
	MimeType    string    `json:"mimeType"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// UserStats summarizes a user's uploads.
type UserStats struct {
	FileCount  int64      `json:"fileCount"`
	TotalBytes int64      `json:"totalBytes"`
	LastUpload *time.Time `json:"lastUpload,omitempty"`
}
