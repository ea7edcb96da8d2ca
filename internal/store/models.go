package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID          string `gorm:"primaryKey"`
	Email       string `gorm:"uniqueIndex;not null"`
	Name        string
	Company     string
	CreatedAt   time.Time `gorm:"not null"`
	LastLoginAt *time.Time
}

type LoginCodeModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"index;not null"`
	CodeHash  string    `gorm:"not null"`
	Used      bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

type SessionModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Token     string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

type FileModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"not null;index"`
	Filename    string `gorm:"not null"`
	StorageKey  string `gorm:"not null"`
	SizeBytes   int64  `gorm:"not null"`
	MimeType    string
	Category    string
	Description string
	UploadedAt  time.Time `gorm:"not null;index"`
}
