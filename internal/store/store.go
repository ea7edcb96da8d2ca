package store

import (
	"time"

	"clientportal/internal/domain"
)

// Store defines persistence operations for users, login codes, sessions,
// and file metadata. It is the only component that mutates these rows.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	TouchLastLogin(id string, at time.Time) error

	// login codes
	// ReplaceLoginCode removes all unused codes for the email and inserts
	// the new one in a single transaction, so at most one active code
	// exists per email.
	ReplaceLoginCode(domain.LoginCode) error
	ActiveLoginCode(email string, now time.Time) (domain.LoginCode, bool, error)
	// ConsumeLoginCode marks the code used with an unused-guard and reports
	// whether this call won the row. Exactly one concurrent caller wins.
	ConsumeLoginCode(id string) (bool, error)

	// sessions
	SaveSession(domain.Session) error
	GetSessionUser(token string, now time.Time) (domain.User, bool, error)
	DeleteSession(token string) error

	// files
	SaveFile(domain.FileRecord) error
	ListFilesByOwner(userID string) ([]domain.FileRecord, error)
	GetFileByOwner(id, userID string) (domain.FileRecord, bool, error)
	DeleteFile(id string) error
	OwnerStats(userID string) (domain.UserStats, error)

	// housekeeping: reap expired sessions and login codes. Correctness of
	// lookups never depends on this running.
	DeleteExpired(now time.Time) error
}
