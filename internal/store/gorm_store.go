package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"clientportal/internal/domain"
)

const migrateLockID int64 = 52414552

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &LoginCodeModel{}, &SessionModel{}, &FileModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "company", "last_login_at"}),
	}).Create(&model).Error
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// TouchLastLogin records a successful login time.
func (s *GormStore) TouchLastLogin(id string, at time.Time) error {
	return s.db.Model(&UserModel{}).Where("id = ?", id).
		Update("last_login_at", at.UTC()).Error
}

// ReplaceLoginCode deletes all unused codes for the email and inserts the
// new one in one transaction.
func (s *GormStore) ReplaceLoginCode(code domain.LoginCode) error {
	model := loginCodeToModel(code)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&LoginCodeModel{}, "email = ? AND used = ?", code.Email, false).Error; err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
}

// ActiveLoginCode returns the newest unused, unexpired code for the email.
func (s *GormStore) ActiveLoginCode(email string, now time.Time) (domain.LoginCode, bool, error) {
	var model LoginCodeModel
	err := s.db.Where("email = ? AND used = ? AND expires_at > ?", email, false, now.UTC()).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.LoginCode{}, false, nil
		}
		return domain.LoginCode{}, false, err
	}
	return loginCodeFromModel(model), true, nil
}

// ConsumeLoginCode marks a code used. The unused-guard in the WHERE clause
// makes the check-and-mark a single atomic statement, so concurrent verify
// attempts for the same code see exactly one winner.
func (s *GormStore) ConsumeLoginCode(id string) (bool, error) {
	res := s.db.Model(&LoginCodeModel{}).
		Where("id = ? AND used = ?", id, false).
		Update("used", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SaveSession persists a new session row.
func (s *GormStore) SaveSession(sess domain.Session) error {
	model := sessionToModel(sess)
	return s.db.Create(&model).Error
}

// GetSessionUser resolves a token to its user where the session expiry is
// strictly in the future. Expired rows are left in place.
func (s *GormStore) GetSessionUser(token string, now time.Time) (domain.User, bool, error) {
	var model UserModel
	err := s.db.Model(&UserModel{}).
		Joins("JOIN session_models ON session_models.user_id = user_models.id").
		Where("session_models.token = ? AND session_models.expires_at > ?", token, now.UTC()).
		Take(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DeleteSession removes a session row; unknown tokens are a no-op.
func (s *GormStore) DeleteSession(token string) error {
	return s.db.Delete(&SessionModel{}, "token = ?", token).Error
}

// SaveFile persists file metadata.
func (s *GormStore) SaveFile(f domain.FileRecord) error {
	model := fileToModel(f)
	return s.db.Create(&model).Error
}

// ListFilesByOwner returns the owner's files, newest upload first.
func (s *GormStore) ListFilesByOwner(userID string) ([]domain.FileRecord, error) {
	var models []FileModel
	if err := s.db.Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FileRecord, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// GetFileByOwner fetches a file only when it belongs to the user.
func (s *GormStore) GetFileByOwner(id, userID string) (domain.FileRecord, bool, error) {
	var model FileModel
	err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// DeleteFile removes a file metadata row.
func (s *GormStore) DeleteFile(id string) error {
	return s.db.Delete(&FileModel{}, "id = ?", id).Error
}

// OwnerStats aggregates upload stats for a user.
func (s *GormStore) OwnerStats(userID string) (domain.UserStats, error) {
	var row struct {
		Count int64
		Total sql.NullInt64
		Last  sql.NullTime
	}
	err := s.db.Model(&FileModel{}).
		Select("COUNT(*) AS count, SUM(size_bytes) AS total, MAX(uploaded_at) AS last").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return domain.UserStats{}, err
	}
	stats := domain.UserStats{FileCount: row.Count, TotalBytes: row.Total.Int64}
	if row.Last.Valid {
		last := row.Last.Time
		stats.LastUpload = &last
	}
	return stats, nil
}

// DeleteExpired reaps expired sessions and login codes.
func (s *GormStore) DeleteExpired(now time.Time) error {
	cutoff := now.UTC()
	if err := s.db.Delete(&SessionModel{}, "expires_at <= ?", cutoff).Error; err != nil {
		return err
	}
	return s.db.Delete(&LoginCodeModel{}, "expires_at <= ? OR used = ?", cutoff, true).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Company:     u.Company,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:          m.ID,
		Email:       m.Email,
		Name:        m.Name,
		Company:     m.Company,
		CreatedAt:   m.CreatedAt,
		LastLoginAt: m.LastLoginAt,
	}
}

func loginCodeToModel(c domain.LoginCode) LoginCodeModel {
	return LoginCodeModel{
		ID:        c.ID,
		Email:     c.Email,
		CodeHash:  c.CodeHash,
		Used:      c.Used,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
	}
}

func loginCodeFromModel(m LoginCodeModel) domain.LoginCode {
	return domain.LoginCode{
		ID:        m.ID,
		Email:     m.Email,
		CodeHash:  m.CodeHash,
		Used:      m.Used,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func sessionToModel(s domain.Session) SessionModel {
	return SessionModel{
		ID:        s.ID,
		UserID:    s.UserID,
		Token:     s.Token,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func fileToModel(f domain.FileRecord) FileModel {
	return FileModel{
		ID:          f.ID,
		UserID:      f.UserID,
		Filename:    f.Filename,
		StorageKey:  f.StorageKey,
		SizeBytes:   f.SizeBytes,
		MimeType:    f.MimeType,
		Category:    f.Category,
		Description: f.Description,
		UploadedAt:  f.UploadedAt,
	}
}

func fileFromModel(m FileModel) domain.FileRecord {
	return domain.FileRecord{
		ID:          m.ID,
		UserID:      m.UserID,
		Filename:    m.Filename,
		StorageKey:  m.StorageKey,
		SizeBytes:   m.SizeBytes,
		MimeType:    m.MimeType,
		Category:    m.Category,
		Description: m.Description,
		UploadedAt:  m.UploadedAt,
	}
}
