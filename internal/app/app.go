package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"clientportal/internal/domain"
	"clientportal/internal/notify"
	"clientportal/internal/storage"
	"clientportal/internal/store"
	"clientportal/internal/util"
)

// Config carries the portal core's dependencies and policy knobs.
type Config struct {
	Store    store.Store
	Objects  storage.ObjectStore
	Notifier notify.Notifier
	Logger   *slog.Logger

	// CodeTTL bounds how long a login code stays valid. Zero means 10 minutes.
	CodeTTL time.Duration
	// SessionTTL bounds session lifetime. Zero means 7 days.
	SessionTTL time.Duration
	// AllowUnknownEmails provisions an account on first login instead of
	// rejecting emails without one.
	AllowUnknownEmails bool
	// Development returns issued codes to the caller and tolerates notifier
	// failures. Never enable in production.
	Development bool
}

// App is the portal core: login codes, sessions, and file access. All
// backends are injected; App itself holds no global state.
type App struct {
	store    store.Store
	objects  storage.ObjectStore
	notifier notify.Notifier
	logger   *slog.Logger

	codeTTL            time.Duration
	sessionTTL         time.Duration
	allowUnknownEmails bool
	development        bool

	now func() time.Time
}

// New builds the portal core.
func New(cfg Config) *App {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &App{
		store:              cfg.Store,
		objects:            cfg.Objects,
		notifier:           cfg.Notifier,
		logger:             cfg.Logger,
		codeTTL:            cfg.CodeTTL,
		sessionTTL:         cfg.SessionTTL,
		allowUnknownEmails: cfg.AllowUnknownEmails,
		development:        cfg.Development,
		now:                time.Now,
	}
}

// NormalizeEmail validates and canonicalizes an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// RequestCode issues a fresh login code for the email and delivers it via
// the notifier. Issuing a new code invalidates any previous unused one. In
// development mode the code is also returned to the caller.
func (a *App) RequestCode(ctx context.Context, email string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if !a.allowUnknownEmails {
		_, found, err := a.store.GetUserByEmail(email)
		if err != nil {
			return "", fmt.Errorf("look up user: %w", err)
		}
		if !found {
			return "", ErrEmailNotRecognized
		}
	}

	code, err := newCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	now := a.now().UTC()
	if err := a.store.ReplaceLoginCode(domain.LoginCode{
		ID:        util.NewID(),
		Email:     email,
		CodeHash:  string(hash),
		CreatedAt: now,
		ExpiresAt: now.Add(a.codeTTL),
	}); err != nil {
		return "", fmt.Errorf("store login code: %w", err)
	}

	if err := a.notifier.SendLoginCode(ctx, email, code); err != nil {
		if !a.development {
			a.logger.Error("login code delivery failed",
				"email", util.MaskEmail(email), "error", err)
			return "", ErrNotifierUnavailable
		}
		a.logger.Warn("login code delivery failed, continuing in development",
			"email", util.MaskEmail(email), "error", err)
	}

	if a.development {
		return code, nil
	}
	return "", nil
}

// VerifyCode exchanges a valid email+code pair for a session. The code is
// single use: concurrent verifications of the same code yield one session.
func (a *App) VerifyCode(ctx context.Context, email, code string) (domain.Session, domain.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.Session{}, domain.User{}, ErrInvalidCode
	}
	code = strings.TrimSpace(code)
	now := a.now().UTC()

	active, found, err := a.store.ActiveLoginCode(email, now)
	if err != nil {
		return domain.Session{}, domain.User{}, fmt.Errorf("look up login code: %w", err)
	}
	if !found {
		return domain.Session{}, domain.User{}, ErrInvalidCode
	}
	if bcrypt.CompareHashAndPassword([]byte(active.CodeHash), []byte(code)) != nil {
		return domain.Session{}, domain.User{}, ErrInvalidCode
	}
	won, err := a.store.ConsumeLoginCode(active.ID)
	if err != nil {
		return domain.Session{}, domain.User{}, fmt.Errorf("consume login code: %w", err)
	}
	if !won {
		return domain.Session{}, domain.User{}, ErrInvalidCode
	}

	user, found, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.Session{}, domain.User{}, fmt.Errorf("look up user: %w", err)
	}
	if !found {
		if !a.allowUnknownEmails {
			return domain.Session{}, domain.User{}, ErrInvalidCode
		}
		user = domain.User{ID: util.NewID(), Email: email, CreatedAt: now}
		if err := a.store.SaveUser(user); err != nil {
			return domain.Session{}, domain.User{}, fmt.Errorf("create user: %w", err)
		}
	}
	if err := a.store.TouchLastLogin(user.ID, now); err != nil {
		a.logger.Warn("update last login failed", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now

	token, err := newToken()
	if err != nil {
		return domain.Session{}, domain.User{}, fmt.Errorf("generate token: %w", err)
	}
	sess := domain.Session{
		ID:        util.NewID(),
		UserID:    user.ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(a.sessionTTL),
	}
	if err := a.store.SaveSession(sess); err != nil {
		return domain.Session{}, domain.User{}, fmt.Errorf("store session: %w", err)
	}
	return sess, user, nil
}

// Authenticate resolves a session token to its user.
func (a *App) Authenticate(token string) (domain.User, bool, error) {
	if token == "" {
		return domain.User{}, false, nil
	}
	return a.store.GetSessionUser(token, a.now().UTC())
}

// Logout revokes a session. Unknown tokens succeed: the session is gone
// either way.
func (a *App) Logout(token string) error {
	if token == "" {
		return nil
	}
	return a.store.DeleteSession(token)
}

// SessionTTL reports the configured session lifetime.
func (a *App) SessionTTL() time.Duration {
	return a.sessionTTL
}

// ListFiles returns the user's files, newest first.
func (a *App) ListFiles(userID string) ([]domain.FileRecord, error) {
	return a.store.ListFilesByOwner(userID)
}

// Upload stores the blob first and the metadata row second, so a metadata
// row never points at a missing blob. On metadata failure the orphaned blob
// is deleted best effort.
func (a *App) Upload(ctx context.Context, userID, filename, category, description, contentType string, r io.Reader, size int64) (domain.FileRecord, error) {
	category = storage.NormalizeCategory(category)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.BuildKey(userID, category, filename)
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.FileRecord{}, fmt.Errorf("store blob: %w", err)
	}
	rec := domain.FileRecord{
		ID:          util.NewID(),
		UserID:      userID,
		Filename:    filename,
		StorageKey:  key,
		SizeBytes:   size,
		MimeType:    contentType,
		Category:    category,
		Description: description,
		UploadedAt:  a.now().UTC(),
	}
	if err := a.store.SaveFile(rec); err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			a.logger.Warn("orphaned blob cleanup failed", "key", key, "error", delErr)
		}
		return domain.FileRecord{}, fmt.Errorf("store file metadata: %w", err)
	}
	return rec, nil
}

// Download streams a file the user owns. Ownership is checked before the
// blob backend is touched.
func (a *App) Download(ctx context.Context, userID, fileID string) (domain.FileRecord, io.ReadCloser, error) {
	rec, found, err := a.store.GetFileByOwner(fileID, userID)
	if err != nil {
		return domain.FileRecord{}, nil, fmt.Errorf("look up file: %w", err)
	}
	if !found {
		return domain.FileRecord{}, nil, ErrFileNotFound
	}
	body, err := a.objects.Get(ctx, rec.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			a.logger.Warn("file metadata points at missing blob",
				"file_id", rec.ID, "key", rec.StorageKey)
			return domain.FileRecord{}, nil, ErrFileNotFound
		}
		return domain.FileRecord{}, nil, fmt.Errorf("fetch blob: %w", err)
	}
	return rec, body, nil
}

// Delete removes a file the user owns. Metadata goes first; the blob delete
// is best effort since an orphaned blob is invisible to every lookup.
func (a *App) Delete(ctx context.Context, userID, fileID string) error {
	rec, found, err := a.store.GetFileByOwner(fileID, userID)
	if err != nil {
		return fmt.Errorf("look up file: %w", err)
	}
	if !found {
		return ErrFileNotFound
	}
	if err := a.store.DeleteFile(rec.ID); err != nil {
		return fmt.Errorf("delete file metadata: %w", err)
	}
	if err := a.objects.Delete(ctx, rec.StorageKey); err != nil {
		a.logger.Warn("blob delete failed", "key", rec.StorageKey, "error", err)
	}
	return nil
}

// Stats summarizes the user's uploads.
func (a *App) Stats(userID string) (domain.UserStats, error) {
	return a.store.OwnerStats(userID)
}

// Housekeep reaps expired sessions and spent login codes. Lookups filter on
// expiry themselves, so this only bounds table growth.
func (a *App) Housekeep() error {
	return a.store.DeleteExpired(a.now().UTC())
}

// newCode returns a uniformly random 6-digit code in [100000, 999999].
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// newToken returns a 256-bit random token in hex.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
