package store

import (
	"sort"
	"sync"
	"time"

	"clientportal/internal/domain"
)

// MemoryStore keeps all rows in-process. It backs tests and local
// development without Postgres.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]domain.User // key: user ID
	email map[string]string      // email -> user ID
	codes map[string]domain.LoginCode
	sess  map[string]domain.Session // key: token
	files map[string]domain.FileRecord
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		codes: make(map[string]domain.LoginCode),
		sess:  make(map[string]domain.Session),
		files: make(map[string]domain.FileRecord),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// TouchLastLogin records a successful login time.
func (m *MemoryStore) TouchLastLogin(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	t := at.UTC()
	u.LastLoginAt = &t
	m.users[id] = u
	return nil
}

// ReplaceLoginCode drops unused codes for the email and stores the new one.
func (m *MemoryStore) ReplaceLoginCode(code domain.LoginCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.codes {
		if c.Email == code.Email && !c.Used {
			delete(m.codes, id)
		}
	}
	m.codes[code.ID] = code
	return nil
}

// ActiveLoginCode returns the newest unused, unexpired code for the email.
func (m *MemoryStore) ActiveLoginCode(email string, now time.Time) (domain.LoginCode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  domain.LoginCode
		found bool
	)
	for _, c := range m.codes {
		if c.Email != email || c.Used || !c.ExpiresAt.After(now) {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) {
			best = c
			found = true
		}
	}
	return best, found, nil
}

// ConsumeLoginCode marks a code used; only the first caller wins.
func (m *MemoryStore) ConsumeLoginCode(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	m.codes[id] = c
	return true, nil
}

// SaveSession persists a session.
func (m *MemoryStore) SaveSession(s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess[s.Token] = s
	return nil
}

// GetSessionUser resolves a token to its user when unexpired.
func (m *MemoryStore) GetSessionUser(token string, now time.Time) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sess[token]
	if !ok || !s.ExpiresAt.After(now) {
		return domain.User{}, false, nil
	}
	u, ok := m.users[s.UserID]
	return u, ok, nil
}

// DeleteSession removes a session; unknown tokens are a no-op.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}

// SaveFile persists file metadata.
func (m *MemoryStore) SaveFile(f domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

// ListFilesByOwner returns the owner's files, newest upload first.
func (m *MemoryStore) ListFilesByOwner(userID string) ([]domain.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.FileRecord, 0)
	for _, f := range m.files {
		if f.UserID == userID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

// GetFileByOwner fetches a file only when it belongs to the user.
func (m *MemoryStore) GetFileByOwner(id, userID string) (domain.FileRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.UserID != userID {
		return domain.FileRecord{}, false, nil
	}
	return f, true, nil
}

// DeleteFile removes a file metadata row.
func (m *MemoryStore) DeleteFile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

// OwnerStats aggregates upload stats for a user.
func (m *MemoryStore) OwnerStats(userID string) (domain.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats domain.UserStats
	for _, f := range m.files {
		if f.UserID != userID {
			continue
		}
		stats.FileCount++
		stats.TotalBytes += f.SizeBytes
		if stats.LastUpload == nil || f.UploadedAt.After(*stats.LastUpload) {
			t := f.UploadedAt
			stats.LastUpload = &t
		}
	}
	return stats, nil
}

// DeleteExpired reaps expired sessions and spent or expired login codes.
func (m *MemoryStore) DeleteExpired(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, s := range m.sess {
		if !s.ExpiresAt.After(now) {
			delete(m.sess, token)
		}
	}
	for id, c := range m.codes {
		if c.Used || !c.ExpiresAt.After(now) {
			delete(m.codes, id)
		}
	}
	return nil
}
