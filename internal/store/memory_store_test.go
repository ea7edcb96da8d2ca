package store

import (
	"sync"
	"testing"
	"time"

	"clientportal/internal/domain"
)

func newCodeRow(id, email string, expiresAt time.Time) domain.LoginCode {
	return domain.LoginCode{
		ID:        id,
		Email:     email,
		CodeHash:  "hash-" + id,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
}

func TestReplaceLoginCodeKeepsOneActive(t *testing.T) {
	st := NewMemoryStore()
	future := time.Now().Add(10 * time.Minute)
	if err := st.ReplaceLoginCode(newCodeRow("c1", "a@example.com", future)); err != nil {
		t.Fatalf("replace c1: %v", err)
	}
	if err := st.ReplaceLoginCode(newCodeRow("c2", "a@example.com", future)); err != nil {
		t.Fatalf("replace c2: %v", err)
	}

	code, found, err := st.ActiveLoginCode("a@example.com", time.Now())
	if err != nil || !found {
		t.Fatalf("active code: found=%v err=%v", found, err)
	}
	if code.ID != "c2" {
		t.Fatalf("active code = %q, want c2", code.ID)
	}
	if won, _ := st.ConsumeLoginCode("c1"); won {
		t.Fatalf("replaced code c1 still consumable")
	}
}

func TestReplaceLoginCodeScopedToEmail(t *testing.T) {
	st := NewMemoryStore()
	future := time.Now().Add(10 * time.Minute)
	if err := st.ReplaceLoginCode(newCodeRow("ca", "a@example.com", future)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := st.ReplaceLoginCode(newCodeRow("cb", "b@example.com", future)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, found, _ := st.ActiveLoginCode("a@example.com", time.Now()); !found {
		t.Fatalf("a's code was dropped by b's issue")
	}
}

func TestActiveLoginCodeSkipsExpired(t *testing.T) {
	st := NewMemoryStore()
	if err := st.ReplaceLoginCode(newCodeRow("old", "a@example.com", time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, found, _ := st.ActiveLoginCode("a@example.com", time.Now()); found {
		t.Fatalf("expired code reported active")
	}
}

func TestConsumeLoginCodeExactlyOnce(t *testing.T) {
	st := NewMemoryStore()
	if err := st.ReplaceLoginCode(newCodeRow("c1", "a@example.com", time.Now().Add(10*time.Minute))); err != nil {
		t.Fatalf("replace: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ConsumeLoginCode("c1")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
}

func TestSessionLookupFiltersExpiry(t *testing.T) {
	st := NewMemoryStore()
	if err := st.SaveUser(domain.User{ID: "u1", Email: "a@example.com", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	now := time.Now().UTC()
	if err := st.SaveSession(domain.Session{
		ID: "s1", UserID: "u1", Token: "tok",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	if _, ok, _ := st.GetSessionUser("tok", now); !ok {
		t.Fatalf("valid session rejected")
	}
	if _, ok, _ := st.GetSessionUser("tok", now.Add(2*time.Hour)); ok {
		t.Fatalf("expired session accepted")
	}
	if _, ok, _ := st.GetSessionUser("other", now); ok {
		t.Fatalf("unknown token accepted")
	}
}

func TestDeleteExpiredReapsRows(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now().UTC()
	if err := st.SaveSession(domain.Session{
		ID: "s1", UserID: "u1", Token: "tok",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := st.ReplaceLoginCode(newCodeRow("c1", "a@example.com", now.Add(-time.Minute))); err != nil {
		t.Fatalf("replace code: %v", err)
	}
	if err := st.DeleteExpired(now); err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if _, found, _ := st.ActiveLoginCode("a@example.com", now.Add(-2*time.Minute)); found {
		t.Fatalf("reaped code still present")
	}
	if err := st.DeleteSession("tok"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
}

func TestFileOwnershipQueries(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now().UTC()
	files := []domain.FileRecord{
		{ID: "f1", UserID: "u1", Filename: "a.txt", StorageKey: "k1", SizeBytes: 5, UploadedAt: now.Add(-time.Hour)},
		{ID: "f2", UserID: "u1", Filename: "b.txt", StorageKey: "k2", SizeBytes: 7, UploadedAt: now},
		{ID: "f3", UserID: "u2", Filename: "c.txt", StorageKey: "k3", SizeBytes: 11, UploadedAt: now},
	}
	for _, f := range files {
		if err := st.SaveFile(f); err != nil {
			t.Fatalf("save file: %v", err)
		}
	}

	list, err := st.ListFilesByOwner("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "f2" || list[1].ID != "f1" {
		t.Fatalf("list = %+v, want f2 then f1", list)
	}

	if _, found, _ := st.GetFileByOwner("f3", "u1"); found {
		t.Fatalf("cross-user fetch succeeded")
	}
	if _, found, _ := st.GetFileByOwner("f1", "u1"); !found {
		t.Fatalf("owner fetch failed")
	}

	stats, err := st.OwnerStats("u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FileCount != 2 || stats.TotalBytes != 12 {
		t.Fatalf("stats = %+v, want 2 files 12 bytes", stats)
	}
	if stats.LastUpload == nil || !stats.LastUpload.Equal(now) {
		t.Fatalf("last upload = %v, want %v", stats.LastUpload, now)
	}
}
