package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"medconnect/backend/internal/db"
	"medconnect/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository for tests and local tooling.
// SetPassword, when set, is called inside CompleteReset under the repository lock.
type MemoryRepository struct {
	mu          sync.Mutex
	records     map[string]*domain.TokenRecord
	SetPassword func(userID, passwordHash string, at time.Time) error
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*domain.TokenRecord)}
}

func (m *MemoryRepository) insertLocked(recs []*domain.TokenRecord) error {
	for _, r := range recs {
		for _, existing := range m.records {
			if existing.TokenHash == r.TokenHash {
				return db.ErrConflict
			}
		}
		if _, ok := m.records[r.ID]; ok {
			return db.ErrConflict
		}
	}
	for _, r := range recs {
		cp := *r
		m.records[r.ID] = &cp
	}
	return nil
}

func (m *MemoryRepository) Create(ctx context.Context, recs ...*domain.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(recs)
}

func (m *MemoryRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TokenHash == tokenHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func markUsed(r *domain.TokenRecord, now time.Time) {
	r.Used = true
	t := now
	r.UsedAt = &t
}

func (m *MemoryRepository) Rotate(ctx context.Context, oldID string, now time.Time, newRecs ...*domain.TokenRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[oldID]
	if !ok || old.Kind != domain.KindRefresh || !old.IsActive(now) {
		return false, nil
	}
	if err := m.insertLocked(newRecs); err != nil {
		return false, err
	}
	markUsed(old, now)
	return true, nil
}

func (m *MemoryRepository) RevokeSession(ctx context.Context, userID, accessHash string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var access *domain.TokenRecord
	for _, r := range m.records {
		if r.TokenHash == accessHash && r.UserID == userID && r.Kind == domain.KindAccess {
			access = r
			break
		}
	}
	if access == nil {
		return 0, nil
	}
	var n int64
	for _, r := range m.records {
		if r.UserID != userID || r.Used {
			continue
		}
		paired := r.Kind == domain.KindRefresh && access.SessionID != "" && r.SessionID == access.SessionID
		if r == access || paired {
			markUsed(r, now)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) RevokeAll(ctx context.Context, userID string, kinds []domain.Kind, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeAllLocked(userID, kinds, now), nil
}

func (m *MemoryRepository) revokeAllLocked(userID string, kinds []domain.Kind, now time.Time) int64 {
	want := make(map[domain.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var n int64
	for _, r := range m.records {
		if r.UserID == userID && want[r.Kind] && r.IsActive(now) {
			markUsed(r, now)
			n++
		}
	}
	return n
}

func (m *MemoryRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*domain.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TokenRecord
	for _, r := range m.records {
		if r.UserID != userID || r.Kind == domain.KindPasswordReset || !r.IsActive(now) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) ReplaceReset(ctx context.Context, rec *domain.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.UserID == rec.UserID && r.Kind == domain.KindPasswordReset && !r.Used {
			delete(m.records, id)
		}
	}
	return m.insertLocked([]*domain.TokenRecord{rec})
}

func (m *MemoryRepository) CompleteReset(ctx context.Context, resetID, userID, passwordHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[resetID]
	if !ok || r.UserID != userID || r.Kind != domain.KindPasswordReset || !r.IsActive(now) {
		return false, nil
	}
	if m.SetPassword != nil {
		if err := m.SetPassword(userID, passwordHash, now); err != nil {
			return false, err
		}
	}
	markUsed(r, now)
	m.revokeAllLocked(userID, []domain.Kind{domain.KindAccess, domain.KindRefresh}, now)
	return true, nil
}

// Records returns a copy of every stored record.
func (m *MemoryRepository) Records() []domain.TokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TokenRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

var _ Repository = (*MemoryRepository)(nil)
