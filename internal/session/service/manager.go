// Package service manages token records: session issuance, refresh rotation,
// request authentication, revocation and session enumeration.
package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/security"
	"medconnect/backend/internal/session/domain"
	"medconnect/backend/internal/session/repository"
	userdomain "medconnect/backend/internal/user/domain"
)

// DefaultPairWindow is how far apart an access and a refresh record without a session id
// may have been created and still be listed as one session.
const DefaultPairWindow = 10 * time.Second

// UserRepo is the minimal user repository needed by the session manager.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetDoctorProfile(ctx context.Context, userID string) (*userdomain.DoctorProfile, error)
}

// Tokens is a freshly minted token pair. RefreshToken is empty for roles without refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	ExpiresAt time.Time
}

// Identity is the authenticated caller resolved from a bearer access token.
type Identity struct {
	User      *userdomain.User
	TokenHash string
	TokenJTI  string
	ExpiresAt time.Time
}

// TokenSummary describes one side of a session without exposing the token.
type TokenSummary struct {
	HashPrefix string
	ExpiresAt  time.Time
}

// SessionSummary is one logical session as listed to its owner.
type SessionSummary struct {
	CreatedAt time.Time
	ExpiresAt time.Time
	Access    *TokenSummary
	Refresh   *TokenSummary
}

// Manager owns the token record lifecycle.
type Manager struct {
	repo       repository.Repository
	users      UserRepo
	tokens     *security.TokenService
	pairWindow time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewManager returns a Manager. A non-positive pairWindow uses DefaultPairWindow.
func NewManager(repo repository.Repository, users UserRepo, tokens *security.TokenService, pairWindow time.Duration, log zerolog.Logger) *Manager {
	if pairWindow <= 0 {
		pairWindow = DefaultPairWindow
	}
	return &Manager{
		repo:       repo,
		users:      users,
		tokens:     tokens,
		pairWindow: pairWindow,
		log:        log.With().Str("component", "session").Logger(),
		now:        time.Now,
	}
}

// IssueSession mints tokens for u and persists a record per token.
func (m *Manager) IssueSession(ctx context.Context, u *userdomain.User) (*Tokens, error) {
	tokens, recs, err := m.mint(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, recs...); err != nil {
		return nil, apperror.Internal(err)
	}
	m.log.Debug().Str("user_id", u.ID).Str("role", string(u.Role)).Int("records", len(recs)).Msg("session issued")
	return tokens, nil
}

func (m *Manager) mint(userID string, role userdomain.Role) (*Tokens, []*domain.TokenRecord, error) {
	access, err := m.tokens.IssueAccess(userID, role)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	out := &Tokens{
		AccessToken: access.Token,
		ExpiresIn:   int64(access.TTL() / time.Second),
		ExpiresAt:   access.ExpiresAt,
	}
	sessionID := uuid.New().String()
	recs := []*domain.TokenRecord{newRecord(userID, sessionID, domain.KindAccess, access)}
	if role.Policy().IssuesRefresh() {
		refresh, err := m.tokens.IssueRefresh(userID, role)
		if err != nil {
			return nil, nil, apperror.Internal(err)
		}
		out.RefreshToken = refresh.Token
		recs = append(recs, newRecord(userID, sessionID, domain.KindRefresh, refresh))
	}
	return out, recs, nil
}

func newRecord(userID, sessionID string, kind domain.Kind, t security.IssuedToken) *domain.TokenRecord {
	return &domain.TokenRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Kind:      kind,
		TokenHash: security.HashToken(t.Token),
		CreatedAt: t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

// RotateRefresh exchanges a refresh token for a new pair. The old record is
// consumed and the new records are stored in one atomic step, so a given
// refresh token is accepted at most once.
func (m *Manager) RotateRefresh(ctx context.Context, raw string) (*Tokens, *userdomain.User, error) {
	claims, status := m.tokens.VerifyRefresh(raw)
	switch status {
	case security.StatusInvalid:
		return nil, nil, apperror.New(apperror.KindUnauthorized, "invalid refresh token")
	case security.StatusExpired:
		return nil, nil, apperror.New(apperror.KindTokenExpired, "refresh token expired, please log in again")
	}
	if !claims.Role.Policy().IssuesRefresh() {
		return nil, nil, apperror.New(apperror.KindUnauthorized, "sessions for this role cannot be refreshed")
	}

	now := m.now().UTC()
	rec, err := m.repo.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	if rec == nil || rec.Kind != domain.KindRefresh || !rec.IsActive(now) {
		m.log.Warn().Str("user_id", claims.UserID).Msg("refresh token reused or unknown")
		return nil, nil, apperror.New(apperror.KindTokenReusedOrInvalid, "refresh token already used or revoked")
	}
	if rec.UserID != claims.UserID {
		m.log.Warn().Str("user_id", claims.UserID).Str("record_user_id", rec.UserID).Msg("refresh token owner mismatch")
		return nil, nil, apperror.New(apperror.KindTokenMismatch, "refresh token does not belong to this user")
	}

	u, err := m.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	if u == nil || u.Role != claims.Role {
		return nil, nil, apperror.New(apperror.KindUnauthorized, "user not found")
	}
	if !u.IsActive() {
		return nil, nil, apperror.New(apperror.KindAccountInactive, "account is not active")
	}
	if err := m.RequireValidatedDoctor(ctx, u); err != nil {
		return nil, nil, err
	}

	tokens, recs, err := m.mint(u.ID, u.Role)
	if err != nil {
		return nil, nil, err
	}
	ok, err := m.repo.Rotate(ctx, rec.ID, now, recs...)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	if !ok {
		m.log.Warn().Str("user_id", u.ID).Msg("refresh rotation lost race")
		return nil, nil, apperror.New(apperror.KindTokenReusedOrInvalid, "refresh token already used or revoked")
	}
	return tokens, u, nil
}

// Authenticate resolves a bearer access token. The token must verify, its record
// must still be unused and its user must be active with the role the token names.
func (m *Manager) Authenticate(ctx context.Context, raw string) (*Identity, error) {
	claims, status := m.tokens.VerifyAccess(raw)
	switch status {
	case security.StatusInvalid:
		return nil, apperror.New(apperror.KindUnauthorized, "invalid access token")
	case security.StatusExpired:
		return nil, apperror.New(apperror.KindTokenExpired, "access token expired")
	}
	hash := security.HashToken(raw)
	rec, err := m.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if rec == nil || rec.Kind != domain.KindAccess || rec.UserID != claims.UserID || !rec.IsActive(m.now().UTC()) {
		return nil, apperror.New(apperror.KindUnauthorized, "session revoked")
	}
	u, err := m.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if u == nil || !u.IsActive() || u.Role != claims.Role {
		return nil, apperror.New(apperror.KindUnauthorized, "user not found or inactive")
	}
	return &Identity{User: u, TokenHash: hash, TokenJTI: claims.JTI, ExpiresAt: claims.ExpiresAt}, nil
}

// RequireValidatedDoctor returns DOCTOR_NOT_VALIDATED for a doctor whose account is not approved.
// Other roles pass.
func (m *Manager) RequireValidatedDoctor(ctx context.Context, u *userdomain.User) error {
	if !u.Role.Policy().RequiresValidation {
		return nil
	}
	profile, err := m.users.GetDoctorProfile(ctx, u.ID)
	if err != nil {
		return apperror.Internal(err)
	}
	if !profile.IsValidated() {
		return apperror.New(apperror.KindDoctorNotValidated, "doctor account is not validated")
	}
	return nil
}

// RevokeSession logs out the session the access token belongs to.
func (m *Manager) RevokeSession(ctx context.Context, userID, rawAccess string) (int64, error) {
	n, err := m.repo.RevokeSession(ctx, userID, security.HashToken(rawAccess), m.now().UTC())
	if err != nil {
		return 0, apperror.Internal(err)
	}
	return n, nil
}

// RevokeAll logs out every session of the user and drops any reset in flight.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	kinds := []domain.Kind{domain.KindAccess, domain.KindRefresh, domain.KindPasswordReset}
	n, err := m.repo.RevokeAll(ctx, userID, kinds, m.now().UTC())
	if err != nil {
		return 0, apperror.Internal(err)
	}
	return n, nil
}

// ListSessions returns the user's active sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	recs, err := m.repo.ListActive(ctx, userID, m.now().UTC())
	if err != nil {
		return nil, apperror.Internal(err)
	}
	sessions := pairRecords(recs, m.pairWindow)
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionSummary{
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Access:    summarize(s.Access),
			Refresh:   summarize(s.Refresh),
		})
	}
	return out, nil
}

func summarize(r *domain.TokenRecord) *TokenSummary {
	if r == nil {
		return nil
	}
	return &TokenSummary{HashPrefix: security.HashPrefix(r.TokenHash), ExpiresAt: r.ExpiresAt}
}

// pairRecords groups records into sessions by session id. Records without one are
// matched by time: each access record takes the closest unpaired refresh record
// created within window of it. Leftover records form single-sided sessions.
func pairRecords(recs []*domain.TokenRecord, window time.Duration) []domain.Session {
	var out []domain.Session
	bySession := make(map[string]int)
	var accesses, refreshes []*domain.TokenRecord
	for _, r := range recs {
		if r.Kind != domain.KindAccess && r.Kind != domain.KindRefresh {
			continue
		}
		if r.SessionID == "" {
			if r.Kind == domain.KindAccess {
				accesses = append(accesses, r)
			} else {
				refreshes = append(refreshes, r)
			}
			continue
		}
		i, ok := bySession[r.SessionID]
		if !ok {
			i = len(out)
			bySession[r.SessionID] = i
			out = append(out, domain.Session{})
		}
		attach(&out[i], r)
	}

	paired := make([]bool, len(refreshes))
	for _, a := range accesses {
		best := -1
		var bestGap time.Duration
		for i, r := range refreshes {
			if paired[i] {
				continue
			}
			gap := absDuration(r.CreatedAt.Sub(a.CreatedAt))
			if gap <= window && (best < 0 || gap < bestGap) {
				best, bestGap = i, gap
			}
		}
		var s domain.Session
		attach(&s, a)
		if best >= 0 {
			paired[best] = true
			attach(&s, refreshes[best])
		}
		out = append(out, s)
	}
	for i, r := range refreshes {
		if !paired[i] {
			var s domain.Session
			attach(&s, r)
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// attach adds r to s. A session spans from its earliest record to its latest expiry.
func attach(s *domain.Session, r *domain.TokenRecord) {
	if r.Kind == domain.KindAccess {
		s.Access = r
	} else {
		s.Refresh = r
	}
	if s.CreatedAt.IsZero() || r.CreatedAt.Before(s.CreatedAt) {
		s.CreatedAt = r.CreatedAt
	}
	if r.ExpiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = r.ExpiresAt
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
