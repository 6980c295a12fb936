package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medconnect/backend/internal/user/domain"
)

const minSecretLen = 32

var (
	// ErrWeakSecret is returned when the signing secret is shorter than 32 bytes.
	ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")
	// ErrNoRefreshForRole is returned when a refresh token is requested for a role that never receives one.
	ErrNoRefreshForRole = errors.New("role does not receive refresh tokens")
	// ErrUnknownRole is returned when issuing for a role outside the closed set.
	ErrUnknownRole = errors.New("unknown role")
)

// TokenKind discriminates access from refresh tokens inside the signed claims.
type TokenKind string

const (
	KindAccess  TokenKind = "ACCESS"
	KindRefresh TokenKind = "REFRESH"
)

// claims is the wire shape shared by both token kinds.
type claims struct {
	jwt.RegisteredClaims
	UserID string    `json:"userId"`
	Role   string    `json:"role"`
	Kind   TokenKind `json:"type"`
}

// AccessClaims are the decoded claims of an access token. Only VerifyAccess produces them.
type AccessClaims struct {
	UserID    string
	Role      domain.Role
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims are the decoded claims of a refresh token. Only VerifyRefresh produces them.
type RefreshClaims struct {
	UserID    string
	Role      domain.Role
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Status is the outcome of verifying a token.
type Status int

const (
	// StatusInvalid covers bad signatures, malformed tokens, wrong issuer and wrong kind.
	StatusInvalid Status = iota
	// StatusExpired means signature and kind are good but exp has passed; claims are still returned.
	StatusExpired
	StatusValid
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// IssuedToken is a freshly minted token.
type IssuedToken struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TTL is the token's lifetime.
func (t IssuedToken) TTL() time.Duration { return t.ExpiresAt.Sub(t.IssuedAt) }

// TokenService issues and verifies HS256 access and refresh tokens with role-parameterized lifetimes.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenService returns a TokenService signing with secret. The secret comes
// from configuration and must be at least 32 bytes.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// IssueAccess mints an access token for the user with the role's access TTL.
func (s *TokenService) IssueAccess(userID string, role domain.Role) (IssuedToken, error) {
	if !role.Valid() {
		return IssuedToken{}, ErrUnknownRole
	}
	return s.issue(userID, role, KindAccess, role.Policy().AccessTTL)
}

// IssueRefresh mints a refresh token with the role's refresh TTL. Roles without
// a refresh TTL (ADMIN) get ErrNoRefreshForRole.
func (s *TokenService) IssueRefresh(userID string, role domain.Role) (IssuedToken, error) {
	if !role.Valid() {
		return IssuedToken{}, ErrUnknownRole
	}
	p := role.Policy()
	if !p.IssuesRefresh() {
		return IssuedToken{}, ErrNoRefreshForRole
	}
	return s.issue(userID, role, KindRefresh, p.RefreshTTL)
}

func (s *TokenService) issue(userID string, role domain.Role, kind TokenKind, ttl time.Duration) (IssuedToken, error) {
	jti, err := generateJTI()
	if err != nil {
		return IssuedToken{}, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
		Role:   string(role),
		Kind:   kind,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, err
	}
	// NumericDate has second precision; report what the token actually carries.
	return IssuedToken{
		Token:     token,
		JTI:       jti,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// VerifyAccess verifies an access token. A refresh token is StatusInvalid here.
func (s *TokenService) VerifyAccess(token string) (*AccessClaims, Status) {
	c, st := s.verify(token, KindAccess)
	if c == nil {
		return nil, st
	}
	return &AccessClaims{
		UserID:    c.UserID,
		Role:      domain.Role(c.Role),
		JTI:       c.ID,
		IssuedAt:  timeOf(c.IssuedAt),
		ExpiresAt: timeOf(c.ExpiresAt),
	}, st
}

// VerifyRefresh verifies a refresh token. An access token is StatusInvalid here.
func (s *TokenService) VerifyRefresh(token string) (*RefreshClaims, Status) {
	c, st := s.verify(token, KindRefresh)
	if c == nil {
		return nil, st
	}
	return &RefreshClaims{
		UserID:    c.UserID,
		Role:      domain.Role(c.Role),
		JTI:       c.ID,
		IssuedAt:  timeOf(c.IssuedAt),
		ExpiresAt: timeOf(c.ExpiresAt),
	}, st
}

func (s *TokenService) verify(tokenString string, want TokenKind) (*claims, Status) {
	if tokenString == "" {
		return nil, StatusInvalid
	}
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	status := StatusValid
	switch {
	case err == nil && token.Valid:
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid):
		// Signature is checked before claims, so an expired error means the payload is authentic.
		status = StatusExpired
	default:
		return nil, StatusInvalid
	}
	if c.Issuer != s.issuer || c.Kind != want || c.UserID == "" || !domain.Role(c.Role).Valid() {
		return nil, StatusInvalid
	}
	return c, status
}

func timeOf(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
