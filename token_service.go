package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims are the JWT claims of a session token
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// TokenService signs and validates session tokens (HS256)
type TokenService struct {
	signingKey []byte
	expiration time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

// NewTokenService creates a new TokenService from cfg
func NewTokenService(cfg Config, logger Logger) *TokenService {
	if logger == nil {
		logger = defLogger()
	}
	return &TokenService{
		signingKey: []byte(cfg.GetSigningKey()),
		expiration: time.Duration(cfg.GetTokenExpiration()) * time.Hour,
		issuer:     cfg.GetIssuer(),
		audience:   jwt.ClaimStrings(cfg.GetAudience()),
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock injects a custom clock (useful for tests).
func (ts *TokenService) WithClock(clock func() time.Time) *TokenService {
	if clock != nil {
		ts.now = clock
	}
	return ts
}

// Generate creates a signed session for account
func (ts *TokenService) Generate(account *Account) (*Session, error) {
	if account == nil {
		return nil, goerrors.New("account must not be nil", goerrors.CategoryInternal)
	}
	if len(ts.signingKey) == 0 {
		return nil, goerrors.New("session signing key is not configured", goerrors.CategoryInternal)
	}

	now := ts.now().Truncate(time.Second)
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   account.ID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.expiration)),
		},
		Username: account.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	session := sessionFromClaims(claims)
	session.Token = signed
	return session, nil
}

// Validate parses and validates a token string
func (ts *TokenService) Validate(tokenString string) (*Session, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("unexpected session signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrUnableToDecodeSession
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrUnableToDecodeSession
	}

	session := sessionFromClaims(claims)
	if session.AccountID == uuid.Nil {
		return nil, ErrUnableToDecodeSession
	}
	session.Token = tokenString
	return session, nil
}

func sessionFromClaims(claims *SessionClaims) *Session {
	session := &Session{
		ID:       claims.ID,
		Username: claims.Username,
		Issuer:   claims.Issuer,
		Audience: claims.Audience,
	}
	if id, err := uuid.Parse(claims.Subject); err == nil {
		session.AccountID = id
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}
