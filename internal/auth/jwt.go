package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleOperator is granted to clients allowed to override statuses and
// trigger refreshes.
const RoleOperator = "operator"

// Token types carried in the typ claim. A refresh token can only be
// exchanged for a new pair, never used to authenticate a request.
const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotAccess     = errors.New("token is not an access token")
	ErrNotRefresh    = errors.New("token is not a refresh token")
	errIssuer        = errors.New("issuer mismatch")
	errSigningMethod = errors.New("unexpected signing method")
)

// TokenPair holds an access token for requests and a refresh token for
// renewing the pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims is the JWT payload for both token types.
type Claims struct {
	Subject   string `json:"sub"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and validates operator tokens with a shared HS256 key.
type Issuer struct {
	issuer     string
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(issuer, key string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		issuer:     issuer,
		key:        []byte(key),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue returns a fresh token pair for a subject.
func (i *Issuer) Issue(subject, role string) (TokenPair, error) {
	accessExp := i.now().Add(i.accessTTL)
	refreshExp := i.now().Add(i.refreshTTL)

	access, err := i.sign(subject, role, typeAccess, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(subject, role, typeRefresh, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair, carrying the
// subject and role over.
func (i *Issuer) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := i.parse(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenType != typeRefresh {
		return TokenPair{}, ErrNotRefresh
	}
	return i.Issue(claims.Subject, claims.Role)
}

// Authenticate validates an access token and returns its claims.
func (i *Issuer) Authenticate(token string) (Claims, error) {
	claims, err := i.parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenType != typeAccess {
		return Claims{}, ErrNotAccess
	}
	return claims, nil
}

func (i *Issuer) sign(subject, role, tokenType string, exp time.Time) (string, error) {
	claims := Claims{
		Subject:   subject,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(i.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

func (i *Issuer) parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errSigningMethod
		}
		return i.key, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return Claims{}, errIssuer
	}
	return *claims, nil
}
