package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTokenTTL = 24 * time.Hour
	defaultSigningMethod  = "HS256"
)

var (
	ErrNoToken      = errors.New("authorization token not found")
	ErrInvalidToken = errors.New("authorization token is invalid")
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// If not set than default is used
	AccessTTL time.Duration
}

// Identity resolves the calling user from bearer token.
// Tokens are issued by the account service, wallet only verifies them
type Identity struct {
	key       string
	alg       jwt.SigningMethod
	accessTTL time.Duration
}

func New(cfg Config) (*Identity, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}

	return &Identity{
		key:       cfg.SecretKey,
		alg:       alg,
		accessTTL: cfg.AccessTTL,
	}, nil
}

// Issue signed access token for user
// Used by tooling and tests, production tokens come from account service
func (i *Identity) Issue(userID string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = i.accessTTL
	}
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(i.alg, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	})

	signed, err := token.SignedString([]byte(i.key))
	if err != nil {
		return "", fmt.Errorf("error while signing access token. Err: %w", err)
	}
	return signed, nil
}

// Parse and validate access token
func (i *Identity) ParseAccess(access string) (userID string, err error) {
	claims := &AccessTokenClaims{}

	_, err = jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(i.key), nil
		},
		jwt.WithValidMethods([]string{i.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.UserID == "" {
		return "", fmt.Errorf("%w: user id claim is empty", ErrInvalidToken)
	}

	return claims.UserID, nil
}

// Auth returns user id from 'Authorization: Bearer <token>' header
func (i *Identity) Auth(_ context.Context, r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrNoToken
	}

	return i.ParseAccess(token)
}
