package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahaj/tutor-realtime/pkg/model"
)

// ErrUnauthenticated is returned for any credential that cannot be turned into an identity.
var ErrUnauthenticated = errors.New("unauthenticated")

const defaultRole = "student"

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

const UserKey contextKey = "user"

// Authenticator verifies HS256 bearer tokens presented when a connection opens.
type Authenticator struct {
	key []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{key: []byte(secret)}
}

// GenerateToken creates a signed token for a given user ID and role
func (a *Authenticator) GenerateToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

// Authenticate validates credential (raw or "Bearer "-prefixed) and returns the identity it carries.
func (a *Authenticator) Authenticate(credential string) (model.Identity, error) {
	tokenString := strings.TrimSpace(credential)
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return model.Identity{}, fmt.Errorf("%w: no token provided", ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if !token.Valid {
		return model.Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.UserID == "" {
		return model.Identity{}, fmt.Errorf("%w: token has no user_id", ErrUnauthenticated)
	}
	// ':' joins the two ids of a conversation key.
	if strings.Contains(claims.UserID, ":") {
		return model.Identity{}, fmt.Errorf("%w: user_id must not contain ':'", ErrUnauthenticated)
	}

	role := claims.Role
	if role == "" {
		role = defaultRole
	}
	return model.Identity{UserID: claims.UserID, Role: role}, nil
}

// IdentityFrom returns the identity stored on a request context by the HTTP auth middleware.
func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(UserKey).(model.Identity)
	return id, ok
}

func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, UserKey, id)
}
