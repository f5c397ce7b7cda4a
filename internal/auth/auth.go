package auth

import (
	"context"
	"fmt"
	"time"

	"Lifeline/pkg/cache"
	"Lifeline/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// epochCacheTTL bounds how stale a cached session epoch may be. A login on
// another device takes at most this long to start refusing old tokens here.
const epochCacheTTL = 30 * time.Second

// Claims is the payload of a bearer token minted by the auth service.
// SessionEpoch is the unix timestamp of the login that produced the token.
type Claims struct {
	UserID       uint  `json:"user_id"`
	SessionEpoch int64 `json:"session_epoch"`
	jwt.RegisteredClaims
}

// EpochSource yields the session epoch currently on record for a user.
type EpochSource interface {
	SessionEpoch(ctx context.Context, userID uint) (int64, error)
}

// Binder validates bearer credentials at connection establishment and
// enforces single-active-device sessions. A failed bind leaves no state.
type Binder struct {
	secret []byte
	epochs EpochSource
	cache  cache.Cache
}

func NewBinder(secret string, epochs EpochSource, c cache.Cache) *Binder {
	return &Binder{secret: []byte(secret), epochs: epochs, cache: c}
}

// Bind verifies the token's signature and expiry, then checks its session
// epoch against the value on record. It returns the bound user ID.
func (b *Binder) Bind(ctx context.Context, token string) (uint, error) {
	claims, err := b.parse(token)
	if err != nil {
		return 0, errors.WrapCode(errors.CodeUnauthorized, err, "invalid credential")
	}

	epoch, err := b.currentEpoch(ctx, claims.UserID)
	if err != nil {
		return 0, errors.WrapCode(errors.CodeUnauthorized, err, "session lookup failed")
	}
	if claims.SessionEpoch != epoch {
		return 0, errors.WithCode(errors.CodeDeviceMismatch, "DEVICE_MISMATCH: token predates latest login")
	}
	return claims.UserID, nil
}

func (b *Binder) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

func (b *Binder) currentEpoch(ctx context.Context, userID uint) (int64, error) {
	key := fmt.Sprintf("session_epoch:%d", userID)
	if b.cache != nil {
		if v, ok := b.cache.Get(ctx, key); ok {
			switch e := v.(type) {
			case int64:
				return e, nil
			case float64: // redis round-trips numbers as JSON
				return int64(e), nil
			}
		}
	}

	epoch, err := b.epochs.SessionEpoch(ctx, userID)
	if err != nil {
		return 0, err
	}
	if b.cache != nil {
		_ = b.cache.Set(ctx, key, epoch, epochCacheTTL)
	}
	return epoch, nil
}
