package auth

import (
	"context"
	"testing"
	"time"

	"Lifeline/pkg/cache"
	"Lifeline/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

type staticEpochs map[uint]int64

func (s staticEpochs) SessionEpoch(ctx context.Context, userID uint) (int64, error) {
	return s[userID], nil
}

func mintToken(t *testing.T, userID uint, epoch int64, ttl time.Duration) string {
	t.Helper()
	claims := &Claims{
		UserID:       userID,
		SessionEpoch: epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestBindAcceptsCurrentEpoch(t *testing.T) {
	b := NewBinder(testSecret, staticEpochs{7: 1700000000}, nil)

	uid, err := b.Bind(context.Background(), mintToken(t, 7, 1700000000, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint(7), uid)
}

func TestBindRefusesStaleEpoch(t *testing.T) {
	// A newer login bumped the epoch on record; this token predates it.
	b := NewBinder(testSecret, staticEpochs{7: 1700009999}, nil)

	_, err := b.Bind(context.Background(), mintToken(t, 7, 1700000000, time.Hour))
	require.Error(t, err)
	assert.Equal(t, errors.CodeDeviceMismatch, errors.GetCode(err))
}

func TestBindRefusesExpiredToken(t *testing.T) {
	b := NewBinder(testSecret, staticEpochs{7: 1700000000}, nil)

	_, err := b.Bind(context.Background(), mintToken(t, 7, 1700000000, -time.Minute))
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
}

func TestBindRefusesForgedSignature(t *testing.T) {
	b := NewBinder("a-different-secret", staticEpochs{7: 1700000000}, nil)

	_, err := b.Bind(context.Background(), mintToken(t, 7, 1700000000, time.Hour))
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
}

func TestBindCachesEpochLookups(t *testing.T) {
	epochs := staticEpochs{7: 1700000000}
	c := cache.NewLocalCache(cache.LocalConfig{})
	b := NewBinder(testSecret, epochs, c)

	token := mintToken(t, 7, 1700000000, time.Hour)
	_, err := b.Bind(context.Background(), token)
	require.NoError(t, err)

	// The record changes but the cached epoch still answers within the TTL.
	epochs[7] = 1700009999
	_, err = b.Bind(context.Background(), token)
	assert.NoError(t, err)
}
