package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Lifeline/internal/auth"
	"Lifeline/internal/models"
	"Lifeline/internal/realtime"
	"Lifeline/internal/store"
	"Lifeline/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "handler-test-secret"

func newTestHandlers(t *testing.T) (*Handlers, *gorm.DB, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := util.OpenDatabase(&gorm.Config{}, "", "")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.MedicalHistory{}, &models.Skill{},
		&models.Dependent{}, &models.Emergency{}, &models.PushSubscription{},
	))

	st := store.New(db)
	binder := auth.NewBinder(testSecret, st, nil)
	hub := realtime.NewHub(nil, nil)
	t.Cleanup(hub.Close)

	h := New(db, st, binder, hub)
	r := gin.New()
	h.Register(r, "1000-M", "/metrics")
	return h, db, r
}

func seedUser(t *testing.T, db *gorm.DB, epoch int64) uint {
	t.Helper()
	u := models.User{Username: "alice", Name: "Alice", SessionEpoch: epoch}
	require.NoError(t, db.Create(&u).Error)
	return u.ID
}

func mintToken(t *testing.T, userID uint, epoch int64) string {
	t.Helper()
	claims := &auth.Claims{
		UserID:       userID,
		SessionEpoch: epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestHealthReportsOK(t *testing.T) {
	_, _, r := newTestHandlers(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connections"`)
}

func TestSubscribePushPersists(t *testing.T) {
	h, db, r := newTestHandlers(t)
	uid := seedUser(t, db, 1700000000)
	token := mintToken(t, uid, 1700000000)

	body := bytes.NewBufferString(`{"endpoint":"https://p.example/a","keys":{"p256dh":"k","auth":"a"}}`)
	req := httptest.NewRequest(http.MethodPost, "/push/subscribe", body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	subs, err := h.store.PushSubscriptions(context.Background(), []uint{uid})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://p.example/a", subs[0].Endpoint)
	assert.True(t, subs[0].Enabled)
}

func TestUnsubscribePushDisables(t *testing.T) {
	h, db, r := newTestHandlers(t)
	uid := seedUser(t, db, 1700000000)
	token := mintToken(t, uid, 1700000000)

	require.NoError(t, h.store.SavePushSubscription(context.Background(), &models.PushSubscription{
		UserID: uid, Endpoint: "https://p.example/a",
	}))

	req := httptest.NewRequest(http.MethodDelete, "/push/subscribe", bytes.NewBufferString(`{"endpoint":"https://p.example/a"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	subs, err := h.store.PushSubscriptions(context.Background(), []uint{uid})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPushEndpointsRequireAuth(t *testing.T) {
	_, _, r := newTestHandlers(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push/subscribe", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebsocketRefusesStaleEpoch(t *testing.T) {
	_, db, r := newTestHandlers(t)
	uid := seedUser(t, db, 1700009999)
	token := mintToken(t, uid, 1700000000)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "DEVICE_MISMATCH")
}
