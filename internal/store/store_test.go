package store

import (
	"context"
	"testing"
	"time"

	"Lifeline/internal/models"
	"Lifeline/pkg/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := util.OpenDatabase(&gorm.Config{}, "", "")
	require.NoError(t, err)
	// A pooled second connection would see its own empty in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.MedicalHistory{}, &models.Skill{},
		&models.Dependent{}, &models.Emergency{}, &models.PushSubscription{},
	))
	return New(db)
}

func seedUser(t *testing.T, s Store, name string) uint {
	t.Helper()
	gs := s.(*gormStore)
	u := models.User{Username: name, Name: name}
	require.NoError(t, gs.db.Create(&u).Error)
	return u.ID
}

func newEmergency(userID uint, active bool) *models.Emergency {
	now := time.Now()
	return &models.Emergency{
		ID:        uuid.NewString(),
		UserID:    userID,
		IsActive:  active,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
		Latitude:  1.30,
		Longitude: 103.80,
	}
}

func TestDeactivateActiveFlipsAndReturnsPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "alice")

	e1 := newEmergency(uid, true)
	e2 := newEmergency(uid, false)
	require.NoError(t, s.CreateEmergency(ctx, e1))
	require.NoError(t, s.CreateEmergency(ctx, e2))

	flipped, err := s.DeactivateActive(ctx, uid)
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, e1.ID, flipped[0].ID)

	got, err := s.GetEmergency(ctx, e1.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// A second call finds nothing active.
	flipped, err = s.DeactivateActive(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, flipped)
}

func TestDeactivateIfActiveIsCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "bob")

	e := newEmergency(uid, true)
	require.NoError(t, s.CreateEmergency(ctx, e))

	did, err := s.DeactivateIfActive(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, did)

	// Second flip is a no-op, not an error.
	did, err = s.DeactivateIfActive(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, did)
}

func TestUpdateLocationLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "carol")

	require.NoError(t, s.UpdateLocation(ctx, uid, 1.30, 103.80))
	require.NoError(t, s.UpdateLocation(ctx, uid, 1.35, 103.85))

	u, err := s.GetUser(ctx, uid)
	require.NoError(t, err)
	require.True(t, u.HasLocation())
	assert.Equal(t, 1.35, *u.Latitude)
	assert.Equal(t, 103.85, *u.Longitude)
}

func TestRespondersWithLocationExcludesRequesterAndUnlocated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	raiser := seedUser(t, s, "raiser")
	near := seedUser(t, s, "near")
	_ = seedUser(t, s, "nowhere") // never reports a location

	require.NoError(t, s.UpdateLocation(ctx, raiser, 1.30, 103.80))
	require.NoError(t, s.UpdateLocation(ctx, near, 1.31, 103.80))

	out, err := s.RespondersWithLocation(ctx, raiser)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, near, out[0].ID)
}

func TestExpireOverdueSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "dave")

	stale := newEmergency(uid, true)
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	fresh := newEmergency(uid, true)
	require.NoError(t, s.CreateEmergency(ctx, stale))
	require.NoError(t, s.CreateEmergency(ctx, fresh))

	swept, err := s.ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, stale.ID, swept[0].ID)

	active, err := s.ActiveEmergencies(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)
}

func TestAttachAssessmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "erin")

	e := newEmergency(uid, true)
	require.NoError(t, s.CreateEmergency(ctx, e))

	require.NoError(t, s.AttachAssessment(ctx, e.ID, `{"condition":"Bleeding","severity":"High","reasoning":"r","action":"a","location":"l"}`))

	got, err := s.GetEmergency(ctx, e.ID)
	require.NoError(t, err)
	a, ok := got.DecodeAssessment()
	require.True(t, ok)
	assert.Equal(t, "Bleeding", a.Condition)
	assert.Equal(t, "High", a.Severity)
}

func TestSavePushSubscriptionUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "frank")

	sub := &models.PushSubscription{UserID: uid, Endpoint: "https://push/1", P256DH: "k1", Auth: "a1"}
	require.NoError(t, s.SavePushSubscription(ctx, sub))

	// Same endpoint again refreshes keys instead of duplicating.
	again := &models.PushSubscription{UserID: uid, Endpoint: "https://push/1", P256DH: "k2", Auth: "a2"}
	require.NoError(t, s.SavePushSubscription(ctx, again))

	gs := s.(*gormStore)
	var subs []models.PushSubscription
	require.NoError(t, gs.db.Where("user_id = ?", uid).Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256DH)
	assert.True(t, subs[0].Enabled)

	require.NoError(t, s.DisablePushSubscriptions(ctx, uid, ""))
	require.NoError(t, gs.db.Where("user_id = ?", uid).Find(&subs).Error)
	assert.False(t, subs[0].Enabled)
}

func TestSessionEpoch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gs := s.(*gormStore)

	u := models.User{Username: "gail", SessionEpoch: 1700000000}
	require.NoError(t, gs.db.Create(&u).Error)

	epoch, err := s.SessionEpoch(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), epoch)
}
