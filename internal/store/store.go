package store

import (
	"context"
	"time"

	"Lifeline/internal/models"

	"gorm.io/gorm"
)

// Store is the durable side of the dispatch core. The emergency table is the
// single source of truth; everything else (registry, timers) is rebuilt from
// it after a restart.
type Store interface {
	CreateEmergency(ctx context.Context, e *models.Emergency) error
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
	// DeactivateActive flips every active emergency of the user and returns
	// the records that were flipped.
	DeactivateActive(ctx context.Context, userID uint) ([]models.Emergency, error)
	// DeactivateIfActive is a compare-and-set: it flips the record only if
	// still active and reports whether it did.
	DeactivateIfActive(ctx context.Context, id string) (bool, error)
	ActiveEmergencies(ctx context.Context) ([]models.Emergency, error)
	AttachAssessment(ctx context.Context, id string, assessment string) error
	AttachAEDSnapshot(ctx context.Context, id string, snapshot string) error
	// ExpireOverdue deactivates records whose ExpiresAt has passed; used by
	// the crash-recovery sweep, the engine timers handle the live path.
	ExpireOverdue(ctx context.Context, now time.Time) ([]models.Emergency, error)

	GetUser(ctx context.Context, userID uint) (*models.User, error)
	UpdateLocation(ctx context.Context, userID uint, lat, lng float64) error
	// RespondersWithLocation returns every user except exclude that has a
	// last-known coordinate on record.
	RespondersWithLocation(ctx context.Context, exclude uint) ([]models.User, error)

	SessionEpoch(ctx context.Context, userID uint) (int64, error)

	SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error
	DisablePushSubscriptions(ctx context.Context, userID uint, endpoint string) error
	// PushSubscriptions returns the enabled subscriptions of the given users.
	PushSubscriptions(ctx context.Context, userIDs []uint) ([]models.PushSubscription, error)
}

type gormStore struct {
	db *gorm.DB
}

// New wraps a gorm handle in the Store interface.
func New(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) CreateEmergency(ctx context.Context, e *models.Emergency) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *gormStore) GetEmergency(ctx context.Context, id string) (*models.Emergency, error) {
	var e models.Emergency
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *gormStore) DeactivateActive(ctx context.Context, userID uint) ([]models.Emergency, error) {
	var actives []models.Emergency
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND is_active = ?", userID, true).Find(&actives).Error; err != nil {
			return err
		}
		if len(actives) == 0 {
			return nil
		}
		return tx.Model(&models.Emergency{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Update("is_active", false).Error
	})
	if err != nil {
		return nil, err
	}
	return actives, nil
}

func (s *gormStore) DeactivateIfActive(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Emergency{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) ActiveEmergencies(ctx context.Context) ([]models.Emergency, error) {
	var out []models.Emergency
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) AttachAssessment(ctx context.Context, id string, assessment string) error {
	return s.db.WithContext(ctx).Model(&models.Emergency{}).
		Where("id = ?", id).
		Update("assessment", assessment).Error
}

func (s *gormStore) AttachAEDSnapshot(ctx context.Context, id string, snapshot string) error {
	return s.db.WithContext(ctx).Model(&models.Emergency{}).
		Where("id = ?", id).
		Update("aed_snapshot", snapshot).Error
}

func (s *gormStore) ExpireOverdue(ctx context.Context, now time.Time) ([]models.Emergency, error) {
	var overdue []models.Emergency
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("is_active = ? AND expires_at <= ?", true, now).Find(&overdue).Error; err != nil {
			return err
		}
		if len(overdue) == 0 {
			return nil
		}
		return tx.Model(&models.Emergency{}).
			Where("is_active = ? AND expires_at <= ?", true, now).
			Update("is_active", false).Error
	})
	if err != nil {
		return nil, err
	}
	return overdue, nil
}

func (s *gormStore) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		Preload("Medical").
		Preload("Skills").
		First(&u, userID).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) UpdateLocation(ctx context.Context, userID uint, lat, lng float64) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"latitude": lat, "longitude": lng}).Error
}

func (s *gormStore) RespondersWithLocation(ctx context.Context, exclude uint) ([]models.User, error) {
	var out []models.User
	err := s.db.WithContext(ctx).
		Where("id <> ? AND latitude IS NOT NULL AND longitude IS NOT NULL", exclude).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) SessionEpoch(ctx context.Context, userID uint) (int64, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Select("session_epoch").First(&u, userID).Error; err != nil {
		return 0, err
	}
	return u.SessionEpoch, nil
}

func (s *gormStore) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	var existing models.PushSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", sub.UserID, sub.Endpoint).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		sub.Enabled = true
		return s.db.WithContext(ctx).Create(sub).Error
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&existing).
		Updates(map[string]interface{}{"p256dh": sub.P256DH, "auth": sub.Auth, "enabled": true}).Error
}

func (s *gormStore) PushSubscriptions(ctx context.Context, userIDs []uint) ([]models.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var out []models.PushSubscription
	err := s.db.WithContext(ctx).
		Where("user_id IN ? AND enabled = ?", userIDs, true).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) DisablePushSubscriptions(ctx context.Context, userID uint, endpoint string) error {
	q := s.db.WithContext(ctx).Model(&models.PushSubscription{}).Where("user_id = ?", userID)
	if endpoint != "" {
		q = q.Where("endpoint = ?", endpoint)
	}
	return q.Update("enabled", false).Error
}
