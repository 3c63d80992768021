package events

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/models"
)

// NotificationStore reads and updates the persisted loyalty notifications.
type NotificationStore struct {
	db *gorm.DB
}

// NewNotificationStore constructs a store over the given database handle.
func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// List returns an account's notifications, newest first.
func (s *NotificationStore) List(ctx context.Context, accountID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	q := s.db.WithContext(ctx).Where("account_id = ?", accountID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var notifications []models.Notification
	if err := q.Order("created_at desc").Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkAllRead flags every unread notification for the account as read.
func (s *NotificationStore) MarkAllRead(ctx context.Context, accountID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("account_id = ? AND read = ?", accountID, false).
		Update("read", true).Error
}
