// Package rewards owns the redeemable reward catalog and the redemption
// workflow that claims rewards against the ledger.
package rewards

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/ledger"
	"loyaltyd/models"
)

// IsAvailable reports whether a reward can be redeemed at the given instant:
// it must be active, inside its validity window, and under its redemption cap.
func IsAvailable(reward *models.Reward, now time.Time) bool {
	if reward == nil || !reward.IsActive {
		return false
	}
	if reward.MaxRedemptions != nil && reward.CurrentRedemptions >= *reward.MaxRedemptions {
		return false
	}
	return !now.Before(reward.ValidFrom) && !now.After(reward.ValidUntil)
}

// Catalog reads reward definitions.
type Catalog struct {
	db *gorm.DB

	Now func() time.Time
}

// NewCatalog constructs a Catalog over the given database handle.
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db, Now: time.Now}
}

// Get loads one reward.
func (c *Catalog) Get(ctx context.Context, rewardID uuid.UUID) (*models.Reward, error) {
	var reward models.Reward
	if err := c.db.WithContext(ctx).First(&reward, "id = ?", rewardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	return &reward, nil
}

// List returns all currently available rewards ordered by cost.
func (c *Catalog) List(ctx context.Context) ([]models.Reward, error) {
	now := c.Now()
	var rewards []models.Reward
	err := c.db.WithContext(ctx).
		Where("is_active = ? AND valid_from <= ? AND valid_until >= ?", true, now, now).
		Order("points_cost asc").
		Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	available := rewards[:0]
	for _, r := range rewards {
		if IsAvailable(&r, now) {
			available = append(available, r)
		}
	}
	return available, nil
}

// ListAvailable returns the available rewards the account can afford.
func (c *Catalog) ListAvailable(ctx context.Context, accountID uuid.UUID) ([]models.Reward, error) {
	var account models.Account
	if err := c.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	affordable := all[:0]
	for _, r := range all {
		if r.PointsCost <= account.PointsBalance {
			affordable = append(affordable, r)
		}
	}
	return affordable, nil
}
