package tier

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/events"
	"loyaltyd/models"
)

// Engine decides tier membership from ledger state. Upgrades happen inside
// the caller's transaction so the tier change commits atomically with the
// accrual that triggered it. Downgrades never happen: evaluation uses
// lifetime points, which only grow.
type Engine struct{}

// Evaluate loads the active tier table from tx and returns the tier the given
// lifetime points qualify for, or nil.
func (e *Engine) Evaluate(tx *gorm.DB, lifetimePoints int64) (*models.Tier, error) {
	table, err := Load(tx)
	if err != nil {
		return nil, err
	}
	return table.Evaluate(lifetimePoints), nil
}

// CheckUpgrade compares the tier the account qualifies for against its
// current tier and promotes it when the evaluated tier sits strictly higher.
// On promotion it updates the account in place, persists a notification row,
// and returns the event for the caller to emit after commit.
func (e *Engine) CheckUpgrade(tx *gorm.DB, account *models.Account, now time.Time) (*events.TierUpgraded, error) {
	table, err := Load(tx)
	if err != nil {
		return nil, err
	}
	evaluated := table.Evaluate(account.LifetimePoints)
	if evaluated == nil {
		return nil, nil
	}
	if account.CurrentTierID != nil {
		current := table.ByID(*account.CurrentTierID)
		if current != nil && evaluated.MinPoints <= current.MinPoints {
			return nil, nil
		}
	}

	account.CurrentTierID = &evaluated.ID
	notification := models.Notification{
		ID:        uuid.New(),
		AccountID: account.ID,
		Kind:      models.NotifyTierUpgrade,
		Title:     fmt.Sprintf("Congratulations! You've reached %s tier!", evaluated.DisplayName),
		Message: fmt.Sprintf("You've been upgraded to %s tier with %.0f%% discount and exclusive benefits!",
			evaluated.DisplayName, evaluated.DiscountPercentage),
		CreatedAt: now,
	}
	if err := tx.Create(&notification).Error; err != nil {
		return nil, err
	}

	return &events.TierUpgraded{
		AccountID:          account.ID,
		TierID:             evaluated.ID,
		TierName:           evaluated.Name,
		DiscountPercentage: evaluated.DiscountPercentage,
		FreeShipping:       evaluated.FreeShipping,
		PrioritySupport:    evaluated.PrioritySupport,
		ExclusiveAccess:    evaluated.ExclusiveAccess,
	}, nil
}
