package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func ptr[T any](v T) *T { return &v }

// DefaultTiers returns the standard five-tier program configuration. Ranges
// are contiguous: each tier's MaxPoints is the next tier's MinPoints.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name: "bronze", DisplayName: "Bronze",
			MinPoints: 0, MaxPoints: ptr[int64](500),
			PointMultiplier: 1.00, DiscountPercentage: 0,
			Color: "#CD7F32", Icon: "medal", IsActive: true,
		},
		{
			Name: "silver", DisplayName: "Silver",
			MinPoints: 500, MaxPoints: ptr[int64](1500),
			PointMultiplier: 1.25, DiscountPercentage: 5,
			Color: "#C0C0C0", Icon: "medal", IsActive: true,
		},
		{
			Name: "gold", DisplayName: "Gold",
			MinPoints: 1500, MaxPoints: ptr[int64](5000),
			PointMultiplier: 1.50, DiscountPercentage: 10,
			FreeShipping: true, Color: "#FFD700", Icon: "trophy", IsActive: true,
		},
		{
			Name: "platinum", DisplayName: "Platinum",
			MinPoints: 5000, MaxPoints: ptr[int64](10000),
			PointMultiplier: 2.00, DiscountPercentage: 15,
			FreeShipping: true, PrioritySupport: true,
			Color: "#E5E4E2", Icon: "crown", IsActive: true,
		},
		{
			Name: "diamond", DisplayName: "Diamond",
			MinPoints:       10000,
			PointMultiplier: 2.50, DiscountPercentage: 20,
			FreeShipping: true, PrioritySupport: true, ExclusiveAccess: true,
			Color: "#B9F2FF", Icon: "gem", IsActive: true,
		},
	}
}

// DefaultRewards returns the starter reward catalog. Validity windows are
// anchored at seed time.
func DefaultRewards(now time.Time) []Reward {
	year := now.AddDate(1, 0, 0)
	return []Reward{
		{
			Name: "$5 Off Your Order", Description: "Flat $5 discount on any order.",
			Kind: RewardFlatAmount, PointsCost: 500, DiscountAmount: 5,
			ValidFrom: now, ValidUntil: year, IsActive: true,
		},
		{
			Name: "10% Off Your Order", Description: "10% off the cart subtotal.",
			Kind: RewardPercentage, PointsCost: 1000, DiscountPercentage: 10,
			ValidFrom: now, ValidUntil: year, IsActive: true,
		},
		{
			Name: "20% Off Your Order", Description: "20% off the cart subtotal.",
			Kind: RewardPercentage, PointsCost: 2000, DiscountPercentage: 20,
			ValidFrom: now, ValidUntil: year, IsActive: true,
		},
		{
			Name: "Free Shipping", Description: "Free shipping on one order.",
			Kind: RewardFreeShipping, PointsCost: 300, DiscountAmount: 10,
			ValidFrom: now, ValidUntil: year, IsActive: true,
		},
	}
}

// Seed installs the default tiers and rewards. It is idempotent: existing
// rows keyed by name are left untouched so operator edits survive restarts.
func Seed(db *gorm.DB, now time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, tier := range DefaultTiers() {
			tier.ID = uuid.New()
			tier.CreatedAt = now
			tier.UpdatedAt = now
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&tier).Error; err != nil {
				return err
			}
		}
		for _, reward := range DefaultRewards(now) {
			reward.ID = uuid.New()
			reward.CreatedAt = now
			reward.UpdatedAt = now
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&reward).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
