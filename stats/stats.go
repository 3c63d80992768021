// Package stats computes daily program aggregates for admin reporting. The
// tier distribution is stored as typed per-tier rows rather than a free-form
// map, so downstream consumers work against known tier identifiers.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/models"
)

// Collector computes and stores daily aggregates.
type Collector struct {
	db *gorm.DB
}

// NewCollector constructs a Collector over the given database handle.
func NewCollector(db *gorm.DB) *Collector {
	return &Collector{db: db}
}

// Snapshot computes the aggregates for the calendar day containing the given
// instant and stores them, replacing any earlier snapshot for that day.
func (c *Collector) Snapshot(ctx context.Context, at time.Time) (*models.DailyStats, error) {
	day := at.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	stats := models.DailyStats{
		ID:        uuid.New(),
		Date:      day,
		CreatedAt: at,
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Account{}).Count(&stats.TotalAccounts).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Account{}).Where("is_active = ?", true).Count(&stats.ActiveAccounts).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Transaction{}).
			Where("type = ? AND created_at >= ? AND created_at < ?", models.TxEarned, day, next).
			Select("COALESCE(SUM(points), 0)").Scan(&stats.TotalPointsEarned).Error; err != nil {
			return err
		}
		var redeemed int64
		if err := tx.Model(&models.Transaction{}).
			Where("type = ? AND created_at >= ? AND created_at < ?", models.TxRedeemed, day, next).
			Select("COALESCE(SUM(points), 0)").Scan(&redeemed).Error; err != nil {
			return err
		}
		stats.TotalPointsRedeemed = -redeemed
		if err := tx.Model(&models.Redemption{}).
			Where("redeemed_at >= ? AND redeemed_at < ?", day, next).
			Count(&stats.TotalRedemptions).Error; err != nil {
			return err
		}

		var tiers []models.Tier
		if err := tx.Where("is_active = ?", true).Order("min_points asc").Find(&tiers).Error; err != nil {
			return err
		}
		for _, t := range tiers {
			var count int64
			if err := tx.Model(&models.Account{}).Where("current_tier_id = ?", t.ID).Count(&count).Error; err != nil {
				return err
			}
			stats.TierCounts = append(stats.TierCounts, models.TierCount{
				ID:       uuid.New(),
				StatsID:  stats.ID,
				TierID:   t.ID,
				TierName: t.Name,
				Accounts: count,
			})
		}

		var existing models.DailyStats
		if err := tx.Where("date = ?", day).First(&existing).Error; err == nil {
			if err := tx.Where("stats_id = ?", existing.ID).Delete(&models.TierCount{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		}
		return tx.Create(&stats).Error
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Latest returns the most recent snapshot, or nil when none exists.
func (c *Collector) Latest(ctx context.Context) (*models.DailyStats, error) {
	var stats models.DailyStats
	err := c.db.WithContext(ctx).Preload("TierCounts").Order("date desc").First(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stats, nil
}
