package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyd/models"
	"loyaltyd/tier"
)

// AccountSnapshot is a read-only view of an account enriched with tier
// progress, suitable for display.
type AccountSnapshot struct {
	models.Account
	TierName         string  `json:"tier_name,omitempty"`
	PointsToNextTier int64   `json:"points_to_next_tier"`
	TierProgress     float64 `json:"tier_progress"`
}

// GetAccount returns a point-in-time snapshot of the account.
func (l *Ledger) GetAccount(ctx context.Context, accountID uuid.UUID) (AccountSnapshot, error) {
	var account models.Account
	if err := l.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AccountSnapshot{}, ErrAccountNotFound
		}
		return AccountSnapshot{}, err
	}
	return l.snapshot(ctx, account)
}

// GetOrCreateAccount returns the loyalty account for a user, creating an
// empty one on first contact.
func (l *Ledger) GetOrCreateAccount(ctx context.Context, userID string) (AccountSnapshot, error) {
	now := l.Now()
	account := models.Account{
		ID:           uuid.New(),
		UserID:       userID,
		JoinDate:     now,
		LastActivity: now,
		IsActive:     true,
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&account).Error
	if err != nil {
		return AccountSnapshot{}, err
	}
	var stored models.Account
	if err := l.db.WithContext(ctx).First(&stored, "user_id = ?", userID).Error; err != nil {
		return AccountSnapshot{}, err
	}
	return l.snapshot(ctx, stored)
}

func (l *Ledger) snapshot(ctx context.Context, account models.Account) (AccountSnapshot, error) {
	snap := AccountSnapshot{Account: account}
	table, err := tier.Load(l.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, tier.ErrNoTiers) {
			return snap, nil
		}
		return AccountSnapshot{}, err
	}
	if account.CurrentTierID != nil {
		if cur := table.ByID(*account.CurrentTierID); cur != nil {
			snap.TierName = cur.DisplayName
		}
	}
	snap.PointsToNextTier = table.PointsToNext(&account)
	snap.TierProgress = table.Progress(&account)
	return snap, nil
}

// TransactionFilter narrows a ledger history query.
type TransactionFilter struct {
	Type  models.TransactionType
	Since *time.Time
	Until *time.Time
	Limit int
}

// Transactions returns the account's ledger entries, newest first.
func (l *Ledger) Transactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]models.Transaction, error) {
	q := l.db.WithContext(ctx).Where("account_id = ?", accountID)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("created_at <= ?", *filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var entries []models.Transaction
	if err := q.Order("created_at desc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CheckInvariant recomputes the account balance from the transaction log and
// verifies it matches the stored balance: balance = lifetime - redeemed -
// expired (- negative adjustments), and never negative.
func (l *Ledger) CheckInvariant(ctx context.Context, accountID uuid.UUID) error {
	var account models.Account
	if err := l.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		return err
	}
	var sum int64
	row := l.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(points), 0)")
	if err := row.Scan(&sum).Error; err != nil {
		return err
	}
	if sum != account.PointsBalance {
		return errors.New("ledger: balance diverges from transaction log")
	}
	if account.PointsBalance < 0 {
		return errors.New("ledger: negative balance")
	}
	return nil
}
