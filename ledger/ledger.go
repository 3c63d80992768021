// Package ledger owns account point balances and the append-only transaction
// log. Every balance mutation in the service flows through this package and
// runs inside a row-locked database transaction, so a balance can never go
// negative and the log never diverges from the balances it explains.
package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyd/events"
	"loyaltyd/models"
	"loyaltyd/observability"
	"loyaltyd/tier"
)

// Ledger performs point accruals and spends against accounts.
type Ledger struct {
	db      *gorm.DB
	tiers   *tier.Engine
	emitter events.Emitter
	metrics *observability.EngineMetrics

	// Now is injectable for tests.
	Now func() time.Time
}

// New constructs a Ledger over the given database handle.
func New(db *gorm.DB, emitter events.Emitter) *Ledger {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Ledger{
		db:      db,
		tiers:   &tier.Engine{},
		emitter: emitter,
		metrics: observability.Metrics(),
		Now:     time.Now,
	}
}

// EarnResult reports the outcome of an accrual.
type EarnResult struct {
	NewBalance  int64        `json:"new_balance"`
	Adjusted    int64        `json:"adjusted_points"`
	TierChanged bool         `json:"tier_changed"`
	NewTier     *models.Tier `json:"new_tier,omitempty"`
}

// Earn credits points to an account. The account's tier multiplier scales the
// raw amount (floor of points x multiplier), the adjusted amount lands in both
// PointsBalance and LifetimePoints, and a tier upgrade check runs in the same
// transaction. Fails with ErrInvalidPoints when points is not positive.
func (l *Ledger) Earn(ctx context.Context, accountID uuid.UUID, points int64, source models.TransactionSource, description string, orderID *string) (EarnResult, error) {
	started := l.Now()
	defer func() { l.metrics.ObserveOp("earn", l.Now().Sub(started)) }()

	if points <= 0 {
		return EarnResult{}, ErrInvalidPoints
	}

	var (
		result   EarnResult
		upgraded *events.TierUpgraded
	)
	err := l.WithRetry(ctx, func() error {
		upgraded = nil
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := lockAccount(tx, accountID)
			if err != nil {
				return err
			}

			table, err := tier.Load(tx)
			if err != nil && !errors.Is(err, tier.ErrNoTiers) {
				return err
			}
			multiplier := 1.0
			if table != nil {
				multiplier = table.Multiplier(account)
			}
			adjusted := int64(math.Floor(float64(points) * multiplier))

			now := l.Now()
			entry := models.Transaction{
				ID:             uuid.New(),
				AccountID:      account.ID,
				Points:         adjusted,
				Type:           models.TxEarned,
				Source:         source,
				Description:    description,
				RelatedOrderID: orderID,
				CreatedAt:      now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}

			account.PointsBalance += adjusted
			account.LifetimePoints += adjusted
			account.LastActivity = now

			if table != nil {
				upgraded, err = l.tiers.CheckUpgrade(tx, account, now)
				if err != nil {
					return err
				}
			}

			if err := tx.Save(account).Error; err != nil {
				return err
			}

			result = EarnResult{NewBalance: account.PointsBalance, Adjusted: adjusted, TierChanged: upgraded != nil}
			if upgraded != nil {
				result.NewTier = table.ByID(upgraded.TierID)
			}
			return nil
		})
	})
	if err != nil {
		return EarnResult{}, err
	}

	l.metrics.AddPointsEarned(result.Adjusted)
	l.emitter.Emit(ctx, events.PointsEarned{
		AccountID:  accountID,
		Points:     points,
		Adjusted:   result.Adjusted,
		Source:     string(source),
		NewBalance: result.NewBalance,
	})
	if upgraded != nil {
		l.metrics.IncTierUpgrade()
		l.emitter.Emit(ctx, *upgraded)
	}
	return result, nil
}

// Redeem debits points from an account. Only PointsBalance decreases;
// LifetimePoints is untouched so tiers never regress from spending. Fails
// with ErrInvalidPoints or ErrInsufficientBalance.
func (l *Ledger) Redeem(ctx context.Context, accountID uuid.UUID, points int64, description string) (int64, error) {
	started := l.Now()
	defer func() { l.metrics.ObserveOp("redeem", l.Now().Sub(started)) }()

	if points <= 0 {
		return 0, ErrInvalidPoints
	}

	var newBalance int64
	err := l.WithRetry(ctx, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := l.DebitTx(tx, accountID, points, models.SourceRedemption, description, nil)
			if err != nil {
				return err
			}
			newBalance = balance
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	l.metrics.AddPointsRedeemed(points)
	return newBalance, nil
}

// DebitTx performs the redeem inside an existing transaction so callers can
// bundle the debit with their own writes into one atomic unit. The account
// row is locked for the duration of tx.
func (l *Ledger) DebitTx(tx *gorm.DB, accountID uuid.UUID, points int64, source models.TransactionSource, description string, orderID *string) (int64, error) {
	if points <= 0 {
		return 0, ErrInvalidPoints
	}
	account, err := lockAccount(tx, accountID)
	if err != nil {
		return 0, err
	}
	if points > account.PointsBalance {
		return 0, ErrInsufficientBalance
	}

	now := l.Now()
	entry := models.Transaction{
		ID:             uuid.New(),
		AccountID:      account.ID,
		Points:         -points,
		Type:           models.TxRedeemed,
		Source:         source,
		Description:    description,
		RelatedOrderID: orderID,
		CreatedAt:      now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, err
	}

	account.PointsBalance -= points
	account.LastActivity = now
	if err := tx.Save(account).Error; err != nil {
		return 0, err
	}
	return account.PointsBalance, nil
}

// Adjust applies an administrative correction. Positive deltas raise both
// balance and lifetime points; negative deltas lower the balance only and may
// not drive it negative.
func (l *Ledger) Adjust(ctx context.Context, accountID uuid.UUID, delta int64, description string) (int64, error) {
	if delta == 0 {
		return 0, ErrInvalidPoints
	}

	var newBalance int64
	err := l.WithRetry(ctx, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := lockAccount(tx, accountID)
			if err != nil {
				return err
			}
			if delta < 0 && -delta > account.PointsBalance {
				return ErrInsufficientBalance
			}

			now := l.Now()
			entry := models.Transaction{
				ID:          uuid.New(),
				AccountID:   account.ID,
				Points:      delta,
				Type:        models.TxAdjusted,
				Source:      models.SourceAdmin,
				Description: description,
				CreatedAt:   now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}

			account.PointsBalance += delta
			if delta > 0 {
				account.LifetimePoints += delta
			}
			account.LastActivity = now
			if err := tx.Save(account).Error; err != nil {
				return err
			}
			newBalance = account.PointsBalance
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// lockAccount loads the account row under a FOR UPDATE lock, serializing all
// read-check-write mutations per account.
func lockAccount(tx *gorm.DB, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	return &account, nil
}
