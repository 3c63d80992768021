package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyd/events"
	"loyaltyd/ledger"
	"loyaltyd/models"
	"loyaltyd/observability"
)

// Workflow orchestrates reward claims: one claim spans a redemption row, a
// ledger debit, and a guarded increment of the reward's redemption counter,
// all inside a single database transaction.
type Workflow struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	emitter events.Emitter
	metrics *observability.EngineMetrics

	// TTL is how long a claimed redemption stays usable.
	TTL time.Duration
	// Cooldown blocks repeat claims of the same reward per account.
	Cooldown time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

// NewWorkflow constructs a redemption workflow.
func NewWorkflow(db *gorm.DB, lg *ledger.Ledger, emitter events.Emitter) *Workflow {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Workflow{
		db:       db,
		ledger:   lg,
		emitter:  emitter,
		metrics:  observability.Metrics(),
		TTL:      30 * 24 * time.Hour,
		Cooldown: 30 * 24 * time.Hour,
		Now:      time.Now,
	}
}

// Redeem claims a reward for an account. Failure checks run in spec order:
// missing reward, unavailable reward, insufficient balance, cooldown
// violation. On success the redemption starts active and expires after TTL.
func (w *Workflow) Redeem(ctx context.Context, accountID, rewardID uuid.UUID) (*models.Redemption, error) {
	started := w.Now()
	defer func() { w.metrics.ObserveOp("redeem_reward", w.Now().Sub(started)) }()

	var (
		redemption *models.Redemption
		reward     *models.Reward
	)
	err := w.ledger.WithRetry(ctx, func() error {
		return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			redemption, reward, err = w.RedeemTx(tx, accountID, rewardID)
			return err
		})
	})
	if err != nil {
		w.metrics.ObserveRedemption(outcomeFor(err))
		return nil, err
	}

	w.metrics.ObserveRedemption("success")
	w.metrics.AddPointsRedeemed(redemption.PointsUsed)
	w.emitter.Emit(ctx, events.RewardRedeemed{
		AccountID:    accountID,
		RewardID:     rewardID,
		RedemptionID: redemption.ID,
		RewardName:   reward.Name,
		PointsUsed:   redemption.PointsUsed,
	})
	return redemption, nil
}

// RedeemTx performs the claim inside an existing transaction so callers such
// as cart checkout can bundle it with their own writes. The caller owns
// commit, rollback, and post-commit event emission.
func (w *Workflow) RedeemTx(tx *gorm.DB, accountID, rewardID uuid.UUID) (*models.Redemption, *models.Reward, error) {
	var reward models.Reward
	if err := tx.First(&reward, "id = ?", rewardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRewardNotFound
		}
		return nil, nil, err
	}

	now := w.Now()
	if !IsAvailable(&reward, now) {
		return nil, nil, ErrRewardUnavailable
	}

	var account models.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ledger.ErrAccountNotFound
		}
		return nil, nil, err
	}
	if account.PointsBalance < reward.PointsCost {
		return nil, nil, ledger.ErrInsufficientBalance
	}

	var recent int64
	err := tx.Model(&models.Redemption{}).
		Where("account_id = ? AND reward_id = ? AND status IN ? AND redeemed_at >= ?",
			accountID, rewardID,
			[]models.RedemptionStatus{models.RedemptionPending, models.RedemptionActive},
			now.Add(-w.Cooldown)).
		Count(&recent).Error
	if err != nil {
		return nil, nil, err
	}
	if recent > 0 {
		return nil, nil, ErrDuplicateRedemption
	}

	redemption := models.Redemption{
		ID:         uuid.New(),
		AccountID:  accountID,
		RewardID:   rewardID,
		PointsUsed: reward.PointsCost,
		Status:     models.RedemptionActive,
		RedeemedAt: now,
		ExpiresAt:  now.Add(w.TTL),
	}
	if err := tx.Create(&redemption).Error; err != nil {
		return nil, nil, err
	}

	if _, err := w.ledger.DebitTx(tx, accountID, reward.PointsCost, models.SourceRedemption,
		fmt.Sprintf("Redeemed reward: %s", reward.Name), nil); err != nil {
		return nil, nil, err
	}

	// Compare-and-increment: the WHERE clause re-checks the cap so a
	// concurrent claim of the last slot rolls the whole claim back.
	res := tx.Model(&models.Reward{}).
		Where("id = ? AND (max_redemptions IS NULL OR current_redemptions < max_redemptions)", rewardID).
		UpdateColumn("current_redemptions", gorm.Expr("current_redemptions + 1"))
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil, ErrRewardUnavailable
	}

	notification := models.Notification{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      models.NotifyRewardRedeemed,
		Title:     "Reward Redeemed Successfully!",
		Message:   fmt.Sprintf("You have successfully redeemed %s. Your reward is valid for %d days.", reward.Name, int(w.TTL.Hours()/24)),
		CreatedAt: now,
	}
	if err := tx.Create(&notification).Error; err != nil {
		return nil, nil, err
	}
	return &redemption, &reward, nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrRewardNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrRewardUnavailable):
		return "unavailable"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDuplicateRedemption):
		return "duplicate"
	default:
		return "error"
	}
}

// MarkUsed transitions a redemption to used when its order completes.
func (w *Workflow) MarkUsed(ctx context.Context, redemptionID uuid.UUID, orderID string) error {
	return w.transition(ctx, redemptionID, models.RedemptionUsed, func(r *models.Redemption, now time.Time) {
		r.UsedAt = &now
		if orderID != "" {
			r.RelatedOrderID = &orderID
		}
	})
}

// Cancel is the administrator-initiated terminal transition. Points are not
// refunded; they were consumed at claim time.
func (w *Workflow) Cancel(ctx context.Context, redemptionID uuid.UUID) error {
	return w.transition(ctx, redemptionID, models.RedemptionCancelled, nil)
}

func (w *Workflow) transition(ctx context.Context, redemptionID uuid.UUID, next models.RedemptionStatus, mutate func(*models.Redemption, time.Time)) error {
	return w.ledger.WithRetry(ctx, func() error {
		return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var redemption models.Redemption
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&redemption, "id = ?", redemptionID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrRedemptionNotFound
				}
				return err
			}
			if err := ValidateTransition(redemption.Status, next); err != nil {
				return err
			}
			redemption.Status = next
			if mutate != nil {
				mutate(&redemption, w.Now())
			}
			return tx.Save(&redemption).Error
		})
	})
}

// ExpireStale sweeps active redemptions whose expiry has passed into the
// expired state. The sweep is idempotent and locks each row while it
// transitions. Points are not refunded; the claim consumed them.
func (w *Workflow) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var stale []models.Redemption
	err := w.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.RedemptionActive, now).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	expired := make([]events.RedemptionExpired, 0, len(stale))
	for _, candidate := range stale {
		id := candidate.ID
		var evt *events.RedemptionExpired
		err := w.ledger.WithRetry(ctx, func() error {
			evt = nil
			return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				var redemption models.Redemption
				if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&redemption, "id = ?", id).Error; err != nil {
					return err
				}
				// A concurrent sweep or an order completion may have moved it.
				if redemption.Status != models.RedemptionActive || redemption.ExpiresAt.After(now) {
					return nil
				}
				redemption.Status = models.RedemptionExpired
				if err := tx.Save(&redemption).Error; err != nil {
					return err
				}
				evt = &events.RedemptionExpired{
					AccountID:    redemption.AccountID,
					RedemptionID: redemption.ID,
					RewardID:     redemption.RewardID,
				}
				return nil
			})
		})
		if err != nil {
			return len(expired), err
		}
		if evt != nil {
			expired = append(expired, *evt)
		}
	}
	for _, evt := range expired {
		w.emitter.Emit(ctx, evt)
	}
	return len(expired), nil
}

// ListRedemptions returns an account's redemptions, newest first.
func (w *Workflow) ListRedemptions(ctx context.Context, accountID uuid.UUID) ([]models.Redemption, error) {
	var redemptions []models.Redemption
	err := w.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("redeemed_at desc").
		Find(&redemptions).Error
	if err != nil {
		return nil, err
	}
	return redemptions, nil
}
