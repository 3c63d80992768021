// Package accrual is the explicit entry point for the activities that award
// points: order delivery and qualifying product reviews. The surrounding
// order and review workflows call these functions at the site where the
// activity completes, so every accrual is visible in the caller's code path.
package accrual

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/ledger"
	"loyaltyd/models"
)

// Accrual awards points for store activity.
type Accrual struct {
	db     *gorm.DB
	ledger *ledger.Ledger

	// ReviewPoints is the flat award for a qualifying review.
	ReviewPoints int64
	// ReviewMinRating gates review awards to favourable reviews.
	ReviewMinRating int
	// Now is injectable for tests.
	Now func() time.Time
}

// New constructs the accrual entry points.
func New(db *gorm.DB, lg *ledger.Ledger) *Accrual {
	return &Accrual{
		db:              db,
		ledger:          lg,
		ReviewPoints:    10,
		ReviewMinRating: 4,
		Now:             time.Now,
	}
}

// OrderDelivered awards purchase points when an order reaches the delivered
// state: one point per whole dollar of the order total. Totals under a dollar
// award nothing.
func (a *Accrual) OrderDelivered(ctx context.Context, accountID uuid.UUID, orderTotal float64, orderNumber string) (ledger.EarnResult, error) {
	points := int64(orderTotal)
	if points <= 0 {
		return ledger.EarnResult{}, nil
	}
	orderID := orderNumber
	result, err := a.ledger.Earn(ctx, accountID, points, models.SourcePurchase,
		fmt.Sprintf("Purchase points for order #%s", orderNumber), &orderID)
	if err != nil {
		return ledger.EarnResult{}, err
	}
	a.notifyEarned(ctx, accountID, result.Adjusted,
		fmt.Sprintf("You earned %d points for your purchase of $%.2f.", result.Adjusted, orderTotal))
	return result, nil
}

// ReviewPosted awards review points for favourable reviews. Reviews below the
// minimum rating award nothing.
func (a *Accrual) ReviewPosted(ctx context.Context, accountID uuid.UUID, rating int, productName string) (ledger.EarnResult, error) {
	if rating < a.ReviewMinRating {
		return ledger.EarnResult{}, nil
	}
	result, err := a.ledger.Earn(ctx, accountID, a.ReviewPoints, models.SourceReview,
		fmt.Sprintf("Review points for %s", productName), nil)
	if err != nil {
		return ledger.EarnResult{}, err
	}
	a.notifyEarned(ctx, accountID, result.Adjusted,
		fmt.Sprintf("You earned %d points for reviewing %s.", result.Adjusted, productName))
	return result, nil
}

// ReferralCompleted awards referral bonus points.
func (a *Accrual) ReferralCompleted(ctx context.Context, accountID uuid.UUID, points int64, referredUser string) (ledger.EarnResult, error) {
	result, err := a.ledger.Earn(ctx, accountID, points, models.SourceReferral,
		fmt.Sprintf("Referral bonus for %s", referredUser), nil)
	if err != nil {
		return ledger.EarnResult{}, err
	}
	a.notifyEarned(ctx, accountID, result.Adjusted,
		fmt.Sprintf("You earned %d referral bonus points.", result.Adjusted))
	return result, nil
}

func (a *Accrual) notifyEarned(ctx context.Context, accountID uuid.UUID, points int64, message string) {
	notification := models.Notification{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      models.NotifyPointsEarned,
		Title:     "Points Earned!",
		Message:   message,
		CreatedAt: a.Now(),
	}
	// Best effort: a missing notification must not unwind a committed earn.
	_ = a.db.WithContext(ctx).Create(&notification).Error
}
