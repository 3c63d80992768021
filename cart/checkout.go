package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyd/events"
	"loyaltyd/models"
)

// Checkout commits the cart's discounts to the ledger as the order is placed
// and clears them from the cart. A points discount debits the points it
// reserved; a reward discount claims the reward and marks the redemption used
// against the order. Everything happens in one transaction: if any debit
// fails, no discount is consumed and the rows stay on the cart.
func (c *Calculator) Checkout(ctx context.Context, cartID uuid.UUID, orderID string) (Totals, error) {
	var (
		totals  Totals
		emitted []events.Event
	)
	err := c.ledger.WithRetry(ctx, func() error {
		return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			emitted = emitted[:0]

			var cart models.Cart
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cart, "id = ?", cartID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrCartNotFound
				}
				return err
			}

			var discounts []models.CartDiscount
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("cart_id = ?", cartID).Find(&discounts).Error; err != nil {
				return err
			}

			now := c.Now()
			for _, d := range discounts {
				switch d.DiscountType {
				case models.DiscountLoyaltyPoints:
					if _, err := c.ledger.DebitTx(tx, d.AccountID, d.PointsUsed, models.SourceRedemption,
						fmt.Sprintf("Points discount for order %s", orderID), &orderID); err != nil {
						return err
					}
				case models.DiscountLoyaltyReward:
					if d.RewardID == nil {
						continue
					}
					redemption, reward, err := c.workflow.RedeemTx(tx, d.AccountID, *d.RewardID)
					if err != nil {
						return err
					}
					redemption.Status = models.RedemptionUsed
					redemption.UsedAt = &now
					redemption.RelatedOrderID = &orderID
					if err := tx.Save(redemption).Error; err != nil {
						return err
					}
					emitted = append(emitted, events.RewardRedeemed{
						AccountID:    d.AccountID,
						RewardID:     reward.ID,
						RedemptionID: redemption.ID,
						RewardName:   reward.Name,
						PointsUsed:   redemption.PointsUsed,
					})
				}
			}

			totals = computeTotals(cart.Subtotal, discounts)

			return tx.Where("cart_id = ?", cartID).Delete(&models.CartDiscount{}).Error
		})
	})
	if err != nil {
		return Totals{}, err
	}
	for _, evt := range emitted {
		c.emitter.Emit(ctx, evt)
	}
	return totals, nil
}
