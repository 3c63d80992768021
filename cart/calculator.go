// Package cart applies loyalty points and rewards as discounts to in-progress
// shopping carts and computes cart totals. Discounts are ephemeral: applying
// one never debits the ledger; the debit happens once, at checkout, so an
// abandoned cart costs the customer nothing.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyd/events"
	"loyaltyd/ledger"
	"loyaltyd/models"
	"loyaltyd/rewards"
)

const (
	freeShippingThreshold = 50.0
	flatShippingCost      = 10.0
	taxRate               = 0.08
)

// Calculator prices and manages cart discounts.
type Calculator struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	catalog  *rewards.Catalog
	workflow *rewards.Workflow
	emitter  events.Emitter

	// PointsPerDollar converts between points and discount dollars.
	PointsPerDollar int64
	// Now is injectable for tests.
	Now func() time.Time
}

// NewCalculator constructs a cart discount calculator.
func NewCalculator(db *gorm.DB, lg *ledger.Ledger, catalog *rewards.Catalog, workflow *rewards.Workflow, emitter events.Emitter) *Calculator {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Calculator{
		db:              db,
		ledger:          lg,
		catalog:         catalog,
		workflow:        workflow,
		emitter:         emitter,
		PointsPerDollar: 100,
		Now:             time.Now,
	}
}

func (c *Calculator) loadCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := c.db.WithContext(ctx).First(&cart, "id = ?", cartID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, err
	}
	return &cart, nil
}

// upsert writes the discount row atomically, replacing any existing row of
// the same type on the same cart in a single statement.
func (c *Calculator) upsert(ctx context.Context, discount *models.CartDiscount) error {
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "discount_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "amount", "points_used", "reward_id", "redemption_id", "description", "applied_at",
		}),
	}).Create(discount).Error
}

// ApplyPointsDiscount attaches a points-funded discount to the cart at the
// configured conversion rate. When the requested points overshoot the cart
// subtotal the discount clamps to the subtotal and the points charged shrink
// to match. The account balance is only validated here; no points move until
// checkout.
func (c *Calculator) ApplyPointsDiscount(ctx context.Context, cartID, accountID uuid.UUID, points int64) (*models.CartDiscount, error) {
	if points <= 0 {
		return nil, ledger.ErrInvalidPoints
	}
	account, err := c.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if points > account.PointsBalance {
		return nil, ledger.ErrInsufficientBalance
	}
	cart, err := c.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}

	amount := float64(points) / float64(c.PointsPerDollar)
	if amount > cart.Subtotal {
		amount = cart.Subtotal
		points = int64(math.Round(amount * float64(c.PointsPerDollar)))
	}

	discount := &models.CartDiscount{
		ID:           uuid.New(),
		CartID:       cartID,
		DiscountType: models.DiscountLoyaltyPoints,
		AccountID:    accountID,
		Amount:       amount,
		PointsUsed:   points,
		Description:  fmt.Sprintf("Loyalty Points Discount (%d points)", points),
		AppliedAt:    c.Now(),
	}
	if err := c.upsert(ctx, discount); err != nil {
		return nil, err
	}
	return discount, nil
}

// ApplyRewardDiscount attaches a reward-funded discount to the cart. The
// reward must be available and affordable now; it is claimed against the
// ledger at checkout, not here.
func (c *Calculator) ApplyRewardDiscount(ctx context.Context, cartID, accountID, rewardID uuid.UUID) (*models.CartDiscount, error) {
	reward, err := c.catalog.Get(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if !rewards.IsAvailable(reward, c.Now()) {
		return nil, rewards.ErrRewardUnavailable
	}
	account, err := c.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.PointsBalance < reward.PointsCost {
		return nil, ledger.ErrInsufficientBalance
	}
	cart, err := c.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}

	var amount float64
	switch {
	case reward.DiscountPercentage > 0:
		amount = cart.Subtotal * reward.DiscountPercentage / 100
	case reward.DiscountAmount > 0:
		amount = reward.DiscountAmount
	}
	if amount > cart.Subtotal {
		amount = cart.Subtotal
	}

	discount := &models.CartDiscount{
		ID:           uuid.New(),
		CartID:       cartID,
		DiscountType: models.DiscountLoyaltyReward,
		AccountID:    accountID,
		Amount:       amount,
		PointsUsed:   reward.PointsCost,
		RewardID:     &reward.ID,
		Description:  fmt.Sprintf("%s (%d points)", reward.Name, reward.PointsCost),
		AppliedAt:    c.Now(),
	}
	if err := c.upsert(ctx, discount); err != nil {
		return nil, err
	}
	return discount, nil
}

// RemoveDiscount deletes the cart's discount rows, all of them or only the
// given type. Removal never touches the ledger: nothing was debited at apply
// time, so nothing is forfeited.
func (c *Calculator) RemoveDiscount(ctx context.Context, cartID uuid.UUID, discountType *models.DiscountType) error {
	q := c.db.WithContext(ctx).Where("cart_id = ?", cartID)
	if discountType != nil {
		switch *discountType {
		case models.DiscountLoyaltyPoints, models.DiscountLoyaltyReward, models.DiscountPromoCode:
		default:
			return ErrInvalidDiscountType
		}
		q = q.Where("discount_type = ?", *discountType)
	}
	res := q.Delete(&models.CartDiscount{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDiscountNotFound
	}
	return nil
}

// Totals is the price breakdown for a cart.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping_cost"`
	Tax      float64 `json:"tax_amount"`
	Discount float64 `json:"discount_amount"`
	Total    float64 `json:"total"`
}

// ComputeTotal returns the cart's price breakdown: subtotal plus shipping and
// tax, minus applied discounts, floored at zero.
func (c *Calculator) ComputeTotal(ctx context.Context, cartID uuid.UUID) (Totals, error) {
	cart, err := c.loadCart(ctx, cartID)
	if err != nil {
		return Totals{}, err
	}
	var discounts []models.CartDiscount
	if err := c.db.WithContext(ctx).Where("cart_id = ?", cartID).Find(&discounts).Error; err != nil {
		return Totals{}, err
	}
	return computeTotals(cart.Subtotal, discounts), nil
}

func computeTotals(subtotal float64, discounts []models.CartDiscount) Totals {
	totals := Totals{Subtotal: subtotal, Tax: subtotal * taxRate}
	if subtotal < freeShippingThreshold {
		totals.Shipping = flatShippingCost
	}
	for _, d := range discounts {
		totals.Discount += d.Amount
	}
	totals.Total = totals.Subtotal + totals.Shipping + totals.Tax - totals.Discount
	if totals.Total < 0 {
		totals.Total = 0
	}
	return totals
}
