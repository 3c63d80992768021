package cart

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/ledger"
	"loyaltyd/models"
)

func TestCheckoutCommitsPointsDiscount(t *testing.T) {
	db := setupTestDB(t)
	calc := newTestCalculator(t, db)
	account := createAccount(t, db, 1500)
	c := createCart(t, db, 60.0)

	if _, err := calc.ApplyPointsDiscount(context.Background(), c.ID, account.ID, 1000); err != nil {
		t.Fatalf("apply: %v", err)
	}

	totals, err := calc.Checkout(context.Background(), c.ID, "ORD-2001")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !almostEqual(totals.Discount, 10.0) {
		t.Fatalf("expected $10.00 discount, got %v", totals.Discount)
	}
	// 60 + 0 shipping + 4.80 tax - 10 discount.
	if !almostEqual(totals.Total, 54.8) {
		t.Fatalf("expected $54.80 total, got %v", totals.Total)
	}

	var stored models.Account
	if err := db.First(&stored, "id = ?", account.ID).Error; err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.PointsBalance != 500 {
		t.Fatalf("expected 1000 points debited at checkout, balance %d", stored.PointsBalance)
	}

	var entry models.Transaction
	if err := db.First(&entry, "account_id = ? AND type = ?", account.ID, models.TxRedeemed).Error; err != nil {
		t.Fatalf("load ledger entry: %v", err)
	}
	if entry.RelatedOrderID == nil || *entry.RelatedOrderID != "ORD-2001" {
		t.Fatal("ledger entry must reference the order")
	}

	var count int64
	if err := db.Model(&models.CartDiscount{}).Where("cart_id = ?", c.ID).Count(&count).Error; err != nil {
		t.Fatalf("count discounts: %v", err)
	}
	if count != 0 {
		t.Fatalf("discount rows must be cleared after checkout, got %d", count)
	}
}

func TestCheckoutClaimsRewardDiscount(t *testing.T) {
	db := setupTestDB(t)
	calc := newTestCalculator(t, db)
	account := createAccount(t, db, 1500)
	c := createCart(t, db, 80.0)
	reward := createPercentageReward(t, db, 1000, 10)

	if _, err := calc.ApplyRewardDiscount(context.Background(), c.ID, account.ID, reward.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := calc.Checkout(context.Background(), c.ID, "ORD-2002"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	var redemption models.Redemption
	if err := db.First(&redemption, "account_id = ? AND reward_id = ?", account.ID, reward.ID).Error; err != nil {
		t.Fatalf("load redemption: %v", err)
	}
	if redemption.Status != models.RedemptionUsed {
		t.Fatalf("expected the redemption to be used, got %s", redemption.Status)
	}
	if redemption.RelatedOrderID == nil || *redemption.RelatedOrderID != "ORD-2002" {
		t.Fatal("redemption must reference the order")
	}

	var storedReward models.Reward
	if err := db.First(&storedReward, "id = ?", reward.ID).Error; err != nil {
		t.Fatalf("reload reward: %v", err)
	}
	if storedReward.CurrentRedemptions != 1 {
		t.Fatalf("expected redemption counter 1, got %d", storedReward.CurrentRedemptions)
	}

	var stored models.Account
	if err := db.First(&stored, "id = ?", account.ID).Error; err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.PointsBalance != 500 {
		t.Fatalf("expected the reward cost debited, balance %d", stored.PointsBalance)
	}
}

func TestCheckoutFailureKeepsDiscounts(t *testing.T) {
	db := setupTestDB(t)
	calc := newTestCalculator(t, db)
	account := createAccount(t, db, 1000)
	c := createCart(t, db, 60.0)

	if _, err := calc.ApplyPointsDiscount(context.Background(), c.ID, account.ID, 1000); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// The balance drains between apply and checkout.
	if _, err := calc.ledger.Redeem(context.Background(), account.ID, 800, "elsewhere"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if _, err := calc.Checkout(context.Background(), c.ID, "ORD-2003"); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The whole checkout rolled back: the discount survives, nothing was
	// debited beyond the earlier drain.
	var count int64
	if err := db.Model(&models.CartDiscount{}).Where("cart_id = ?", c.ID).Count(&count).Error; err != nil {
		t.Fatalf("count discounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the discount row to survive, got %d", count)
	}
	var stored models.Account
	if err := db.First(&stored, "id = ?", account.ID).Error; err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.PointsBalance != 200 {
		t.Fatalf("expected balance 200, got %d", stored.PointsBalance)
	}
}

func TestCheckoutEmptyAndUnknownCarts(t *testing.T) {
	db := setupTestDB(t)
	calc := newTestCalculator(t, db)

	if _, err := calc.Checkout(context.Background(), createCart(t, db, 1).ID, "ORD-1"); err != nil {
		t.Fatalf("empty cart checkout should succeed: %v", err)
	}
	if _, err := calc.Checkout(context.Background(), uuid.New(), "ORD-2"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCheckoutRetriesLostRacesBeforeConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loyalty.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	second, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open second connection: %v", err)
	}

	calc := newTestCalculator(t, db)
	account := createAccount(t, db, 2000)
	c := createCart(t, db, 60.0)
	if _, err := calc.ApplyPointsDiscount(context.Background(), c.ID, account.ID, 1000); err != nil {
		t.Fatalf("apply points discount: %v", err)
	}

	// A second connection holds the write lock for the whole checkout so
	// every attempt loses the race.
	blocker := second.Begin()
	if blocker.Error != nil {
		t.Fatalf("begin blocker: %v", blocker.Error)
	}
	if err := blocker.Exec("UPDATE accounts SET points_balance = points_balance WHERE id = ?", account.ID).Error; err != nil {
		t.Fatalf("take write lock: %v", err)
	}

	_, err = calc.Checkout(context.Background(), c.ID, "ORD-7001")
	blocker.Rollback()
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected conflict after exhausted retries, got %v", err)
	}

	// Nothing was consumed: the discount stays on the cart and the
	// balance is untouched.
	var count int64
	if err := db.Model(&models.CartDiscount{}).Where("cart_id = ?", c.ID).Count(&count).Error; err != nil {
		t.Fatalf("count discounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the discount row to survive, got %d", count)
	}
	var stored models.Account
	if err := db.First(&stored, "id = ?", account.ID).Error; err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.PointsBalance != 2000 {
		t.Fatalf("expected balance untouched at 2000, got %d", stored.PointsBalance)
	}
}
