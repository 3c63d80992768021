package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionType classifies ledger entries.
type TransactionType string

// Ledger entry types. Positive point values pair with TxEarned and TxAdjusted,
// negative values with TxRedeemed, TxExpired and TxAdjusted.
const (
	TxEarned   TransactionType = "earned"
	TxRedeemed TransactionType = "redeemed"
	TxExpired  TransactionType = "expired"
	TxAdjusted TransactionType = "adjusted"
)

// TransactionSource identifies the activity that produced a ledger entry.
type TransactionSource string

// Supported accrual and spend sources.
const (
	SourcePurchase   TransactionSource = "purchase"
	SourceReview     TransactionSource = "review"
	SourceReferral   TransactionSource = "referral"
	SourceBirthday   TransactionSource = "birthday"
	SourcePromotion  TransactionSource = "promotion"
	SourceRedemption TransactionSource = "redemption"
	SourceAdmin      TransactionSource = "admin"
)

// RedemptionStatus is a state in the redemption lifecycle.
type RedemptionStatus string

// All redemption states. Used, expired and cancelled are terminal.
const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionActive    RedemptionStatus = "active"
	RedemptionUsed      RedemptionStatus = "used"
	RedemptionExpired   RedemptionStatus = "expired"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

// RewardKind determines how a reward converts into a cart discount.
type RewardKind string

// Supported reward kinds.
const (
	RewardPercentage   RewardKind = "percentage"
	RewardFlatAmount   RewardKind = "flat_amount"
	RewardFreeShipping RewardKind = "free_shipping"
	RewardFreeProduct  RewardKind = "free_product"
	RewardPointsBonus  RewardKind = "points_bonus"
)

// DiscountType distinguishes cart discount rows. At most one row per type may
// exist on a cart; distinct types coexist.
type DiscountType string

// Supported cart discount types.
const (
	DiscountLoyaltyPoints DiscountType = "loyalty_points"
	DiscountLoyaltyReward DiscountType = "loyalty_reward"
	DiscountPromoCode     DiscountType = "promo_code"
)

// NotificationKind classifies loyalty notifications.
type NotificationKind string

// Supported notification kinds.
const (
	NotifyTierUpgrade     NotificationKind = "tier_upgrade"
	NotifyPointsEarned    NotificationKind = "points_earned"
	NotifyPointsExpiring  NotificationKind = "points_expiring"
	NotifyRewardAvailable NotificationKind = "reward_available"
	NotifyRewardRedeemed  NotificationKind = "reward_redeemed"
	NotifyPromotion       NotificationKind = "promotion"
)

// Account tracks a customer's point balance and tier membership. The balance
// is mutated exclusively by the ledger package inside row-locked transactions;
// PointsBalance never goes negative and LifetimePoints never decreases.
type Account struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         string     `gorm:"size:64;uniqueIndex" json:"user_id"`
	PointsBalance  int64      `gorm:"not null;default:0" json:"points_balance"`
	LifetimePoints int64      `gorm:"not null;default:0" json:"lifetime_points"`
	CurrentTierID  *uuid.UUID `gorm:"type:uuid;index" json:"current_tier_id,omitempty"`
	JoinDate       time.Time  `json:"join_date"`
	LastActivity   time.Time  `json:"last_activity"`
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
}

// Transaction is one immutable ledger entry. Rows are only ever inserted; no
// code path updates or deletes them.
type Transaction struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID      uuid.UUID         `gorm:"type:uuid;index" json:"account_id"`
	Points         int64             `gorm:"not null" json:"points"`
	Type           TransactionType   `gorm:"size:20;index" json:"type"`
	Source         TransactionSource `gorm:"size:20" json:"source"`
	Description    string            `gorm:"size:255" json:"description"`
	RelatedOrderID *string           `gorm:"size:64" json:"related_order_id,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
}

// Tier is a loyalty membership level. Active tiers must be ordered by
// MinPoints with non-overlapping, contiguous ranges; the tier package
// validates this when building its lookup table.
type Tier struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string    `gorm:"size:20;uniqueIndex" json:"name"`
	DisplayName        string    `gorm:"size:50" json:"display_name"`
	MinPoints          int64     `gorm:"not null" json:"min_points"`
	MaxPoints          *int64    `json:"max_points,omitempty"`
	PointMultiplier    float64   `gorm:"not null;default:1" json:"point_multiplier"`
	DiscountPercentage float64   `gorm:"not null;default:0" json:"discount_percentage"`
	FreeShipping       bool      `gorm:"not null;default:false" json:"free_shipping"`
	PrioritySupport    bool      `gorm:"not null;default:false" json:"priority_support"`
	ExclusiveAccess    bool      `gorm:"not null;default:false" json:"exclusive_access"`
	Color              string    `gorm:"size:7" json:"color"`
	Icon               string    `gorm:"size:50" json:"icon"`
	Description        string    `gorm:"size:255" json:"description"`
	IsActive           bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Reward is a redeemable catalog entry. CurrentRedemptions is advanced with a
// guarded compare-and-increment so a capped reward can never oversell.
type Reward struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string     `gorm:"size:100;uniqueIndex" json:"name"`
	Description        string     `gorm:"size:255" json:"description"`
	Kind               RewardKind `gorm:"size:20" json:"kind"`
	PointsCost         int64      `gorm:"not null" json:"points_cost"`
	DiscountPercentage float64    `json:"discount_percentage,omitempty"`
	DiscountAmount     float64    `json:"discount_amount,omitempty"`
	MaxRedemptions     *int64     `json:"max_redemptions,omitempty"`
	CurrentRedemptions int64      `gorm:"not null;default:0" json:"current_redemptions"`
	ValidFrom          time.Time  `json:"valid_from"`
	ValidUntil         time.Time  `json:"valid_until"`
	IsActive           bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Redemption records one claim of a reward by an account.
type Redemption struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID      uuid.UUID        `gorm:"type:uuid;index" json:"account_id"`
	RewardID       uuid.UUID        `gorm:"type:uuid;index" json:"reward_id"`
	PointsUsed     int64            `gorm:"not null" json:"points_used"`
	Status         RedemptionStatus `gorm:"size:20;index" json:"status"`
	RedeemedAt     time.Time        `gorm:"index" json:"redeemed_at"`
	ExpiresAt      time.Time        `gorm:"index" json:"expires_at"`
	UsedAt         *time.Time       `json:"used_at,omitempty"`
	RelatedOrderID *string          `gorm:"size:64" json:"related_order_id,omitempty"`
}

// Cart is the minimal cart state the engine needs to price discounts. The
// full cart belongs to the checkout system; this row mirrors its subtotal.
type Cart struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Subtotal  float64   `gorm:"not null;default:0" json:"subtotal"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartDiscount is an ephemeral discount attached to an in-progress cart.
// The (CartID, DiscountType) unique index is the upsert target that keeps
// re-application of the same discount type atomic.
type CartDiscount struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	CartID       uuid.UUID    `gorm:"type:uuid;uniqueIndex:idx_cart_discount_type" json:"cart_id"`
	DiscountType DiscountType `gorm:"size:20;uniqueIndex:idx_cart_discount_type" json:"discount_type"`
	AccountID    uuid.UUID    `gorm:"type:uuid;index" json:"account_id"`
	Amount       float64      `gorm:"not null" json:"amount"`
	PointsUsed   int64        `gorm:"not null;default:0" json:"points_used"`
	RewardID     *uuid.UUID   `gorm:"type:uuid" json:"reward_id,omitempty"`
	RedemptionID *uuid.UUID   `gorm:"type:uuid" json:"redemption_id,omitempty"`
	Description  string       `gorm:"size:200" json:"description"`
	AppliedAt    time.Time    `json:"applied_at"`
}

// Notification is a persisted loyalty event addressed to one account.
type Notification struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID        `gorm:"type:uuid;index" json:"account_id"`
	Kind      NotificationKind `gorm:"size:20" json:"kind"`
	Title     string           `gorm:"size:200" json:"title"`
	Message   string           `gorm:"size:500" json:"message"`
	Read      bool             `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// DailyStats aggregates program activity for one day.
type DailyStats struct {
	ID                  uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Date                time.Time   `gorm:"uniqueIndex" json:"date"`
	TotalAccounts       int64       `json:"total_accounts"`
	ActiveAccounts      int64       `json:"active_accounts"`
	TotalPointsEarned   int64       `json:"total_points_earned"`
	TotalPointsRedeemed int64       `json:"total_points_redeemed"`
	TotalRedemptions    int64       `json:"total_redemptions"`
	TierCounts          []TierCount `gorm:"foreignKey:StatsID" json:"tier_counts"`
	CreatedAt           time.Time   `json:"created_at"`
}

// TierCount is one row of the per-tier account distribution for a stats day.
type TierCount struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	StatsID  uuid.UUID `gorm:"type:uuid;index" json:"-"`
	TierID   uuid.UUID `gorm:"type:uuid" json:"tier_id"`
	TierName string    `gorm:"size:20" json:"tier_name"`
	Accounts int64     `json:"accounts"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&Transaction{},
		&Tier{},
		&Reward{},
		&Redemption{},
		&Cart{},
		&CartDiscount{},
		&Notification{},
		&DailyStats{},
		&TierCount{},
	)
}
