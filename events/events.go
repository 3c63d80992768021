// Package events defines the typed notification events emitted by the
// loyalty engine. Delivery transport is out of scope; collaborators register
// an Emitter and decide what to do with each event.
package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

const (
	// TypeTierUpgraded is emitted when an account reaches a higher tier.
	TypeTierUpgraded = "loyalty.tier.upgraded"
	// TypePointsEarned is emitted after a successful accrual.
	TypePointsEarned = "loyalty.points.earned"
	// TypeRewardRedeemed is emitted when a reward claim commits.
	TypeRewardRedeemed = "loyalty.reward.redeemed"
	// TypeRedemptionExpired is emitted for each redemption the sweep expires.
	TypeRedemptionExpired = "loyalty.redemption.expired"
)

// Event is implemented by all loyalty event payloads.
type Event interface {
	EventType() string
}

// TierUpgraded captures a tier promotion and the perks it unlocks.
type TierUpgraded struct {
	AccountID          uuid.UUID
	TierID             uuid.UUID
	TierName           string
	DiscountPercentage float64
	FreeShipping       bool
	PrioritySupport    bool
	ExclusiveAccess    bool
}

// EventType implements the Event interface.
func (TierUpgraded) EventType() string { return TypeTierUpgraded }

// PointsEarned captures a completed accrual, including the multiplier-adjusted
// amount actually credited.
type PointsEarned struct {
	AccountID  uuid.UUID
	Points     int64
	Adjusted   int64
	Source     string
	NewBalance int64
}

// EventType implements the Event interface.
func (PointsEarned) EventType() string { return TypePointsEarned }

// RewardRedeemed captures a committed reward claim.
type RewardRedeemed struct {
	AccountID    uuid.UUID
	RewardID     uuid.UUID
	RedemptionID uuid.UUID
	RewardName   string
	PointsUsed   int64
}

// EventType implements the Event interface.
func (RewardRedeemed) EventType() string { return TypeRewardRedeemed }

// RedemptionExpired captures one redemption transitioned by the expiry sweep.
type RedemptionExpired struct {
	AccountID    uuid.UUID
	RedemptionID uuid.UUID
	RewardID     uuid.UUID
}

// EventType implements the Event interface.
func (RedemptionExpired) EventType() string { return TypeRedemptionExpired }

// Emitter receives loyalty events after the transaction that produced them
// has committed.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(ctx context.Context, evt Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "loyalty event", slog.String("type", evt.EventType()), slog.Any("event", evt))
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, Event) {}
