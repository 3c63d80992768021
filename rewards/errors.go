package rewards

import "errors"

var (
	ErrRewardNotFound      = errors.New("rewards: reward not found")
	ErrRedemptionNotFound  = errors.New("rewards: redemption not found")
	ErrRewardUnavailable   = errors.New("rewards: reward unavailable")
	ErrDuplicateRedemption = errors.New("rewards: reward already redeemed recently")
)
