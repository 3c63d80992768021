package rewards

import (
	"fmt"

	"loyaltyd/models"
)

var allowedTransitions = map[models.RedemptionStatus][]models.RedemptionStatus{
	models.RedemptionPending: {models.RedemptionActive, models.RedemptionCancelled},
	models.RedemptionActive:  {models.RedemptionUsed, models.RedemptionExpired, models.RedemptionCancelled},
}

// ValidateTransition ensures the transition follows the redemption state
// machine. Used, expired and cancelled are terminal; nothing re-enters
// pending.
func ValidateTransition(current, next models.RedemptionStatus) error {
	if current == next {
		return nil
	}
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("rewards: no transitions allowed from %s", current)
	}
	for _, state := range allowed {
		if state == next {
			return nil
		}
	}
	return fmt.Errorf("rewards: transition from %s to %s is not permitted", current, next)
}
