// Package tier evaluates membership levels from lifetime points.
package tier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"loyaltyd/models"
)

var (
	ErrNoTiers       = errors.New("tier: no active tiers configured")
	ErrOverlapping   = errors.New("tier: overlapping tier ranges")
	ErrNotContiguous = errors.New("tier: tier ranges must be contiguous")
)

// Table is an immutable, ordered view of the active tier configuration.
type Table struct {
	tiers []models.Tier
}

// NewTable validates and orders the given tiers. Inactive tiers are dropped.
// Active tiers must not overlap and each bounded tier's MaxPoints must equal
// the next tier's MinPoints.
func NewTable(tiers []models.Tier) (*Table, error) {
	active := make([]models.Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.IsActive {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoTiers
	}
	sort.Slice(active, func(i, j int) bool { return active[i].MinPoints < active[j].MinPoints })
	for i := 0; i < len(active)-1; i++ {
		cur, next := active[i], active[i+1]
		if cur.MinPoints == next.MinPoints {
			return nil, fmt.Errorf("%w: %s and %s both start at %d", ErrOverlapping, cur.Name, next.Name, cur.MinPoints)
		}
		if cur.MaxPoints == nil {
			return nil, fmt.Errorf("%w: %s is unbounded but %s follows", ErrOverlapping, cur.Name, next.Name)
		}
		if *cur.MaxPoints != next.MinPoints {
			return nil, fmt.Errorf("%w: %s ends at %d, %s starts at %d", ErrNotContiguous, cur.Name, *cur.MaxPoints, next.Name, next.MinPoints)
		}
	}
	return &Table{tiers: active}, nil
}

// Load builds a Table from the active tiers stored in the database.
func Load(db *gorm.DB) (*Table, error) {
	var tiers []models.Tier
	if err := db.Where("is_active = ?", true).Order("min_points asc").Find(&tiers).Error; err != nil {
		return nil, err
	}
	return NewTable(tiers)
}

// All returns the tiers in ascending MinPoints order.
func (t *Table) All() []models.Tier {
	out := make([]models.Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Evaluate returns the tier with the greatest MinPoints not exceeding the
// given lifetime points, or nil when the lowest tier is still out of reach.
func (t *Table) Evaluate(lifetimePoints int64) *models.Tier {
	var match *models.Tier
	for i := range t.tiers {
		if t.tiers[i].MinPoints <= lifetimePoints {
			match = &t.tiers[i]
		}
	}
	if match == nil {
		return nil
	}
	cp := *match
	return &cp
}

// ByID looks up a tier by identifier.
func (t *Table) ByID(id uuid.UUID) *models.Tier {
	for i := range t.tiers {
		if t.tiers[i].ID == id {
			cp := t.tiers[i]
			return &cp
		}
	}
	return nil
}

// Next returns the tier following the given one, or nil at the top.
func (t *Table) Next(cur *models.Tier) *models.Tier {
	if cur == nil {
		if len(t.tiers) == 0 {
			return nil
		}
		cp := t.tiers[0]
		return &cp
	}
	for i := range t.tiers {
		if t.tiers[i].MinPoints > cur.MinPoints {
			cp := t.tiers[i]
			return &cp
		}
	}
	return nil
}

// Multiplier returns the accrual multiplier for the account's current tier,
// defaulting to 1.0 when the account has no tier.
func (t *Table) Multiplier(account *models.Account) float64 {
	if account == nil || account.CurrentTierID == nil {
		return 1.0
	}
	cur := t.ByID(*account.CurrentTierID)
	if cur == nil || cur.PointMultiplier < 1.0 {
		return 1.0
	}
	return cur.PointMultiplier
}

// PointsToNext reports how many lifetime points separate the account from the
// next tier, or 0 when the account already sits at the top.
func (t *Table) PointsToNext(account *models.Account) int64 {
	var cur *models.Tier
	if account.CurrentTierID != nil {
		cur = t.ByID(*account.CurrentTierID)
	}
	next := t.Next(cur)
	if next == nil {
		return 0
	}
	gap := next.MinPoints - account.LifetimePoints
	if gap < 0 {
		return 0
	}
	return gap
}

// Progress reports how far the account has moved through its current tier's
// range, as a percentage clamped to [0, 100].
func (t *Table) Progress(account *models.Account) float64 {
	if account.CurrentTierID == nil {
		return 0
	}
	cur := t.ByID(*account.CurrentTierID)
	if cur == nil {
		return 0
	}
	next := t.Next(cur)
	if next == nil {
		return 100
	}
	span := next.MinPoints - cur.MinPoints
	if span <= 0 {
		return 100
	}
	progress := float64(account.LifetimePoints-cur.MinPoints) / float64(span) * 100
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
