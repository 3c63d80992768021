package tier

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"loyaltyd/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestCheckUpgradePromotes(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, models.Seed(db, time.Now()))

	var silver models.Tier
	require.NoError(t, db.First(&silver, "name = ?", "silver").Error)

	account := &models.Account{ID: uuid.New(), UserID: "u1", LifetimePoints: 600, IsActive: true}
	require.NoError(t, db.Create(account).Error)

	engine := &Engine{}
	event, err := engine.CheckUpgrade(db, account, time.Now())
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, "silver", event.TierName)
	require.NotNil(t, account.CurrentTierID)
	require.Equal(t, silver.ID, *account.CurrentTierID)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).
		Where("account_id = ? AND kind = ?", account.ID, models.NotifyTierUpgrade).
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCheckUpgradeNeverDowngrades(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, models.Seed(db, time.Now()))

	var gold models.Tier
	require.NoError(t, db.First(&gold, "name = ?", "gold").Error)

	// Lifetime points only qualify for silver, but the account already sits
	// at gold.
	account := &models.Account{ID: uuid.New(), UserID: "u2", LifetimePoints: 600, CurrentTierID: &gold.ID, IsActive: true}
	require.NoError(t, db.Create(account).Error)

	engine := &Engine{}
	event, err := engine.CheckUpgrade(db, account, time.Now())
	require.NoError(t, err)
	require.Nil(t, event)
	require.Equal(t, gold.ID, *account.CurrentTierID)
}

func TestCheckUpgradeNoOpAtSameTier(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, models.Seed(db, time.Now()))

	var bronze models.Tier
	require.NoError(t, db.First(&bronze, "name = ?", "bronze").Error)

	account := &models.Account{ID: uuid.New(), UserID: "u3", LifetimePoints: 100, CurrentTierID: &bronze.ID, IsActive: true}
	require.NoError(t, db.Create(account).Error)

	engine := &Engine{}
	event, err := engine.CheckUpgrade(db, account, time.Now())
	require.NoError(t, err)
	require.Nil(t, event)
}
