package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestSeedInstallsDefaults(t *testing.T) {
	db := setupTestDB(t)
	if err := Seed(db, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var tiers, rewards int64
	if err := db.Model(&Tier{}).Count(&tiers).Error; err != nil {
		t.Fatalf("count tiers: %v", err)
	}
	if err := db.Model(&Reward{}).Count(&rewards).Error; err != nil {
		t.Fatalf("count rewards: %v", err)
	}
	if tiers != 5 {
		t.Fatalf("expected 5 tiers, got %d", tiers)
	}
	if rewards != 4 {
		t.Fatalf("expected 4 rewards, got %d", rewards)
	}
}

func TestSeedPreservesOperatorEdits(t *testing.T) {
	db := setupTestDB(t)
	if err := Seed(db, time.Now()); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	if err := db.Model(&Tier{}).Where("name = ?", "silver").Update("point_multiplier", 1.35).Error; err != nil {
		t.Fatalf("edit tier: %v", err)
	}

	if err := Seed(db, time.Now()); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var tiers int64
	if err := db.Model(&Tier{}).Count(&tiers).Error; err != nil {
		t.Fatalf("count tiers: %v", err)
	}
	if tiers != 5 {
		t.Fatalf("re-seeding must not duplicate rows, got %d", tiers)
	}

	var silver Tier
	if err := db.First(&silver, "name = ?", "silver").Error; err != nil {
		t.Fatalf("load silver: %v", err)
	}
	if silver.PointMultiplier != 1.35 {
		t.Fatalf("re-seeding must not overwrite edits, got %v", silver.PointMultiplier)
	}
}
