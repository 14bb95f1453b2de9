package database

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := runMigrations(gormDB); err != nil {
		t.Fatal(err)
	}
	return &DB{DB: gormDB}
}

func TestSettings(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SetSetting("test_key", "test_value"); err != nil {
		t.Fatal(err)
	}

	value, err := db.GetSetting("test_key")
	if err != nil {
		t.Fatal(err)
	}
	if value != "test_value" {
		t.Errorf("GetSetting() = %q, want test_value", value)
	}

	if !db.HasSetting("test_key") {
		t.Error("HasSetting() = false, want true")
	}
	if db.HasSetting("nonexistent_key") {
		t.Error("HasSetting(nonexistent) = true, want false")
	}
}

func TestInsertWebhookEventDedupe(t *testing.T) {
	db := setupTestDB(t)

	duplicate, err := db.InsertWebhookEvent("evt_1", "checkout.session.completed")
	if err != nil {
		t.Fatal(err)
	}
	if duplicate {
		t.Error("first insert reported duplicate")
	}

	duplicate, err = db.InsertWebhookEvent("evt_1", "checkout.session.completed")
	if err != nil {
		t.Fatal(err)
	}
	if !duplicate {
		t.Error("second insert not reported as duplicate")
	}

	var count int64
	db.Model(&WebhookEvent{}).Where("event_id = ?", "evt_1").Count(&count)
	if count != 1 {
		t.Errorf("stored events = %d, want 1", count)
	}

	duplicate, err = db.InsertWebhookEvent("evt_2", "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	if duplicate {
		t.Error("distinct event reported as duplicate")
	}
}

func TestFulfillmentStateRoundTrip(t *testing.T) {
	sale := Sale{SessionID: "cs_1", Email: "a@b.com", Package: TierPro}

	if sale.FulfillmentState().Fulfilled {
		t.Error("zero sale reports fulfilled")
	}

	now := time.Now().UTC()
	sale.SetFulfillmentState(FulfillmentState{
		Fulfilled:     true,
		FulfilledAt:   &now,
		EmailSent:     true,
		AccessGranted: false,
	})

	state := sale.FulfillmentState()
	if !state.Fulfilled {
		t.Error("Fulfilled = false after set")
	}
	if !state.EmailSent {
		t.Error("EmailSent = false after set")
	}
	if state.AccessGranted {
		t.Error("AccessGranted = true, want false")
	}
	if state.FulfilledAt == nil || !state.FulfilledAt.Equal(now) {
		t.Errorf("FulfilledAt = %v, want %v", state.FulfilledAt, now)
	}
}

func TestFulfillmentStateGarbage(t *testing.T) {
	sale := Sale{Fulfillment: "{not json"}
	if sale.FulfillmentState().Fulfilled {
		t.Error("garbage fulfillment JSON reports fulfilled")
	}
}

func TestCustomerAccessUniquePerSale(t *testing.T) {
	db := setupTestDB(t)

	sale := Sale{SessionID: "cs_dup", Email: "a@b.com", Package: TierBasic, Status: SaleStatusCompleted}
	if err := db.Create(&sale).Error; err != nil {
		t.Fatal(err)
	}

	first := CustomerAccess{SaleID: sale.ID, SessionID: sale.SessionID, LicenseKey: "k1", DownloadToken: "t1"}
	if err := db.Create(&first).Error; err != nil {
		t.Fatal(err)
	}

	second := CustomerAccess{SaleID: sale.ID, SessionID: sale.SessionID, LicenseKey: "k2", DownloadToken: "t2"}
	if err := db.Create(&second).Error; err == nil {
		t.Error("second access record for the same sale was accepted")
	}
}

func TestValidTier(t *testing.T) {
	for _, tier := range []string{TierBasic, TierPro, TierEnterprise} {
		if !ValidTier(tier) {
			t.Errorf("ValidTier(%q) = false", tier)
		}
	}
	for _, tier := range []string{"", "premium", "BASIC"} {
		if ValidTier(tier) {
			t.Errorf("ValidTier(%q) = true", tier)
		}
	}
}
