package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TEMPLATE_STORE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.DownloadMaxRequests != 5 {
		t.Errorf("DownloadMaxRequests = %d, want 5", cfg.DownloadMaxRequests)
	}
	if cfg.DownloadWindowSecs != 900 {
		t.Errorf("DownloadWindowSecs = %d, want 900", cfg.DownloadWindowSecs)
	}
	if cfg.AuditRetentionDays != 365 {
		t.Errorf("AuditRetentionDays = %d, want 365", cfg.AuditRetentionDays)
	}
	if cfg.SalesEnabled() {
		t.Error("SalesEnabled() = true without prices configured")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TEMPLATE_STORE_DATA_DIR", t.TempDir())
	t.Setenv("TEMPLATE_STORE_PORT", "9090")
	t.Setenv("TEMPLATE_STORE_DEV_MODE", "true")
	t.Setenv("TEMPLATE_STORE_PRICE_BASIC", "price_1")
	t.Setenv("TEMPLATE_STORE_PRICE_PRO", "price_2")
	t.Setenv("TEMPLATE_STORE_PRICE_ENTERPRISE", "price_3")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if !cfg.DevMode {
		t.Error("DevMode = false, want true")
	}
	if !cfg.SalesEnabled() {
		t.Error("SalesEnabled() = false with all prices configured")
	}
	if got := cfg.PriceForTier("pro"); got != "price_2" {
		t.Errorf("PriceForTier(pro) = %q, want price_2", got)
	}
	if got := cfg.PriceForTier("unknown"); got != "" {
		t.Errorf("PriceForTier(unknown) = %q, want empty", got)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("TEMPLATE_STORE_DATA_DIR", t.TempDir())
	t.Setenv("TEMPLATE_STORE_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080 for invalid value", cfg.Port)
	}
}
