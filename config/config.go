package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	BaseURL  string
	DevMode  bool
	DBDriver string
	DBDSN    string
	DataDir  string

	// Template assets served by the download gateway.
	TemplateRoot string

	// Admin surface.
	AdminPassphrase string

	// Payment gateway.
	PaymentSecretKey     string
	PaymentWebhookSecret string
	PriceBasic           string
	PricePro             string
	PriceEnterprise      string

	// Access-grant provider.
	GitHubToken          string
	GitHubOrg            string
	GitHubTeamPro        string
	GitHubTeamEnterprise string

	// Delivery email provider.
	MailerAPIKey  string
	MailerBaseURL string
	MailerFrom    string

	// Rate limiting. RedisAddr empty means the in-memory limiter.
	RedisAddr           string
	DownloadMaxRequests int
	DownloadWindowSecs  int

	AuditRetentionDays int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnvIntOrDefault("TEMPLATE_STORE_PORT", 8080),
		BaseURL:  getEnvOrDefault("TEMPLATE_STORE_BASE_URL", "http://localhost:8080"),
		DevMode:  os.Getenv("TEMPLATE_STORE_DEV_MODE") == "true",
		DBDriver: getEnvOrDefault("TEMPLATE_STORE_DB_DRIVER", "sqlite"),
		DBDSN:    os.Getenv("TEMPLATE_STORE_DB_DSN"),
		DataDir:  getEnvOrDefault("TEMPLATE_STORE_DATA_DIR", "./data"),

		TemplateRoot: getEnvOrDefault("TEMPLATE_STORE_TEMPLATE_ROOT", "./templates"),

		AdminPassphrase: os.Getenv("TEMPLATE_STORE_ADMIN_PASSPHRASE"),

		PaymentSecretKey:     os.Getenv("TEMPLATE_STORE_PAYMENT_SECRET_KEY"),
		PaymentWebhookSecret: os.Getenv("TEMPLATE_STORE_PAYMENT_WEBHOOK_SECRET"),
		PriceBasic:           os.Getenv("TEMPLATE_STORE_PRICE_BASIC"),
		PricePro:             os.Getenv("TEMPLATE_STORE_PRICE_PRO"),
		PriceEnterprise:      os.Getenv("TEMPLATE_STORE_PRICE_ENTERPRISE"),

		GitHubToken:          os.Getenv("TEMPLATE_STORE_GITHUB_TOKEN"),
		GitHubOrg:            os.Getenv("TEMPLATE_STORE_GITHUB_ORG"),
		GitHubTeamPro:        getEnvOrDefault("TEMPLATE_STORE_GITHUB_TEAM_PRO", "template-pro"),
		GitHubTeamEnterprise: getEnvOrDefault("TEMPLATE_STORE_GITHUB_TEAM_ENTERPRISE", "template-enterprise"),

		MailerAPIKey:  os.Getenv("TEMPLATE_STORE_MAILER_API_KEY"),
		MailerBaseURL: getEnvOrDefault("TEMPLATE_STORE_MAILER_BASE_URL", "https://api.resend.com"),
		MailerFrom:    getEnvOrDefault("TEMPLATE_STORE_MAILER_FROM", "Template Store <delivery@launchkit.dev>"),

		RedisAddr:           os.Getenv("TEMPLATE_STORE_REDIS_ADDR"),
		DownloadMaxRequests: getEnvIntOrDefault("TEMPLATE_STORE_DOWNLOAD_MAX_REQUESTS", 5),
		DownloadWindowSecs:  getEnvIntOrDefault("TEMPLATE_STORE_DOWNLOAD_WINDOW_SECS", 900),

		AuditRetentionDays: getEnvIntOrDefault("TEMPLATE_STORE_AUDIT_RETENTION_DAYS", 365),
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return cfg, nil
}

func (c *Config) DatabasePath() string {
	return c.DataDir + "/template-store.db"
}

// SalesEnabled reports whether the template-sale feature is configured.
// Handlers short-circuit with 501 when it is not.
func (c *Config) SalesEnabled() bool {
	return c.PriceBasic != "" && c.PricePro != "" && c.PriceEnterprise != ""
}

func (c *Config) PriceForTier(tier string) string {
	switch tier {
	case "basic":
		return c.PriceBasic
	case "pro":
		return c.PricePro
	case "enterprise":
		return c.PriceEnterprise
	}
	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
