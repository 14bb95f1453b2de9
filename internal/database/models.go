package database

import (
	"encoding/json"
	"time"
)

const (
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

func ValidTier(tier string) bool {
	return tier == TierBasic || tier == TierPro || tier == TierEnterprise
}

const (
	SaleStatusPending   = "PENDING"
	SaleStatusCompleted = "COMPLETED"
)

// Sale is one purchase transaction. Rows are never deleted; they are the
// audit trail for everything downstream.
type Sale struct {
	ID              uint   `gorm:"primaryKey"`
	SessionID       string `gorm:"uniqueIndex"`
	Email           string `gorm:"index"`
	Package         string
	Amount          int64
	Status          string `gorm:"default:PENDING"`
	PaymentIntentID string
	GitHubUsername  string `gorm:"column:github_username"`
	Fulfillment     string
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FulfillmentState is the typed record serialized into Sale.Fulfillment.
// A zero value means the sale has not been fulfilled.
type FulfillmentState struct {
	Fulfilled     bool       `json:"fulfilled"`
	FulfilledAt   *time.Time `json:"fulfilledAt,omitempty"`
	EmailSent     bool       `json:"emailSent"`
	AccessGranted bool       `json:"accessGranted"`
}

func (s *Sale) FulfillmentState() FulfillmentState {
	var state FulfillmentState
	if s.Fulfillment != "" {
		json.Unmarshal([]byte(s.Fulfillment), &state)
	}
	return state
}

func (s *Sale) SetFulfillmentState(state FulfillmentState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	s.Fulfillment = string(data)
}

// CustomerAccess holds the credentials provisioned for a completed sale,
// exactly one row per sale. The download token is the bearer credential
// checked by the download gateway.
type CustomerAccess struct {
	ID              uint   `gorm:"primaryKey"`
	SaleID          uint   `gorm:"uniqueIndex"`
	SessionID       string `gorm:"index"`
	Email           string
	Package         string
	LicenseKey      string `gorm:"uniqueIndex"`
	DownloadToken   string `gorm:"uniqueIndex"`
	GitHubTeam      string `gorm:"column:github_team"`
	GitHubUsername  string `gorm:"column:github_username"`
	SupportTier     string
	AccessExpiresAt *time.Time
	EmailSent       bool
	AccessGranted   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Sale Sale `gorm:"foreignKey:SaleID"`
}

const (
	AuditStatusSuccess      = "SUCCESS"
	AuditStatusInvalidToken = "INVALID_TOKEN"
	AuditStatusExpired      = "EXPIRED"
	AuditStatusBlocked      = "BLOCKED"
	AuditStatusRateLimit    = "RATE_LIMIT"
	AuditStatusError        = "ERROR"
)

// DownloadAudit is an append-only log of every download attempt. Rows are
// never updated or deleted except by the retention sweep.
type DownloadAudit struct {
	ID            uint   `gorm:"primaryKey"`
	DownloadToken string `gorm:"index"`
	Status        string `gorm:"index"`
	IPAddress     string
	UserAgent     string
	Format        string
	Reason        string
	SaleID        *uint
	Package       string
	CreatedAt     time.Time
}

// WebhookEvent deduplicates inbound payment-processor events. The unique
// index on EventID is what makes replayed webhooks safe: of two racing
// inserts exactly one succeeds and the loser acks as already-processed.
type WebhookEvent struct {
	ID        uint   `gorm:"primaryKey"`
	EventID   string `gorm:"uniqueIndex"`
	EventType string
	CreatedAt time.Time
}

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription mirrors the payment processor's subscription state, upserted
// by webhook events.
type Subscription struct {
	ID             uint   `gorm:"primaryKey"`
	SubscriptionID string `gorm:"uniqueIndex"`
	CustomerID     string `gorm:"index"`
	OrganizationID string `gorm:"index"`
	Status         string
	PriceID        string
	CanceledAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Provider is the persisted state of an outbound provider adapter
// (access-grant, mailer): whether it is enabled and its encrypted
// credentials.
type Provider struct {
	ID             string `gorm:"primaryKey"`
	Name           string
	Enabled        bool `gorm:"default:false"`
	CredentialsEnc []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

const (
	SettingPassphraseHash = "passphrase_hash"
	SettingPassphraseSalt = "passphrase_salt"
	SettingEncryptionSalt = "encryption_salt"
)
