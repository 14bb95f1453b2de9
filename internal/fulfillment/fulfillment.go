// Package fulfillment turns a completed sale into usable credentials
// exactly once: license key, download token, delivery email and repository
// access. Delivery and access grants are best-effort; only a missing,
// incomplete or already-fulfilled sale is fatal.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/license"
	"github.com/launchkit/template-store/internal/providers/github"
	"github.com/launchkit/template-store/internal/providers/mailer"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSaleNotFound     = errors.New("sale not found")
	ErrSaleNotCompleted = errors.New("sale not completed")
	ErrAlreadyFulfilled = errors.New("sale already fulfilled")
)

// DeliveryMailer sends the credentials email.
type DeliveryMailer interface {
	Enabled() bool
	SendDelivery(ctx context.Context, d mailer.Delivery) error
}

// AccessGranter invites a purchaser onto the tier's team.
type AccessGranter interface {
	Enabled() bool
	TeamForTier(tier string) string
	Grant(ctx context.Context, username, tier string) (team string, err error)
}

type Request struct {
	SessionID      string
	Email          string
	Package        string
	CustomerName   string
	CompanyName    string
	GitHubUsername string
}

type Result struct {
	LicenseKey      string     `json:"licenseKey"`
	DownloadToken   string     `json:"downloadToken"`
	DownloadURL     string     `json:"downloadUrl"`
	SupportTier     string     `json:"supportTier"`
	AccessExpiresAt *time.Time `json:"accessExpiresAt,omitempty"`
	GitHubUsername  string     `json:"githubUsername,omitempty"`
	EmailSent       bool       `json:"emailSent"`
	AccessGranted   bool       `json:"githubAccessGranted"`
}

type Orchestrator struct {
	db      *database.DB
	mailer  DeliveryMailer
	granter AccessGranter
	baseURL string
}

func New(db *database.DB, m DeliveryMailer, g AccessGranter, baseURL string) *Orchestrator {
	return &Orchestrator{
		db:      db,
		mailer:  m,
		granter: g,
		baseURL: baseURL,
	}
}

// CompleteSale transitions a sale PENDING → COMPLETED. Transitions never
// run backward; completing an already-completed sale is a no-op.
func (o *Orchestrator) CompleteSale(sessionID, paymentIntentID string) error {
	var sale database.Sale
	if err := o.db.Where("session_id = ?", sessionID).First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSaleNotFound
		}
		return err
	}

	if sale.Status == database.SaleStatusCompleted {
		return nil
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       database.SaleStatusCompleted,
		"completed_at": &now,
	}
	if paymentIntentID != "" {
		updates["payment_intent_id"] = paymentIntentID
	}
	return o.db.Model(&sale).Updates(updates).Error
}

// provisionTask is one best-effort side effect of fulfillment. Each task
// reports its own outcome so partial failure is part of the result, not
// hidden control flow.
type provisionTask struct {
	name string
	run  func(ctx context.Context) error
}

// Fulfill provisions credentials for a completed sale. The fulfilled flag
// written to the sale is the idempotency guard against duplicate webhook
// delivery; the unique sale-id key on the access record is the safety net
// under true concurrency.
func (o *Orchestrator) Fulfill(ctx context.Context, req Request) (*Result, error) {
	var sale database.Sale
	if err := o.db.Where("session_id = ?", req.SessionID).First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}

	if sale.Status != database.SaleStatusCompleted {
		return nil, ErrSaleNotCompleted
	}
	if sale.FulfillmentState().Fulfilled {
		return nil, ErrAlreadyFulfilled
	}

	tier := sale.Package
	username := github.NormalizeUsername(req.GitHubUsername)
	if username == "" {
		username = github.NormalizeUsername(sale.GitHubUsername)
	}

	licenseKey, err := license.GenerateKey(tier)
	if err != nil {
		return nil, fmt.Errorf("generate license key: %w", err)
	}
	downloadToken, err := license.GenerateDownloadToken()
	if err != nil {
		return nil, fmt.Errorf("generate download token: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := license.AccessExpiry(tier, now)
	supportTier := license.SupportTier(tier)
	downloadURL := o.baseURL + "/download?token=" + downloadToken

	result := &Result{
		LicenseKey:      licenseKey,
		DownloadToken:   downloadToken,
		DownloadURL:     downloadURL,
		SupportTier:     supportTier,
		AccessExpiresAt: expiresAt,
		GitHubUsername:  username,
	}

	var grantedTeam string
	tasks := o.buildTasks(&sale, req, username, &grantedTeam, result)

	for _, task := range tasks {
		err := task.run(ctx)
		if err != nil {
			slog.Error("Provisioning task failed", "task", task.name, "sessionID", req.SessionID, "error", err)
		}
		switch task.name {
		case "email":
			result.EmailSent = err == nil
		case "access":
			result.AccessGranted = err == nil
		}
	}

	state := database.FulfillmentState{
		Fulfilled:     true,
		FulfilledAt:   &now,
		EmailSent:     result.EmailSent,
		AccessGranted: result.AccessGranted,
	}
	sale.SetFulfillmentState(state)
	sale.GitHubUsername = username
	if err := o.db.Save(&sale).Error; err != nil {
		return nil, fmt.Errorf("mark sale fulfilled: %w", err)
	}

	access := database.CustomerAccess{
		SaleID:          sale.ID,
		SessionID:       sale.SessionID,
		Email:           sale.Email,
		Package:         tier,
		LicenseKey:      licenseKey,
		DownloadToken:   downloadToken,
		GitHubTeam:      grantedTeam,
		GitHubUsername:  username,
		SupportTier:     supportTier,
		AccessExpiresAt: expiresAt,
		EmailSent:       result.EmailSent,
		AccessGranted:   result.AccessGranted,
	}
	err = o.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sale_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "package", "license_key", "download_token",
			"github_team", "github_username", "support_tier",
			"access_expires_at", "email_sent", "access_granted", "updated_at",
		}),
	}).Create(&access).Error
	if err != nil {
		return nil, fmt.Errorf("upsert access record: %w", err)
	}

	slog.Info("Sale fulfilled",
		"sessionID", req.SessionID,
		"package", tier,
		"emailSent", result.EmailSent,
		"accessGranted", result.AccessGranted)

	return result, nil
}

// buildTasks assembles the provisioning tasks for a sale. The access grant
// runs before the email so the delivery email can reflect the grant
// outcome. Both are skipped, not failed, when their provider is off.
func (o *Orchestrator) buildTasks(sale *database.Sale, req Request, username string, grantedTeam *string, result *Result) []provisionTask {
	var tasks []provisionTask

	needsAccess := sale.Package == database.TierPro || sale.Package == database.TierEnterprise
	if needsAccess && username != "" && o.granter != nil && o.granter.Enabled() {
		tasks = append(tasks, provisionTask{
			name: "access",
			run: func(ctx context.Context) error {
				team, err := o.granter.Grant(ctx, username, sale.Package)
				if err != nil {
					return err
				}
				*grantedTeam = team
				return nil
			},
		})
	} else if needsAccess {
		*grantedTeam = ""
		if o.granter != nil {
			*grantedTeam = o.granter.TeamForTier(sale.Package)
		}
	}

	if o.mailer != nil && o.mailer.Enabled() {
		tasks = append(tasks, provisionTask{
			name: "email",
			run: func(ctx context.Context) error {
				return o.mailer.SendDelivery(ctx, mailer.Delivery{
					To:            sale.Email,
					CustomerName:  req.CustomerName,
					Package:       sale.Package,
					LicenseKey:    result.LicenseKey,
					DownloadURL:   result.DownloadURL,
					SupportTier:   result.SupportTier,
					ExpiresAt:     result.AccessExpiresAt,
					GitHubTeam:    *grantedTeam,
					AccessGranted: result.AccessGranted,
				})
			},
		})
	}

	return tasks
}
