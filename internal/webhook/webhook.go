// Package webhook ingests payment-processor events: it verifies the
// signature, deduplicates by event ID and dispatches to fulfillment and
// subscription bookkeeping. Replayed events are acknowledged without
// re-running side effects.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/fulfillment"
	"gorm.io/gorm"
)

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

var ErrBadEvent = errors.New("malformed webhook event")

type Processor struct {
	db           *database.DB
	orchestrator *fulfillment.Orchestrator
	secret       string

	now func() time.Time
}

func New(db *database.DB, orchestrator *fulfillment.Orchestrator, secret string) *Processor {
	return &Processor{
		db:           db,
		orchestrator: orchestrator,
		secret:       secret,
		now:          time.Now,
	}
}

// event is the processor's envelope. Only the fields this pipeline acts
// on are decoded; everything else rides along in Data.Object untouched.
type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID              string `json:"id"`
	PaymentIntent   string `json:"payment_intent"`
	CustomerDetails struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID         string `json:"id"`
	Customer   string `json:"customer"`
	Status     string `json:"status"`
	CanceledAt *int64 `json:"canceled_at"`
	Items      struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type invoiceObject struct {
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
}

// Process verifies, deduplicates and dispatches one raw webhook payload.
// Signature failures return ErrInvalidSignature or ErrSignatureExpired,
// unparsable payloads return ErrBadEvent; anything else that fails is a
// dispatch error the caller should surface as a retryable server error.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	if err := verifySignature(payload, sigHeader, p.secret, p.now()); err != nil {
		return err
	}

	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return fmt.Errorf("%w: missing id or type", ErrBadEvent)
	}

	duplicate, err := p.db.InsertWebhookEvent(evt.ID, evt.Type)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if duplicate {
		slog.Info("Webhook event already processed", "eventID", evt.ID, "type", evt.Type)
		return nil
	}

	return p.dispatch(ctx, evt)
}

func (p *Processor) dispatch(ctx context.Context, evt event) error {
	switch evt.Type {
	case EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, evt)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return p.handleSubscriptionChange(evt)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(evt)
	case EventInvoicePaid:
		return p.handleInvoiceStatus(evt, database.SubscriptionStatusActive)
	case EventInvoicePaymentFailed:
		return p.handleInvoiceStatus(evt, database.SubscriptionStatusPastDue)
	default:
		slog.Info("Ignoring unrecognized webhook event", "eventID", evt.ID, "type", evt.Type)
		return nil
	}
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, evt event) error {
	var session checkoutSession
	if err := json.Unmarshal(evt.Data.Object, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %v", ErrBadEvent, err)
	}
	if session.ID == "" {
		return fmt.Errorf("%w: checkout session missing id", ErrBadEvent)
	}

	if err := p.orchestrator.CompleteSale(session.ID, session.PaymentIntent); err != nil {
		if errors.Is(err, fulfillment.ErrSaleNotFound) {
			slog.Warn("Checkout completed for unknown sale", "sessionID", session.ID, "eventID", evt.ID)
			return nil
		}
		return fmt.Errorf("complete sale %s: %w", session.ID, err)
	}

	_, err := p.orchestrator.Fulfill(ctx, fulfillment.Request{
		SessionID:      session.ID,
		Email:          session.CustomerDetails.Email,
		CustomerName:   session.CustomerDetails.Name,
		GitHubUsername: session.Metadata["githubUsername"],
	})
	if err != nil {
		if errors.Is(err, fulfillment.ErrAlreadyFulfilled) {
			return nil
		}
		return fmt.Errorf("fulfill sale %s: %w", session.ID, err)
	}
	return nil
}

// handleSubscriptionChange upserts the local subscription row. The
// organization is resolved from event metadata first, then from the
// existing row for the subscription, then from the most recently updated
// row for the same customer.
func (p *Processor) handleSubscriptionChange(evt event) error {
	var sub subscriptionObject
	if err := json.Unmarshal(evt.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", ErrBadEvent, err)
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription missing id", ErrBadEvent)
	}

	orgID := sub.Metadata["organizationId"]
	if orgID == "" {
		orgID = p.resolveOrganization(sub.ID, sub.Customer)
	}

	priceID := ""
	if len(sub.Items.Data) > 0 {
		priceID = sub.Items.Data[0].Price.ID
	}

	var canceledAt *time.Time
	if sub.CanceledAt != nil {
		t := time.Unix(*sub.CanceledAt, 0).UTC()
		canceledAt = &t
	}

	var existing database.Subscription
	err := p.db.Where("subscription_id = ?", sub.ID).First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"customer_id": sub.Customer,
			"status":      sub.Status,
			"price_id":    priceID,
			"canceled_at": canceledAt,
		}
		if orgID != "" {
			updates["organization_id"] = orgID
		}
		return p.db.Model(&existing).Updates(updates).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return p.db.Create(&database.Subscription{
			SubscriptionID: sub.ID,
			CustomerID:     sub.Customer,
			OrganizationID: orgID,
			Status:         sub.Status,
			PriceID:        priceID,
			CanceledAt:     canceledAt,
		}).Error
	default:
		return fmt.Errorf("load subscription %s: %w", sub.ID, err)
	}
}

func (p *Processor) resolveOrganization(subscriptionID, customerID string) string {
	var existing database.Subscription
	if err := p.db.Where("subscription_id = ?", subscriptionID).First(&existing).Error; err == nil {
		if existing.OrganizationID != "" {
			return existing.OrganizationID
		}
	}
	if customerID == "" {
		return ""
	}
	var byCustomer database.Subscription
	err := p.db.Where("customer_id = ? AND organization_id <> ''", customerID).
		Order("updated_at DESC").First(&byCustomer).Error
	if err != nil {
		return ""
	}
	return byCustomer.OrganizationID
}

func (p *Processor) handleSubscriptionDeleted(evt event) error {
	var sub subscriptionObject
	if err := json.Unmarshal(evt.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", ErrBadEvent, err)
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription missing id", ErrBadEvent)
	}

	now := p.now().UTC()
	result := p.db.Model(&database.Subscription{}).
		Where("subscription_id = ?", sub.ID).
		Updates(map[string]interface{}{
			"status":      database.SubscriptionStatusCanceled,
			"canceled_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("cancel subscription %s: %w", sub.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		slog.Warn("Cancellation for unknown subscription", "subscriptionID", sub.ID, "eventID", evt.ID)
	}
	return nil
}

func (p *Processor) handleInvoiceStatus(evt event, status string) error {
	var inv invoiceObject
	if err := json.Unmarshal(evt.Data.Object, &inv); err != nil {
		return fmt.Errorf("%w: invoice: %v", ErrBadEvent, err)
	}
	if inv.Subscription == "" {
		slog.Info("Invoice event without subscription", "eventID", evt.ID, "type", evt.Type)
		return nil
	}

	result := p.db.Model(&database.Subscription{}).
		Where("subscription_id = ?", inv.Subscription).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("update subscription %s: %w", inv.Subscription, result.Error)
	}
	if result.RowsAffected == 0 {
		slog.Warn("Invoice event for unknown subscription", "subscriptionID", inv.Subscription, "eventID", evt.ID)
	}
	return nil
}
