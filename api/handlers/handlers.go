// Package handlers is the HTTP surface: storefront checkout, webhook
// ingestion, the download endpoint and the admin API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/launchkit/template-store/config"
	"github.com/launchkit/template-store/internal/auth"
	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/download"
	"github.com/launchkit/template-store/internal/fulfillment"
	"github.com/launchkit/template-store/internal/payment"
	"github.com/launchkit/template-store/internal/providers"
	"github.com/launchkit/template-store/internal/ratelimit"
	"github.com/launchkit/template-store/internal/webhook"
)

var startTime = time.Now()

// maxWebhookBody bounds how much of an inbound webhook payload is read.
const maxWebhookBody = 1 << 20

type Handler struct {
	db           *database.DB
	cfg          *config.Config
	auth         *auth.Service
	registry     *providers.Registry
	orchestrator *fulfillment.Orchestrator
	processor    *webhook.Processor
	payments     payment.Gateway
	downloads    *download.Gateway
	limiter      ratelimit.Limiter
}

func New(
	db *database.DB,
	cfg *config.Config,
	authService *auth.Service,
	registry *providers.Registry,
	orchestrator *fulfillment.Orchestrator,
	processor *webhook.Processor,
	payments payment.Gateway,
	downloads *download.Gateway,
	limiter ratelimit.Limiter,
) *Handler {
	return &Handler{
		db:           db,
		cfg:          cfg,
		auth:         authService,
		registry:     registry,
		orchestrator: orchestrator,
		processor:    processor,
		payments:     payments,
		downloads:    downloads,
		limiter:      limiter,
	}
}

// Helper functions

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkRate applies a policy keyed by caller IP and writes the 429 itself
// when the caller is over the limit.
func (h *Handler) checkRate(w http.ResponseWriter, r *http.Request, policy ratelimit.Policy, scope string) bool {
	res, err := h.limiter.Check(r.Context(), scope+":"+remoteIP(r), policy)
	if err != nil {
		slog.Error("Rate limiter check failed", "scope", scope, "error", err)
		return true
	}
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return false
	}
	return true
}

// Auth handlers

func (h *Handler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"configured":    h.auth.IsConfigured(),
		"authenticated": h.auth.CheckAuthentication(r),
	})
}

func (h *Handler) SetupAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Passphrase) < 8 {
		writeError(w, http.StatusBadRequest, "Passphrase must be at least 8 characters")
		return
	}

	if err := h.auth.Setup(req.Passphrase); err != nil {
		if errors.Is(err, auth.ErrAlreadyConfigured) {
			writeError(w, http.StatusConflict, "Passphrase already configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "Setup failed")
		return
	}

	if err := h.auth.Login(w, req.Passphrase); err != nil {
		writeError(w, http.StatusInternalServerError, "Setup succeeded but login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.checkRate(w, r, ratelimit.AuthPolicy, "auth") {
		return
	}

	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.auth.Login(w, req.Passphrase); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid passphrase")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Checkout handlers

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.SalesEnabled() {
		writeError(w, http.StatusNotImplemented, "Sales are not configured")
		return
	}
	if !h.checkRate(w, r, ratelimit.PublicPolicy, "checkout") {
		return
	}

	var req struct {
		Package        string `json:"package"`
		Email          string `json:"email"`
		GitHubUsername string `json:"githubUsername"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !database.ValidTier(req.Package) {
		writeError(w, http.StatusBadRequest, "Unknown package, expected basic, pro or enterprise")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	session, err := h.payments.CreateCheckoutSession(r.Context(), payment.CheckoutParams{
		PriceID:        h.cfg.PriceForTier(req.Package),
		Tier:           req.Package,
		Email:          req.Email,
		GitHubUsername: req.GitHubUsername,
		SuccessURL:     h.cfg.BaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      h.cfg.BaseURL + "/checkout/cancel",
	})
	if err != nil {
		slog.Error("Checkout session creation failed", "package", req.Package, "error", err)
		writeError(w, http.StatusBadGateway, "Payment provider unavailable")
		return
	}

	sale := database.Sale{
		SessionID:      session.ID,
		Email:          req.Email,
		Package:        req.Package,
		Amount:         payment.AmountForTier(req.Package),
		Status:         database.SaleStatusPending,
		GitHubUsername: req.GitHubUsername,
	}
	if err := h.db.Create(&sale).Error; err != nil {
		slog.Error("Failed to record pending sale", "sessionID", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to record sale")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// VerifyCheckout is the success-page fallback path: it re-checks payment
// with the processor and fulfills if the webhook has not already done so.
func (h *Handler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.SalesEnabled() {
		writeError(w, http.StatusNotImplemented, "Sales are not configured")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing session_id")
		return
	}

	paid, paymentIntentID, err := h.payments.SessionPaymentStatus(r.Context(), sessionID)
	if err != nil {
		slog.Error("Payment status check failed", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusBadGateway, "Payment provider unavailable")
		return
	}
	if !paid {
		writeError(w, http.StatusPaymentRequired, "Payment not completed")
		return
	}

	if err := h.orchestrator.CompleteSale(sessionID, paymentIntentID); err != nil {
		if errors.Is(err, fulfillment.ErrSaleNotFound) {
			writeError(w, http.StatusNotFound, "Unknown checkout session")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to complete sale")
		return
	}

	result, err := h.orchestrator.Fulfill(r.Context(), fulfillment.Request{SessionID: sessionID})
	if err != nil {
		if errors.Is(err, fulfillment.ErrAlreadyFulfilled) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "fulfilled"})
			return
		}
		slog.Error("Fulfillment failed", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Fulfillment failed")
		return
	}

	var sale database.Sale
	h.db.Where("session_id = ?", sessionID).First(&sale)
	writeJSON(w, http.StatusOK, map[string]any{
		"sale":        summarizeSale(sale),
		"fulfillment": result,
	})
}

// Webhook handler

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PaymentWebhookSecret == "" {
		writeError(w, http.StatusNotImplemented, "Webhook processing is not configured")
		return
	}

	payload, err := readBody(r, maxWebhookBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable payload")
		return
	}

	err = h.processor.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, webhook.ErrInvalidSignature), errors.Is(err, webhook.ErrSignatureExpired):
		writeError(w, http.StatusBadRequest, "Invalid signature")
	case errors.Is(err, webhook.ErrBadEvent):
		writeError(w, http.StatusBadRequest, "Malformed event")
	default:
		slog.Error("Webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Processing failed")
	}
}

// Download handler

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	h.downloads.ServeHTTP(w, r)
}

// Admin handlers

type saleSummary struct {
	ID             uint       `json:"id"`
	SessionID      string     `json:"sessionId"`
	Email          string     `json:"email"`
	Package        string     `json:"package"`
	Amount         int64      `json:"amount"`
	Status         string     `json:"status"`
	Fulfilled      bool       `json:"fulfilled"`
	EmailSent      bool       `json:"emailSent"`
	AccessGranted  bool       `json:"accessGranted"`
	GitHubUsername string     `json:"githubUsername,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	var sales []database.Sale
	query := h.db.Order("created_at DESC").Limit(200)
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&sales).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sales")
		return
	}

	summaries := make([]saleSummary, 0, len(sales))
	for _, sale := range sales {
		summaries = append(summaries, summarizeSale(sale))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func summarizeSale(sale database.Sale) saleSummary {
	state := sale.FulfillmentState()
	return saleSummary{
		ID:             sale.ID,
		SessionID:      sale.SessionID,
		Email:          sale.Email,
		Package:        sale.Package,
		Amount:         sale.Amount,
		Status:         sale.Status,
		Fulfilled:      state.Fulfilled,
		EmailSent:      state.EmailSent,
		AccessGranted:  state.AccessGranted,
		GitHubUsername: sale.GitHubUsername,
		CompletedAt:    sale.CompletedAt,
		CreatedAt:      sale.CreatedAt,
	}
}

// Refulfill clears the fulfilled flag and runs fulfillment again for a
// completed sale. The access record is upserted in place, so the customer
// keeps one row with fresh credentials.
func (h *Handler) Refulfill(w http.ResponseWriter, r *http.Request, sessionID string) {
	var sale database.Sale
	if err := h.db.Where("session_id = ?", sessionID).First(&sale).Error; err != nil {
		writeError(w, http.StatusNotFound, "Sale not found")
		return
	}

	sale.SetFulfillmentState(database.FulfillmentState{})
	if err := h.db.Save(&sale).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset fulfillment")
		return
	}

	result, err := h.orchestrator.Fulfill(r.Context(), fulfillment.Request{
		SessionID:      sessionID,
		GitHubUsername: sale.GitHubUsername,
	})
	if err != nil {
		if errors.Is(err, fulfillment.ErrSaleNotCompleted) {
			writeError(w, http.StatusConflict, "Sale is not completed")
			return
		}
		slog.Error("Re-fulfillment failed", "sessionID", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Re-fulfillment failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	var audits []database.DownloadAudit
	query := h.db.Order("created_at DESC").Limit(200)
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&audits).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audits")
		return
	}
	writeJSON(w, http.StatusOK, audits)
}

func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	infos, err := h.registry.ListProviders()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list providers")
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) UpdateProvider(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Enabled     bool              `json:"enabled"`
		Credentials map[string]string `json:"credentials"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.registry.UpdateProvider(id, req.Enabled, req.Credentials, h.auth); err != nil {
		slog.Error("Provider update failed", "provider", id, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) TestProviderCredentials(w http.ResponseWriter, r *http.Request, id string) {
	adapter, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Provider not found")
		return
	}

	if err := adapter.ValidateCredentials(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// Health and stats

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var totalSales, completedSales, fulfilledAccess int64
	h.db.Model(&database.Sale{}).Count(&totalSales)
	h.db.Model(&database.Sale{}).Where("status = ?", database.SaleStatusCompleted).Count(&completedSales)
	h.db.Model(&database.CustomerAccess{}).Count(&fulfilledAccess)

	var revenue int64
	h.db.Model(&database.Sale{}).
		Where("status = ?", database.SaleStatusCompleted).
		Select("COALESCE(SUM(amount), 0)").Scan(&revenue)

	since := time.Now().UTC().Add(-24 * time.Hour)
	var downloads24h, failures24h int64
	h.db.Model(&database.DownloadAudit{}).
		Where("created_at > ? AND status = ?", since, database.AuditStatusSuccess).
		Count(&downloads24h)
	h.db.Model(&database.DownloadAudit{}).
		Where("created_at > ? AND status <> ?", since, database.AuditStatusSuccess).
		Count(&failures24h)

	writeJSON(w, http.StatusOK, map[string]any{
		"totalSales":        totalSales,
		"completedSales":    completedSales,
		"accessRecords":     fulfilledAccess,
		"revenue":           revenue,
		"downloads24h":      downloads24h,
		"failedOrDenied24h": failures24h,
	})
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, limit))
}
