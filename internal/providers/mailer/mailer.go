// Package mailer sends the tier-specific delivery email with the
// customer's credentials and download instructions.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/providers"
	"github.com/launchkit/template-store/internal/retry"
)

const (
	ProviderID   = "mailer"
	ProviderName = "Delivery Email"

	callTimeout = 15 * time.Second
)

type Adapter struct {
	credentials map[string]string
	baseURL     string
	from        string
	httpClient  *http.Client
	retryOpts   retry.Options
}

type Option func(*Adapter)

func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

func WithFrom(from string) Option {
	return func(a *Adapter) { a.from = from }
}

func WithRetryOptions(opts retry.Options) Option {
	return func(a *Adapter) { a.retryOpts = opts }
}

func New(opts ...Option) *Adapter {
	a := &Adapter{
		credentials: make(map[string]string),
		baseURL:     "https://api.resend.com",
		from:        "Template Store <delivery@launchkit.dev>",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryOpts:   retry.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string   { return ProviderID }
func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) CredentialFields() []providers.CredentialField {
	return []providers.CredentialField{
		{
			Key:      "api_key",
			Label:    "API Key",
			Type:     "password",
			Required: true,
		},
	}
}

func (a *Adapter) SetCredentials(creds map[string]string) {
	a.credentials = creds
}

func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	key := a.credentials["api_key"]
	if key == "" {
		return providers.ErrNotConfigured
	}
	_, err := retry.WithTimeout(ctx, callTimeout, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/domains", nil)
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return struct{}{}, &retry.StatusError{Status: resp.StatusCode, Message: "mailer credential check failed"}
		}
		return struct{}{}, nil
	})
	return err
}

func (a *Adapter) Enabled() bool {
	return a.credentials["api_key"] != ""
}

// Delivery is everything the email template needs.
type Delivery struct {
	To            string
	CustomerName  string
	Package       string
	LicenseKey    string
	DownloadURL   string
	SupportTier   string
	ExpiresAt     *time.Time
	GitHubTeam    string
	AccessGranted bool
}

// SendDelivery renders the tier-specific delivery email and posts it to the
// provider, retrying transient failures.
func (a *Adapter) SendDelivery(ctx context.Context, d Delivery) error {
	key := a.credentials["api_key"]
	if key == "" {
		return providers.ErrNotConfigured
	}

	body, err := renderBody(d)
	if err != nil {
		return fmt.Errorf("render delivery email: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"from":    a.from,
		"to":      []string{d.To},
		"subject": subjectForTier(d.Package),
		"html":    body,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery email: %w", err)
	}

	_, err = retry.DoWithTimeout(ctx, a.retryOpts, callTimeout, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/emails", bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return struct{}{}, &retry.StatusError{
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("mailer returned %d", resp.StatusCode),
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("send delivery email: %w", err)
	}
	return nil
}

func subjectForTier(tier string) string {
	switch tier {
	case database.TierPro:
		return "Your Pro template is ready"
	case database.TierEnterprise:
		return "Your Enterprise template is ready"
	default:
		return "Your template is ready"
	}
}
