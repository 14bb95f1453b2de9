// Package github grants purchasers access to the private template
// repositories by inviting them onto the tier's team.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/providers"
	"github.com/launchkit/template-store/internal/retry"
)

const (
	ProviderID   = "github"
	ProviderName = "GitHub"

	callTimeout = 10 * time.Second
)

type Adapter struct {
	client      *gh.Client
	credentials map[string]string
	retryOpts   retry.Options
	baseURL     string
}

type Option func(*Adapter)

// WithRetryOptions overrides the backoff applied to API calls.
func WithRetryOptions(opts retry.Options) Option {
	return func(a *Adapter) { a.retryOpts = opts }
}

// WithAPIBaseURL points the client at a different API endpoint, for GitHub
// Enterprise installs and tests.
func WithAPIBaseURL(rawURL string) Option {
	return func(a *Adapter) { a.baseURL = rawURL }
}

func New(opts ...Option) *Adapter {
	a := &Adapter{
		credentials: make(map[string]string),
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
			Key:      "token",
			Label:    "Access Token",
			Type:     "password",
			Required: true,
			HelpText: "Fine-grained token with org admin:write scope",
		},
		{
			Key:      "org",
			Label:    "Organization",
			Type:     "text",
			Required: true,
		},
		{
			Key:      "team_pro",
			Label:    "Pro Team Slug",
			Type:     "text",
			Required: true,
		},
		{
			Key:      "team_enterprise",
			Label:    "Enterprise Team Slug",
			Type:     "text",
			Required: true,
		},
	}
}

func (a *Adapter) SetCredentials(creds map[string]string) {
	a.credentials = creds
	a.client = nil // force re-creation with the new token
}

func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	client, org, err := a.getClient()
	if err != nil {
		return err
	}
	_, err = retry.WithTimeout(ctx, callTimeout, func(ctx context.Context) (struct{}, error) {
		_, _, err := client.Organizations.Get(ctx, org)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("validate github credentials: %w", err)
	}
	return nil
}

// Enabled reports whether grants can be attempted at all.
func (a *Adapter) Enabled() bool {
	return a.credentials["token"] != "" && a.credentials["org"] != ""
}

// TeamForTier maps a purchase tier to the team slug that gates the private
// repositories. Basic has no repository access.
func (a *Adapter) TeamForTier(tier string) string {
	switch tier {
	case database.TierPro:
		return a.credentials["team_pro"]
	case database.TierEnterprise:
		return a.credentials["team_enterprise"]
	}
	return ""
}

// Grant invites the username onto the tier's team. Re-checking existing
// membership first makes the grant idempotent: re-fulfillment of a sale
// never produces a second invitation.
func (a *Adapter) Grant(ctx context.Context, username, tier string) (string, error) {
	client, org, err := a.getClient()
	if err != nil {
		return "", err
	}

	team := a.TeamForTier(tier)
	if team == "" {
		return "", nil
	}

	already, err := retry.DoWithTimeout(ctx, a.retryOpts, callTimeout, func(ctx context.Context) (bool, error) {
		membership, resp, err := client.Teams.GetTeamMembershipBySlug(ctx, org, team, username)
		if err != nil {
			if resp != nil && resp.StatusCode == 404 {
				return false, nil
			}
			return false, wrapAPIError(resp, err)
		}
		state := membership.GetState()
		return state == "active" || state == "pending", nil
	})
	if err != nil {
		return "", fmt.Errorf("check team membership: %w", err)
	}
	if already {
		return team, nil
	}

	_, err = retry.DoWithTimeout(ctx, a.retryOpts, callTimeout, func(ctx context.Context) (struct{}, error) {
		_, resp, err := client.Teams.AddTeamMembershipBySlug(ctx, org, team, username, &gh.TeamAddTeamMembershipOptions{
			Role: "member",
		})
		if err != nil {
			return struct{}{}, wrapAPIError(resp, err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return "", fmt.Errorf("add team membership: %w", err)
	}

	return team, nil
}

func (a *Adapter) getClient() (*gh.Client, string, error) {
	token := a.credentials["token"]
	org := a.credentials["org"]
	if token == "" || org == "" {
		return nil, "", providers.ErrNotConfigured
	}
	if a.client == nil {
		client := gh.NewClient(nil).WithAuthToken(token)
		if a.baseURL != "" {
			base, err := url.Parse(strings.TrimSuffix(a.baseURL, "/") + "/")
			if err != nil {
				return nil, "", fmt.Errorf("parse api base url: %w", err)
			}
			client.BaseURL = base
		}
		a.client = client
	}
	return a.client, org, nil
}

func wrapAPIError(resp *gh.Response, err error) error {
	if resp != nil {
		return &retry.StatusError{Status: resp.StatusCode, Message: err.Error()}
	}
	return err
}

// NormalizeUsername trims whitespace, strips a leading @ and lowercases,
// matching what customers paste into a checkout form.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.ToLower(username)
}
