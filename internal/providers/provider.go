// Package providers manages the outbound provider adapters (access grants,
// delivery email) and their encrypted credentials.
package providers

import (
	"context"
	"errors"
)

// Adapter is the interface every provider adapter implements.
type Adapter interface {
	ID() string
	Name() string

	CredentialFields() []CredentialField
	SetCredentials(creds map[string]string)
	ValidateCredentials(ctx context.Context) error
}

// CredentialField describes a credential input for the admin UI.
type CredentialField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"` // "text", "password"
	Required bool   `json:"required"`
	HelpText string `json:"helpText,omitempty"`
}

// ErrNotConfigured indicates the adapter is missing required credentials.
var ErrNotConfigured = errors.New("provider not configured")
