package providers

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/launchkit/template-store/internal/database"
)

// Registry holds the registered adapters and syncs their credentials with
// the database, encrypted at rest.
type Registry struct {
	db       *database.DB
	adapters map[string]Adapter
	mu       sync.RWMutex
}

func NewRegistry(db *database.DB) *Registry {
	return &Registry{
		db:       db,
		adapters: make(map[string]Adapter),
	}
}

func (r *Registry) Register(adapters ...Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, adapter := range adapters {
		r.adapters[adapter.ID()] = adapter
	}
}

func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	return adapter, ok
}

func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// ProviderInfo is an adapter plus its persisted state.
type ProviderInfo struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Enabled          bool              `json:"enabled"`
	HasCredentials   bool              `json:"hasCredentials"`
	UpdatedAt        *time.Time        `json:"updatedAt,omitempty"`
	CredentialFields []CredentialField `json:"credentialFields"`
}

func (r *Registry) ListProviders() ([]ProviderInfo, error) {
	adapters := r.List()
	infos := make([]ProviderInfo, 0, len(adapters))

	for _, adapter := range adapters {
		info := ProviderInfo{
			ID:               adapter.ID(),
			Name:             adapter.Name(),
			CredentialFields: adapter.CredentialFields(),
		}

		var row database.Provider
		if err := r.db.Where("id = ?", adapter.ID()).First(&row).Error; err == nil {
			info.Enabled = row.Enabled
			info.HasCredentials = len(row.CredentialsEnc) > 0
			info.UpdatedAt = &row.UpdatedAt
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// CredentialEncryptor encrypts credentials for storage.
type CredentialEncryptor interface {
	EncryptCredentials(plaintext []byte) ([]byte, error)
}

// CredentialDecryptor decrypts stored credentials.
type CredentialDecryptor interface {
	DecryptCredentials(ciphertext []byte) ([]byte, error)
}

// CredentialCryptor combines both for UpdateProvider.
type CredentialCryptor interface {
	CredentialEncryptor
	CredentialDecryptor
}

// UpdateProvider stores new credentials (encrypted) and the enabled flag,
// and pushes the credentials onto the live adapter.
func (r *Registry) UpdateProvider(id string, enabled bool, credentials map[string]string, cryptor CredentialCryptor) error {
	adapter, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("provider not found: %s", id)
	}

	var existing database.Provider
	r.db.Where("id = ?", id).First(&existing)

	credentialsEnc := existing.CredentialsEnc

	if len(credentials) > 0 {
		credJSON, err := json.Marshal(credentials)
		if err != nil {
			return fmt.Errorf("marshal credentials: %w", err)
		}
		credentialsEnc, err = cryptor.EncryptCredentials(credJSON)
		if err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
		adapter.SetCredentials(credentials)
	} else if len(existing.CredentialsEnc) > 0 {
		if credJSON, err := cryptor.DecryptCredentials(existing.CredentialsEnc); err == nil {
			var existingCreds map[string]string
			if json.Unmarshal(credJSON, &existingCreds) == nil {
				adapter.SetCredentials(existingCreds)
			}
		}
	}

	row := database.Provider{
		ID:             id,
		Name:           adapter.Name(),
		Enabled:        enabled,
		CredentialsEnc: credentialsEnc,
	}
	return r.db.Save(&row).Error
}

// LoadCredentialsWithDecryptor decrypts stored credentials for all
// providers and pushes them onto the adapters. Called at startup and again
// when the encryption key becomes available.
func (r *Registry) LoadCredentialsWithDecryptor(decryptor CredentialDecryptor) error {
	var rows []database.Provider
	if err := r.db.Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		if len(row.CredentialsEnc) == 0 {
			continue
		}
		adapter, ok := r.Get(row.ID)
		if !ok {
			continue
		}
		credJSON, err := decryptor.DecryptCredentials(row.CredentialsEnc)
		if err != nil {
			continue
		}
		var credentials map[string]string
		if err := json.Unmarshal(credJSON, &credentials); err != nil {
			continue
		}
		adapter.SetCredentials(credentials)
	}

	return nil
}
