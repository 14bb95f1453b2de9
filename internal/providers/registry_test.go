package providers

import (
	"context"
	"testing"

	"github.com/launchkit/template-store/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeAdapter struct {
	id          string
	name        string
	credentials map[string]string
}

func (a *fakeAdapter) ID() string   { return a.id }
func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) CredentialFields() []CredentialField {
	return []CredentialField{{Key: "api_key", Label: "API Key", Type: "password", Required: true}}
}

func (a *fakeAdapter) SetCredentials(creds map[string]string) { a.credentials = creds }
func (a *fakeAdapter) ValidateCredentials(context.Context) error {
	if a.credentials["api_key"] == "" {
		return ErrNotConfigured
	}
	return nil
}

// xorCryptor is a stand-in for the AES layer; the registry only cares
// that decrypt(encrypt(x)) == x.
type xorCryptor struct{}

func (xorCryptor) EncryptCredentials(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (xorCryptor) DecryptCredentials(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	for i, b := range ciphertext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func setupRegistry(t *testing.T) (*Registry, *database.DB) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := gormDB.AutoMigrate(&database.Provider{}); err != nil {
		t.Fatal(err)
	}
	db := &database.DB{DB: gormDB}
	return NewRegistry(db), db
}

func TestRegisterAndGet(t *testing.T) {
	registry, _ := setupRegistry(t)
	registry.Register(&fakeAdapter{id: "mailer", name: "Mailer"})

	if _, ok := registry.Get("mailer"); !ok {
		t.Error("registered adapter not found")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Error("unregistered adapter found")
	}
	if got := len(registry.List()); got != 1 {
		t.Errorf("List() = %d adapters, want 1", got)
	}
}

func TestUpdateProviderPersistsEncryptedCredentials(t *testing.T) {
	registry, db := setupRegistry(t)
	adapter := &fakeAdapter{id: "mailer", name: "Mailer"}
	registry.Register(adapter)

	creds := map[string]string{"api_key": "re_secret"}
	if err := registry.UpdateProvider("mailer", true, creds, xorCryptor{}); err != nil {
		t.Fatal(err)
	}

	if adapter.credentials["api_key"] != "re_secret" {
		t.Error("live adapter did not receive the new credentials")
	}

	var row database.Provider
	if err := db.Where("id = ?", "mailer").First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if !row.Enabled {
		t.Error("row not enabled")
	}
	if len(row.CredentialsEnc) == 0 {
		t.Fatal("no encrypted credentials stored")
	}
	if string(row.CredentialsEnc) == `{"api_key":"re_secret"}` {
		t.Error("credentials stored in plaintext")
	}

	// A fresh registry can restore the credentials from the database.
	fresh := &fakeAdapter{id: "mailer", name: "Mailer"}
	registry2 := NewRegistry(db)
	registry2.Register(fresh)
	if err := registry2.LoadCredentialsWithDecryptor(xorCryptor{}); err != nil {
		t.Fatal(err)
	}
	if fresh.credentials["api_key"] != "re_secret" {
		t.Errorf("restored credentials = %v", fresh.credentials)
	}
}

func TestUpdateProviderUnknownID(t *testing.T) {
	registry, _ := setupRegistry(t)
	if err := registry.UpdateProvider("ghost", true, nil, xorCryptor{}); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestListProviders(t *testing.T) {
	registry, _ := setupRegistry(t)
	registry.Register(
		&fakeAdapter{id: "github", name: "GitHub"},
		&fakeAdapter{id: "mailer", name: "Delivery Email"},
	)

	if err := registry.UpdateProvider("mailer", true, map[string]string{"api_key": "x"}, xorCryptor{}); err != nil {
		t.Fatal(err)
	}

	infos, err := registry.ListProviders()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("infos = %d, want 2", len(infos))
	}
	// Sorted by name: Delivery Email before GitHub.
	if infos[0].ID != "mailer" || infos[1].ID != "github" {
		t.Errorf("order = %s, %s", infos[0].ID, infos[1].ID)
	}
	if !infos[0].Enabled || !infos[0].HasCredentials {
		t.Errorf("mailer info = %+v", infos[0])
	}
	if infos[1].Enabled || infos[1].HasCredentials {
		t.Errorf("github info = %+v", infos[1])
	}
}
