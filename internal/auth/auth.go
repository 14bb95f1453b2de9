// Package auth guards the admin surface with a passphrase (argon2-hashed in
// settings) and derives the key used to encrypt provider credentials at
// rest.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/launchkit/template-store/config"
	"github.com/launchkit/template-store/internal/database"
)

type contextKey string

const (
	cookieName      = "template_store_admin"
	cookieMaxAge    = 24 * 60 * 60
	apiKeyHeader    = "X-API-Key"
	contextAdminKey = contextKey("admin")
)

var (
	ErrNotConfigured     = errors.New("passphrase not configured")
	ErrInvalidPassword   = errors.New("invalid passphrase")
	ErrAlreadyConfigured = errors.New("passphrase already configured")
)

type Service struct {
	db                     *database.DB
	cfg                    *config.Config
	encryptionKey          []byte
	onCredentialsReady     func()
	credentialsReadyCalled bool
}

func New(db *database.DB, cfg *config.Config) *Service {
	s := &Service{db: db, cfg: cfg}
	if cfg.AdminPassphrase != "" {
		_ = s.setupFromEnv()
	}
	_ = s.loadEncryptionKey()
	return s
}

// OnCredentialsReady registers a callback fired once the encryption key is
// available, so the provider registry can decrypt stored credentials.
func (s *Service) OnCredentialsReady(callback func()) {
	s.onCredentialsReady = callback
	if s.encryptionKey != nil && !s.credentialsReadyCalled {
		s.credentialsReadyCalled = true
		callback()
	}
}

func (s *Service) setupFromEnv() error {
	saltStr, err := s.db.GetSetting(database.SettingPassphraseSalt)
	var salt []byte
	if err != nil {
		salt, err = GenerateSalt()
		if err != nil {
			return err
		}
		saltStr = base64.StdEncoding.EncodeToString(salt)
		if err := s.db.SetSetting(database.SettingPassphraseSalt, saltStr); err != nil {
			return err
		}
	} else {
		salt, _ = base64.StdEncoding.DecodeString(saltStr)
	}

	if err := s.db.SetSetting(database.SettingPassphraseHash, HashPassphrase(s.cfg.AdminPassphrase, salt)); err != nil {
		return err
	}

	if _, err := s.db.GetSetting(database.SettingEncryptionSalt); err != nil {
		encSalt, err := GenerateSalt()
		if err != nil {
			return err
		}
		if err := s.db.SetSetting(database.SettingEncryptionSalt, base64.StdEncoding.EncodeToString(encSalt)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) loadEncryptionKey() error {
	if s.cfg.AdminPassphrase == "" {
		return ErrNotConfigured
	}
	return s.loadEncryptionKeyFromPassphrase(s.cfg.AdminPassphrase)
}

func (s *Service) loadEncryptionKeyFromPassphrase(passphrase string) error {
	saltStr, err := s.db.GetSetting(database.SettingEncryptionSalt)
	if err != nil {
		return err
	}
	salt, err := base64.StdEncoding.DecodeString(saltStr)
	if err != nil {
		return err
	}
	s.encryptionKey = DeriveKey(passphrase, salt)
	return nil
}

func (s *Service) IsConfigured() bool {
	return s.db.HasSetting(database.SettingPassphraseHash)
}

func (s *Service) Setup(passphrase string) error {
	if s.IsConfigured() {
		return ErrAlreadyConfigured
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	if err := s.db.SetSetting(database.SettingPassphraseSalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return err
	}
	if err := s.db.SetSetting(database.SettingPassphraseHash, HashPassphrase(passphrase, salt)); err != nil {
		return err
	}

	encSalt, err := GenerateSalt()
	if err != nil {
		return err
	}
	if err := s.db.SetSetting(database.SettingEncryptionSalt, base64.StdEncoding.EncodeToString(encSalt)); err != nil {
		return err
	}

	s.encryptionKey = DeriveKey(passphrase, encSalt)
	return nil
}

func (s *Service) Validate(passphrase string) bool {
	if s.cfg.AdminPassphrase != "" {
		return subtle.ConstantTimeCompare([]byte(passphrase), []byte(s.cfg.AdminPassphrase)) == 1
	}

	saltStr, err := s.db.GetSetting(database.SettingPassphraseSalt)
	if err != nil {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(saltStr)
	if err != nil {
		return false
	}
	storedHash, err := s.db.GetSetting(database.SettingPassphraseHash)
	if err != nil {
		return false
	}
	return VerifyPassphrase(passphrase, salt, storedHash)
}

func (s *Service) cookieSecure() bool {
	return !s.cfg.DevMode
}

func (s *Service) Login(w http.ResponseWriter, passphrase string) error {
	if !s.Validate(passphrase) {
		return ErrInvalidPassword
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    base64.StdEncoding.EncodeToString([]byte(passphrase)),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
	return nil
}

func (s *Service) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// Middleware requires a valid admin passphrase via header or cookie. It is
// mounted only on the admin route group.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get(apiKeyHeader); apiKey != "" && s.Validate(apiKey) {
			s.ensureEncryptionKey(apiKey)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextAdminKey, true)))
			return
		}

		if cookie, err := r.Cookie(cookieName); err == nil {
			if passphrase, err := base64.StdEncoding.DecodeString(cookie.Value); err == nil && s.Validate(string(passphrase)) {
				s.ensureEncryptionKey(string(passphrase))
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextAdminKey, true)))
				return
			}
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func (s *Service) ensureEncryptionKey(passphrase string) {
	if s.encryptionKey == nil {
		if err := s.loadEncryptionKeyFromPassphrase(passphrase); err == nil {
			if s.onCredentialsReady != nil && !s.credentialsReadyCalled {
				s.credentialsReadyCalled = true
				s.onCredentialsReady()
			}
		}
	}
}

func IsAdmin(ctx context.Context) bool {
	admin, ok := ctx.Value(contextAdminKey).(bool)
	return ok && admin
}

func (s *Service) CheckAuthentication(r *http.Request) bool {
	if apiKey := r.Header.Get(apiKeyHeader); apiKey != "" && s.Validate(apiKey) {
		return true
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		if passphrase, err := base64.StdEncoding.DecodeString(cookie.Value); err == nil && s.Validate(string(passphrase)) {
			return true
		}
	}
	return false
}

func (s *Service) EncryptCredentials(plaintext []byte) ([]byte, error) {
	if s.encryptionKey == nil {
		return nil, ErrNotConfigured
	}
	return Encrypt(plaintext, s.encryptionKey)
}

func (s *Service) DecryptCredentials(ciphertext []byte) ([]byte, error) {
	if s.encryptionKey == nil {
		return nil, ErrNotConfigured
	}
	return Decrypt(ciphertext, s.encryptionKey)
}
