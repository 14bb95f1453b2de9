package license

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/launchkit/template-store/internal/database"
)

var keyPattern = regexp.MustCompile(`^(BSC|PRO|ENT)-[0-9A-F]{6}-[0-9A-F]{6}-[0-9A-F]{4}$`)

func TestGenerateKeyFormat(t *testing.T) {
	tests := []struct {
		tier string
		code string
	}{
		{database.TierBasic, "BSC"},
		{database.TierPro, "PRO"},
		{database.TierEnterprise, "ENT"},
	}
	for _, tt := range tests {
		key, err := GenerateKey(tt.tier)
		if err != nil {
			t.Fatal(err)
		}
		if !keyPattern.MatchString(key) {
			t.Errorf("GenerateKey(%s) = %q, does not match expected format", tt.tier, key)
		}
		if key[:3] != tt.code {
			t.Errorf("GenerateKey(%s) prefix = %q, want %q", tt.tier, key[:3], tt.code)
		}
	}
}

func TestGenerateKeyUnknownTier(t *testing.T) {
	if _, err := GenerateKey("premium"); err == nil {
		t.Error("unknown tier accepted")
	}
}

func TestGenerateKeyUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := GenerateKey(database.TierPro)
		if err != nil {
			t.Fatal(err)
		}
		if seen[key] {
			t.Fatalf("duplicate key after %d generations: %s", i, key)
		}
		seen[key] = true
	}
}

func TestGenerateDownloadToken(t *testing.T) {
	token, err := GenerateDownloadToken()
	if err != nil {
		t.Fatal(err)
	}
	// 32 bytes in unpadded base64url.
	if len(token) != 43 {
		t.Errorf("token length = %d, want 43", len(token))
	}
	if regexp.MustCompile(`[^A-Za-z0-9_-]`).MatchString(token) {
		t.Errorf("token %q contains non-URL-safe characters", token)
	}
}

func TestGenerateDownloadTokenConcurrentUniqueness(t *testing.T) {
	const n = 200
	tokens := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := GenerateDownloadToken()
			if err != nil {
				t.Error(err)
				return
			}
			tokens <- token
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for token := range tokens {
		if seen[token] {
			t.Fatalf("duplicate token: %s", token)
		}
		seen[token] = true
	}
}

func TestAccessExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	basic := AccessExpiry(database.TierBasic, now)
	if basic == nil || !basic.Equal(now.AddDate(0, 0, 30)) {
		t.Errorf("basic expiry = %v, want 30 days out", basic)
	}

	pro := AccessExpiry(database.TierPro, now)
	if pro == nil || !pro.Equal(now.AddDate(0, 0, 90)) {
		t.Errorf("pro expiry = %v, want 90 days out", pro)
	}

	if ent := AccessExpiry(database.TierEnterprise, now); ent != nil {
		t.Errorf("enterprise expiry = %v, want nil", ent)
	}
}

func TestSupportTier(t *testing.T) {
	tests := map[string]string{
		database.TierBasic:      "community",
		database.TierPro:        "priority",
		database.TierEnterprise: "dedicated",
	}
	for tier, want := range tests {
		if got := SupportTier(tier); got != want {
			t.Errorf("SupportTier(%s) = %q, want %q", tier, got, want)
		}
	}
}
