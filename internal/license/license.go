// Package license produces the credentials handed to a customer at
// fulfillment time: a human-auditable license key and an unguessable
// download token.
package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/launchkit/template-store/internal/database"
)

const downloadTokenBytes = 32

// Tier codes embedded in license keys so support can triage from the key
// alone.
var tierCodes = map[string]string{
	database.TierBasic:      "BSC",
	database.TierPro:        "PRO",
	database.TierEnterprise: "ENT",
}

var supportTiers = map[string]string{
	database.TierBasic:      "community",
	database.TierPro:        "priority",
	database.TierEnterprise: "dedicated",
}

// Access windows per tier. Enterprise access never expires.
var accessWindows = map[string]time.Duration{
	database.TierBasic: 30 * 24 * time.Hour,
	database.TierPro:   90 * 24 * time.Hour,
}

// SupportTier returns the support label attached to a tier's access record.
func SupportTier(tier string) string {
	return supportTiers[tier]
}

// AccessExpiry computes the access-expiration timestamp for a tier, or nil
// for unlimited access.
func AccessExpiry(tier string, now time.Time) *time.Time {
	window, ok := accessWindows[tier]
	if !ok {
		return nil
	}
	expiry := now.Add(window)
	return &expiry
}

// GenerateKey builds a license key of the form CODE-XXXXXX-XXXXXX-CCCC:
// tier code, two random hex segments, and a checksum segment derived from
// a hash of the tier, the current time and a random UUID.
func GenerateKey(tier string) (string, error) {
	code, ok := tierCodes[tier]
	if !ok {
		return "", fmt.Errorf("unknown tier: %s", tier)
	}

	segments := make([]string, 2)
	for i := range segments {
		buf := make([]byte, 3)
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", fmt.Errorf("generate key segment: %w", err)
		}
		segments[i] = strings.ToUpper(hex.EncodeToString(buf))
	}

	sum := sha256.Sum256([]byte(tier + "|" + time.Now().UTC().Format(time.RFC3339Nano) + "|" + uuid.NewString()))
	checksum := strings.ToUpper(hex.EncodeToString(sum[:2]))

	return code + "-" + segments[0] + "-" + segments[1] + "-" + checksum, nil
}

// GenerateDownloadToken returns a cryptographically random URL-safe bearer
// token. Tokens are never reused, even on re-fulfillment of the same sale.
func GenerateDownloadToken() (string, error) {
	buf := make([]byte, downloadTokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate download token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
