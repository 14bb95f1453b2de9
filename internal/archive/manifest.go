package archive

import "github.com/launchkit/template-store/internal/database"

// Manifests are cumulative: basic ⊂ pro ⊂ enterprise. Entries are paths
// relative to the template root; directories are walked recursively.
var (
	basicManifest = []string{
		"base",
		"docs/GETTING_STARTED.md",
		"docs/DEPLOYMENT.md",
		"LICENSE.md",
	}
	proManifest = []string{
		"pro",
		"docs/BILLING.md",
		"docs/API_KEYS.md",
	}
	enterpriseManifest = []string{
		"enterprise",
		"docs/SSO.md",
		"docs/AUDIT_LOG.md",
	}
)

// ManifestForTier returns the relative paths included in a tier's archive.
func ManifestForTier(tier string) []string {
	var manifest []string
	switch tier {
	case database.TierEnterprise:
		manifest = append(manifest, enterpriseManifest...)
		fallthrough
	case database.TierPro:
		manifest = append(manifest, proManifest...)
		fallthrough
	case database.TierBasic:
		manifest = append(manifest, basicManifest...)
	}
	return manifest
}
