// Package render defines the report renderer collaborator and provides a
// manifest renderer that stores a JSON description of each work unit.
package render

import (
	"context"
	"strings"

	"github.com/JaimeStill/billwatch/internal/fingerprint"
	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/rows"
)

// Renderer produces the artifact for a work unit.
type Renderer interface {
	// Render generates and stores the artifact and returns its identifier.
	Render(ctx context.Context, key grouping.Key, rs []rows.Row, fingerprint string) (string, error)
	// Exists reports whether the artifact for key at fingerprint is stored.
	Exists(ctx context.Context, key grouping.Key, fingerprint string) (bool, error)
	// Prune removes the artifact for key at fingerprint. A missing artifact is
	// not an error.
	Prune(ctx context.Context, key grouping.Key, fingerprint string) error
}

// ArtifactName returns the stored name of a work unit's artifact:
// WR_{wr}_WeekEnding_{MMDDYY}[_Helper_{foreman}]_{fingerprint prefix}.json
func ArtifactName(key grouping.Key, fp string) string {
	var b strings.Builder
	b.WriteString("WR_")
	b.WriteString(sanitize(key.WorkRequestID))
	b.WriteString("_WeekEnding_")
	b.WriteString(key.WeekCode())
	if key.Variant == grouping.VariantHelper {
		b.WriteString("_Helper_")
		b.WriteString(sanitize(key.VariantID))
	}
	b.WriteString("_")
	b.WriteString(fingerprint.Truncate(fp))
	b.WriteString(".json")
	return b.String()
}

// sanitize keeps letters and digits and collapses every other run of
// characters into a single underscore.
func sanitize(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
