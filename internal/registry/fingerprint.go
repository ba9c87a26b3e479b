package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hyperjump/docslot/internal/models"
)

// fingerprintNamespace scopes mapping fingerprints; changing it invalidates every stored entry.
var fingerprintNamespace = uuid.MustParse("6f1c2a8e-4d3b-5a71-9c0e-2b7d8f4e1a53")

// Fingerprint returns the integrity tag for a mapping entry. It is compared, never used for lookups.
func Fingerprint(id models.DocumentID, slot models.Slot) string {
	return uuid.NewSHA1(fingerprintNamespace, []byte(fmt.Sprintf("%d:%d", id, slot))).String()
}

// VerifyFingerprint reports whether entry carries the fingerprint of its own (document, slot) pair.
func VerifyFingerprint(entry *models.MappingEntry) bool {
	return entry.Fingerprint == Fingerprint(entry.DocumentID, entry.Slot)
}
