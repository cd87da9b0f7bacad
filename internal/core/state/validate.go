package state

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	entityIDPattern = regexp.MustCompile(`^[a-z_]+\.[a-z0-9_]+$`)
	domainPattern   = regexp.MustCompile(`^[a-z_]+$`)
)

// ValidateEntityID rejects malformed identifiers before any transport call.
// Valid ids are lower-case domain-prefixed, e.g. "light.kitchen".
func ValidateEntityID(entityID string) error {
	if !entityIDPattern.MatchString(entityID) {
		return fmt.Errorf("invalid entity id %q: expected <domain>.<object_id>", entityID)
	}
	return nil
}

// ValidateDomain rejects malformed service domains, e.g. "light" or "cover".
func ValidateDomain(domain string) error {
	if !domainPattern.MatchString(domain) {
		return fmt.Errorf("invalid domain %q", domain)
	}
	return nil
}

// entityDomain derives the domain from a domain-prefixed identifier.
func entityDomain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}
