// Package admission decides whether an authenticated identity may use the
// application, based on the domain of its email address.
package admission

import (
	"fmt"
	"strings"

	"github.com/dgellow/forgegate/internal/autherr"
	"github.com/dgellow/forgegate/internal/emailutil"
	"github.com/dgellow/forgegate/internal/idp"
)

// EmptyPolicy says what an empty allow-list means.
type EmptyPolicy int

const (
	// DenyAll rejects every identity when no domain is configured.
	DenyAll EmptyPolicy = iota
	// AllowAll admits every identity when no domain is configured,
	// including identities without an email.
	AllowAll
)

// ParseEmptyPolicy maps the configuration values "deny" and "allow". The
// empty string is DenyAll.
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deny":
		return DenyAll, nil
	case "allow":
		return AllowAll, nil
	default:
		return DenyAll, fmt.Errorf("unknown empty domains policy %q, must be 'deny' or 'allow'", s)
	}
}

func (p EmptyPolicy) String() string {
	if p == AllowAll {
		return "allow"
	}
	return "deny"
}

// DomainSet is a read-only set of lowercase domains.
type DomainSet map[string]struct{}

// NewDomainSet lowercases and trims every entry. Blank entries are dropped,
// so splitting an empty configuration value yields an empty set.
func NewDomainSet(domains ...string) DomainSet {
	set := make(DomainSet, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		set[d] = struct{}{}
	}
	return set
}

// Contains reports whether domain is in the set, ignoring case.
func (s DomainSet) Contains(domain string) bool {
	_, ok := s[strings.ToLower(domain)]
	return ok
}

// Filter is safe for concurrent use once constructed.
type Filter struct {
	Allowed     DomainSet
	EmptyPolicy EmptyPolicy
}

// Check returns nil when claims may proceed and *autherr.DomainRejected
// otherwise. claims are not modified.
func (f Filter) Check(claims idp.Claims) error {
	email, _ := claims.Get(idp.ClaimEmail)
	domain := emailutil.ExtractDomain(email)

	if len(f.Allowed) == 0 {
		if f.EmptyPolicy == AllowAll {
			return nil
		}
		return &autherr.DomainRejected{Domain: domain}
	}

	if domain == "" || !f.Allowed.Contains(domain) {
		return &autherr.DomainRejected{Domain: domain}
	}
	return nil
}
