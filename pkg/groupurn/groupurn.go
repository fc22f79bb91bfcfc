// Package groupurn parses group entitlement claims shaped as restricted
// RFC 8141 URNs: urn:<namespace>:<namespace-specific-string>[?=<qualifier>].
//
// Only the three fields the group sync engine needs are extracted; this
// is deliberately not a general-purpose RFC 8141 implementation.
package groupurn

import (
	"fmt"
	"strings"
)

// claimPrefixLen is the length of the fixed, discarded prefix carried by
// provider-issued entitlement values ahead of the namespace identifier.
const claimPrefixLen = 4

// URN holds the parsed fields of a group entitlement URN.
type URN struct {
	Namespace string
	NSS       string
	Qualifier string
}

// ParseError reports a claim value that does not conform to the
// restricted URN grammar. It is always recoverable: callers log the
// offending value and continue with the next one.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%q is not a valid RFC 8141 URN: %s", e.Raw, e.Reason)
}

// Parse parses a urn:<NID>:<NSS>[?=<qualifier>] string.
func Parse(raw string) (URN, error) {
	rest, ok := cutScheme(raw)
	if !ok {
		return URN{}, &ParseError{Raw: raw, Reason: "missing urn: scheme"}
	}

	nid, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return URN{}, &ParseError{Raw: raw, Reason: "missing namespace-specific string"}
	}
	if err := validateNID(nid); err != nil {
		return URN{}, &ParseError{Raw: raw, Reason: err.Error()}
	}

	nss, qualifier, _ := strings.Cut(rest, "?=")
	if err := validateNSS(nss); err != nil {
		return URN{}, &ParseError{Raw: raw, Reason: err.Error()}
	}

	return URN{Namespace: nid, NSS: nss, Qualifier: qualifier}, nil
}

// ParseClaim parses a raw claim value whose first four characters are a
// fixed provider prefix in place of the "urn:" scheme. The prefix is
// discarded and the scheme re-applied before parsing.
func ParseClaim(raw string) (URN, error) {
	if len(raw) < claimPrefixLen {
		return URN{}, &ParseError{Raw: raw, Reason: "shorter than claim prefix"}
	}
	return Parse("urn:" + raw[claimPrefixLen:])
}

// String reassembles the URN in canonical form.
func (u URN) String() string {
	s := "urn:" + u.Namespace + ":" + u.NSS
	if u.Qualifier != "" {
		s += "?=" + u.Qualifier
	}
	return s
}

func cutScheme(raw string) (string, bool) {
	if len(raw) < 4 || !strings.EqualFold(raw[:4], "urn:") {
		return "", false
	}
	return raw[4:], true
}

// validateNID checks the namespace identifier per RFC 8141: 1-32
// characters, alphanumerics and hyphen, leading alphanumeric, and not
// the reserved literal "urn".
func validateNID(nid string) error {
	if nid == "" {
		return fmt.Errorf("empty namespace identifier")
	}
	if len(nid) > 32 {
		return fmt.Errorf("namespace identifier longer than 32 characters")
	}
	if strings.EqualFold(nid, "urn") {
		return fmt.Errorf("namespace identifier %q is reserved", nid)
	}
	for i, r := range nid {
		if isAlnum(r) {
			continue
		}
		if r == '-' && i > 0 {
			continue
		}
		return fmt.Errorf("invalid character %q in namespace identifier", r)
	}
	return nil
}

// validateNSS accepts the printable, non-whitespace subset of the RFC
// 8141 NSS character set, which covers the colon-separated segments the
// provider emits.
func validateNSS(nss string) error {
	if nss == "" {
		return fmt.Errorf("empty namespace-specific string")
	}
	for _, r := range nss {
		if r <= ' ' || r > '~' {
			return fmt.Errorf("invalid character %q in namespace-specific string", r)
		}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
