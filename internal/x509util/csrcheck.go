package x509util

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrCSRRejected is wrapped by every preflight failure.
var ErrCSRRejected = errors.New("certificate request rejected")

// CSRPolicy controls the checks CheckCSR applies before a request is
// enveloped. The zero value checks the signature and DNS syntax only.
type CSRPolicy struct {
	// ForbidPublicSuffix rejects SANs that are an ICANN public suffix
	// ("com", "co.uk") and wildcards directly above one ("*.co.uk").
	ForbidPublicSuffix bool

	// AllowSingleLabel accepts names such as "localhost".
	AllowSingleLabel bool
}

// DefaultCSRPolicy is the policy used when none is configured.
func DefaultCSRPolicy() CSRPolicy {
	return CSRPolicy{ForbidPublicSuffix: true}
}

// CheckCSR verifies the request's self-signature and its DNS SANs.
func CheckCSR(csr *x509.CertificateRequest, policy CSRPolicy) error {
	if csr == nil {
		return fmt.Errorf("%w: request is nil", ErrCSRRejected)
	}
	if err := csr.CheckSignature(); err != nil {
		return fmt.Errorf("%w: signature does not verify: %v", ErrCSRRejected, err)
	}
	if csr.Subject.String() == "" && len(csr.DNSNames) == 0 && len(csr.EmailAddresses) == 0 &&
		len(csr.IPAddresses) == 0 && len(csr.URIs) == 0 {
		return fmt.Errorf("%w: request has neither a subject nor a subject alternative name", ErrCSRRejected)
	}

	for _, name := range csr.DNSNames {
		if err := validateDNSName(name, policy.AllowSingleLabel); err != nil {
			return fmt.Errorf("%w: SAN %q: %v", ErrCSRRejected, name, err)
		}
		if policy.ForbidPublicSuffix {
			if err := checkPublicSuffix(name); err != nil {
				return fmt.Errorf("%w: SAN %q: %v", ErrCSRRejected, name, err)
			}
		}
	}
	return nil
}

// NormalizeDNSName lowercases name and strips a trailing dot.
func NormalizeDNSName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}

// validateDNSName checks RFC 1035/1123 syntax. A wildcard is accepted as
// the leftmost label only.
func validateDNSName(name string, allowSingleLabel bool) error {
	if name == "" {
		return errors.New("DNS name cannot be empty")
	}
	name = NormalizeDNSName(name)
	if len(name) > 253 {
		return fmt.Errorf("DNS name too long: %d > 253 characters", len(name))
	}

	labels := strings.Split(name, ".")
	if len(labels) < 2 && !allowSingleLabel {
		return fmt.Errorf("DNS name must have at least 2 labels: %q", name)
	}

	for i, label := range labels {
		if label == "" {
			return errors.New("empty label in DNS name")
		}
		if len(label) > 63 {
			return fmt.Errorf("label too long: %q (%d > 63 characters)", label, len(label))
		}
		if label == "*" {
			if i != 0 {
				return errors.New("wildcard (*) must be leftmost label")
			}
			continue
		}
		if !isValidDNSLabel(label) {
			return fmt.Errorf("invalid DNS label %q", label)
		}
	}
	return nil
}

func isValidDNSLabel(label string) bool {
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

func checkPublicSuffix(name string) error {
	name = NormalizeDNSName(name)
	base := name
	if strings.HasPrefix(name, "*.") {
		base = name[2:]
	}
	suffix, icann := publicsuffix.PublicSuffix(base)
	if icann && suffix == base {
		if base != name {
			return fmt.Errorf("wildcard on public suffix %q", suffix)
		}
		return fmt.Errorf("name is the public suffix %q", suffix)
	}
	return nil
}
