package walletspec

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate enforces the import policy on a freshly parsed wallet definition.
// The checks run in a fixed order and the first failure is returned. On
// success the very same spec is returned, untouched.
func Validate(spec *WalletSpec, ownFP Fingerprint) (*WalletSpec, error) {
	if _, ok := spec.Cosigner(ownFP); !ok {
		return nil, &PolicyError{Rule: RuleOwnKeyMissing}
	}

	nameLen := utf8.RuneCountInString(spec.Name)
	switch {
	case nameLen == 0:
		return nil, &PolicyError{Rule: RuleNameEmpty}

	case nameLen > MaxNameLen:
		return nil, &PolicyError{
			Rule: RuleNameTooLong,
			Detail: fmt.Sprintf("must be at most %d long, got %d",
				MaxNameLen, nameLen),
		}

	case strings.TrimSpace(spec.Name) != spec.Name:
		return nil, &PolicyError{
			Rule:   RuleNameInvalid,
			Detail: "surrounding white space",
		}

	case strings.IndexFunc(spec.Name, unicode.IsControl) >= 0:
		return nil, &PolicyError{
			Rule:   RuleNameInvalid,
			Detail: "control character",
		}
	}

	switch {
	case spec.M < 1 || spec.M > spec.N || spec.N > MaxCosigners:
		return nil, &PolicyError{
			Rule:   RuleInvalidPolicy,
			Detail: spec.Policy(),
		}

	case spec.N != len(spec.Cosigners):
		return nil, &PolicyError{
			Rule: RuleInvalidPolicy,
			Detail: fmt.Sprintf("policy is %v but %d keys given",
				spec.Policy(), len(spec.Cosigners)),
		}
	}

	if !spec.AddressFormat.IsKnown() {
		return nil, &PolicyError{Rule: RuleUnknownFormat}
	}

	seen := make(map[Fingerprint]struct{}, len(spec.Cosigners))
	for _, c := range spec.Cosigners {
		if _, ok := seen[c.Fingerprint]; ok {
			return nil, &PolicyError{
				Rule:   RuleDuplicateKey,
				Detail: c.Fingerprint.String(),
			}
		}
		seen[c.Fingerprint] = struct{}{}
	}

	log.Debugf("Wallet %q passed policy checks: %v, %v", spec.Name,
		spec.Policy(), spec.AddressFormat)

	return spec, nil
}
