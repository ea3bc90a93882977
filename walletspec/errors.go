package walletspec

import "fmt"

// ParseError is returned when a wallet definition can't be decoded.
type ParseError struct {
	// Line is the 1-based line number the problem was found on, or zero
	// if the problem concerns the file as a whole.
	Line int

	// Reason describes what is wrong.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error returns a human readable description of the parse failure.
func (e *ParseError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}

	return msg
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// PolicyRule enumerates the checks done by Validate.
type PolicyRule uint8

const (
	// RuleOwnKeyMissing fails when the device's own key isn't one of the
	// cosigners.
	RuleOwnKeyMissing PolicyRule = iota + 1

	// RuleNameEmpty fails when the wallet has no name.
	RuleNameEmpty

	// RuleNameTooLong fails when the name exceeds MaxNameLen.
	RuleNameTooLong

	// RuleInvalidPolicy fails for an M-of-N outside 1 <= M <= N <= 15, or
	// when N doesn't match the number of cosigners.
	RuleInvalidPolicy

	// RuleUnknownFormat fails for an unrecognised address format.
	RuleUnknownFormat

	// RuleDuplicateKey fails when two cosigners share a fingerprint.
	RuleDuplicateKey

	// RuleNameInvalid fails for names with surrounding white space or
	// control characters, which don't survive a round trip through the
	// text format.
	RuleNameInvalid
)

// String returns the message shown to the user for a violated rule.
func (r PolicyRule) String() string {
	switch r {
	case RuleOwnKeyMissing:
		return "my key not included"
	case RuleNameEmpty:
		return "name required"
	case RuleNameTooLong:
		return "name too long"
	case RuleInvalidPolicy:
		return "invalid policy"
	case RuleUnknownFormat:
		return "unknown format"
	case RuleDuplicateKey:
		return "duplicate key"
	case RuleNameInvalid:
		return "invalid name"
	default:
		return "unknown rule"
	}
}

// PolicyError is returned by Validate and names the first violated rule.
type PolicyError struct {
	// Rule is the rule that was violated.
	Rule PolicyRule

	// Detail optionally adds context to the failure.
	Detail string
}

// Error returns the rule message, followed by the detail if present.
func (e *PolicyError) Error() string {
	if e.Detail == "" {
		return e.Rule.String()
	}

	return fmt.Sprintf("%v: %s", e.Rule, e.Detail)
}

// Is makes any two policy errors for the same rule match, so callers can use
// errors.Is against the sentinels below.
func (e *PolicyError) Is(target error) bool {
	t, ok := target.(*PolicyError)

	return ok && t.Rule == e.Rule
}

var (
	// ErrMyKeyNotIncluded matches failures of RuleOwnKeyMissing.
	ErrMyKeyNotIncluded = &PolicyError{Rule: RuleOwnKeyMissing}

	// ErrNameEmpty matches failures of RuleNameEmpty.
	ErrNameEmpty = &PolicyError{Rule: RuleNameEmpty}

	// ErrNameTooLong matches failures of RuleNameTooLong.
	ErrNameTooLong = &PolicyError{Rule: RuleNameTooLong}

	// ErrInvalidPolicy matches failures of RuleInvalidPolicy.
	ErrInvalidPolicy = &PolicyError{Rule: RuleInvalidPolicy}

	// ErrUnknownFormat matches failures of RuleUnknownFormat.
	ErrUnknownFormat = &PolicyError{Rule: RuleUnknownFormat}

	// ErrDuplicateKey matches failures of RuleDuplicateKey.
	ErrDuplicateKey = &PolicyError{Rule: RuleDuplicateKey}

	// ErrNameInvalid matches failures of RuleNameInvalid.
	ErrNameInvalid = &PolicyError{Rule: RuleNameInvalid}
)
