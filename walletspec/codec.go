package walletspec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	headerName   = "name"
	headerPolicy = "policy"
	headerFormat = "format"

	// exportBanner is written at the top of every serialized definition.
	exportBanner = "# Multisig setup file (exported)\n#\n"
)

// Parse decodes a textual wallet definition. Lines starting with '#' and
// blank lines are skipped. The headers name, policy and format are optional
// and matched case-insensitively. Every other line carries one cosigner,
// either as "<fingerprint>: <xpub>" or as a bare xpub.
//
// If no policy header is given, the wallet is N-of-N over all keys found.
// Parse does not apply any policy checks, see Validate for those.
func Parse(r io.Reader, params *chaincfg.Params) (*WalletSpec, error) {
	var (
		spec       = &WalletSpec{AddressFormat: AddrFormatP2SH}
		havePolicy bool
		lineNum    int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++

		raw := scanner.Text()
		if !utf8.ValidString(raw) {
			return nil, &ParseError{
				Line: lineNum, Reason: "invalid utf-8",
			}
		}

		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		label, value, found := strings.Cut(line, ":")
		if !found {
			cosigner, err := parseBareKey(line, params)
			if err != nil {
				return nil, &ParseError{
					Line: lineNum, Reason: "bad key", Err: err,
				}
			}
			spec.Cosigners = append(spec.Cosigners, cosigner)

			continue
		}

		label = strings.TrimSpace(label)
		value = strings.TrimSpace(value)

		switch strings.ToLower(label) {
		case headerName:
			spec.Name = value

		case headerPolicy:
			m, n, err := parsePolicy(value)
			if err != nil {
				return nil, &ParseError{
					Line: lineNum, Reason: "bad policy",
					Err: err,
				}
			}
			spec.M, spec.N = m, n
			havePolicy = true

		case headerFormat:
			spec.AddressFormat = ParseAddressFormat(value)

		default:
			if !isHex(label) {
				return nil, &ParseError{
					Line: lineNum,
					Reason: fmt.Sprintf("unknown header "+
						"%q", label),
				}
			}

			cosigner, err := parseKeyLine(label, value, params)
			if err != nil {
				return nil, &ParseError{
					Line: lineNum, Reason: "bad key line",
					Err: err,
				}
			}
			spec.Cosigners = append(spec.Cosigners, cosigner)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Reason: "unable to read", Err: err}
	}

	if len(spec.Cosigners) == 0 {
		return nil, &ParseError{Reason: "no cosigner keys found"}
	}

	if !havePolicy {
		spec.N = len(spec.Cosigners)
		spec.M = spec.N
	}

	log.Debugf("Parsed wallet definition %q: %v, %v, %d keys", spec.Name,
		spec.Policy(), spec.AddressFormat, len(spec.Cosigners))

	return spec, nil
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(b []byte, params *chaincfg.Params) (*WalletSpec, error) {
	return Parse(bytes.NewReader(b), params)
}

// parsePolicy accepts "M of N" and "M / N".
func parsePolicy(s string) (int, int, error) {
	var parts []string
	switch {
	case strings.Contains(s, "/"):
		parts = strings.SplitN(s, "/", 2)
	default:
		parts = strings.Fields(s)
		if len(parts) != 3 || strings.ToLower(parts[1]) != "of" {
			return 0, 0, fmt.Errorf("expected \"M of N\", got %q", s)
		}
		parts = []string{parts[0], parts[2]}
	}

	m, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad M in %q: %w", s, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad N in %q: %w", s, err)
	}

	return m, n, nil
}

// parseKeyLine decodes a "<fingerprint>: <xpub>" line.
func parseKeyLine(label, value string,
	params *chaincfg.Params) (CosignerKey, error) {

	fp, err := ParseFingerprint(label)
	if err != nil {
		return CosignerKey{}, err
	}

	return NewCosignerKey(fp, value, params)
}

// parseBareKey decodes a lone xpub and infers its master fingerprint. A
// master key is fingerprinted directly. For a depth one key, such as a BIP45
// m/45' export, the parent is the master so the parent fingerprint is used.
// Anything deeper can't be attributed to a master key.
func parseBareKey(xpub string, params *chaincfg.Params) (CosignerKey, error) {
	key, err := ParseExtendedPubKey(xpub, params)
	if err != nil {
		return CosignerKey{}, err
	}

	var fp Fingerprint
	switch key.Depth() {
	case 0:
		pub, err := key.ECPubKey()
		if err != nil {
			return CosignerKey{}, err
		}
		fp = MasterFingerprint(pub)

	case 1:
		fp = Fingerprint(key.ParentFingerprint())

	default:
		return CosignerKey{}, fmt.Errorf("key at depth %d needs an "+
			"explicit fingerprint", key.Depth())
	}

	return CosignerKey{Fingerprint: fp, XPub: xpub, key: key}, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f',
			c >= 'A' && c <= 'F':

		default:
			return false
		}
	}

	return true
}

// Serialize writes the wallet definition in the same grammar Parse accepts.
// The format header is left out for P2SH, and the cosigners are written in
// ascending fingerprint order.
func Serialize(w io.Writer, spec *WalletSpec) error {
	var b bytes.Buffer

	b.WriteString(exportBanner)
	fmt.Fprintf(&b, "%s: %s\n", headerName, spec.Name)
	fmt.Fprintf(&b, "%s: %d of %d\n", headerPolicy, spec.M, spec.N)
	if spec.AddressFormat != AddrFormatP2SH {
		fmt.Fprintf(&b, "%s: %v\n", headerFormat, spec.AddressFormat)
	}
	b.WriteString("\n")

	for _, c := range spec.SortedCosigners() {
		fmt.Fprintf(&b, "%v: %s\n", c.Fingerprint, c.XPub)
	}

	_, err := w.Write(b.Bytes())

	return err
}

// SerializeBytes is a convenience wrapper around Serialize.
func SerializeBytes(spec *WalletSpec) []byte {
	var b bytes.Buffer

	// Writing to a bytes.Buffer can't fail.
	_ = Serialize(&b, spec)

	return b.Bytes()
}
