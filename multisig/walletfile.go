package multisig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/lightningnetwork/msig/walletspec"
)

const (
	// maxWalletFileSize bounds how much we read from a wallet file. A
	// 15-of-15 definition is well under 4KB.
	maxWalletFileSize = 64 * 1024

	// tempFileSuffix is appended to the target name while writing.
	tempFileSuffix = ".tmp"
)

// NameFromFilename derives a wallet name from a file path: the base name
// without its extension, cut to the maximum name length. Surrounding white
// space is dropped after cutting, so the name survives an export.
func NameFromFilename(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.TrimLeftFunc(name, unicode.IsSpace)

	runes := []rune(name)
	if len(runes) > walletspec.MaxNameLen {
		runes = runes[:walletspec.MaxNameLen]
	}

	return strings.TrimRightFunc(string(runes), unicode.IsSpace)
}

// ExportFilename returns the file name a wallet is exported under. Any
// character that isn't safe in a file name is replaced.
func ExportFilename(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-',
			r == '_':

			return r

		default:
			return '_'
		}
	}, name)

	return fmt.Sprintf("export-%s.txt", safe)
}

// readWalletFile reads a wallet definition, refusing oversized files.
func readWalletFile(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxWalletFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxWalletFileSize {
		return nil, fmt.Errorf("wallet file larger than %d bytes",
			maxWalletFileSize)
	}

	return data, nil
}

// writeFileAtomic writes the data to a temporary file next to the target and
// then renames it over the target, so a reader never sees a partial file.
func writeFileAtomic(fileName string, data []byte) error {
	tempFileName := fileName + tempFileSuffix

	// If an old temp file is still around, then we'll delete it before
	// proceeding.
	if _, err := os.Stat(tempFileName); err == nil {
		log.Infof("Found old temp file @ %v, removing before write",
			tempFileName)

		if err := os.Remove(tempFileName); err != nil {
			return fmt.Errorf("unable to remove temp file: %w",
				err)
		}
	}

	tempFile, err := os.Create(tempFileName)
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("unable to sync temp file: %w", err)
	}

	// Before we rename the swap (atomic name swap), we'll make sure to
	// close the current file as some OSes don't support renaming a file
	// that's already open (Windows).
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("unable to close file: %w", err)
	}

	return os.Rename(tempFileName, fileName)
}
