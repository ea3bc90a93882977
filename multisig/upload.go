package multisig

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// Upload is a wallet definition handed over by the transport, along with the
// length and hash the host declared for it.
type Upload struct {
	// Data is the received payload.
	Data []byte

	// Length is the declared payload length.
	Length uint32

	// Hash is the declared SHA256 of the payload.
	Hash [sha256.Size]byte
}

// NewUpload creates an upload whose declared length and hash match the data.
func NewUpload(data []byte) *Upload {
	return &Upload{
		Data:   data,
		Length: uint32(len(data)),
		Hash:   sha256.Sum256(data),
	}
}

// Verify checks the payload against the declared length and hash.
func (u *Upload) Verify() error {
	if uint32(len(u.Data)) != u.Length {
		return fmt.Errorf("%w: got %d bytes, expected %d",
			ErrUploadMismatch, len(u.Data), u.Length)
	}

	hash := sha256.Sum256(u.Data)
	if !bytes.Equal(hash[:], u.Hash[:]) {
		return fmt.Errorf("%w: got hash %x, expected %x",
			ErrUploadMismatch, hash, u.Hash)
	}

	return nil
}
