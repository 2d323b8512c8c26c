// Package encryption seals integration secrets at rest with AES-256-GCM.
//
// Envelopes have the form hex(nonce):hex(ciphertext):hex(tag). Hex never
// contains ':', so the delimiter cannot appear inside a segment.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/Vector/vector-leads-crm/models"
)

const (
	keySize   = 32
	nonceSize = 12
	delimiter = ":"

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// salt is fixed so the same ENCRYPTION_KEY always derives the same working key.
var salt = []byte("vector-leads-crm/integration-vault/v1")

var (
	// ErrMissingSecret is returned by New when no secret was configured.
	ErrMissingSecret = fmt.Errorf("%w: ENCRYPTION_KEY is not set", models.ErrConfiguration)

	// ErrDecryptionFailure is returned for malformed or tampered envelopes.
	ErrDecryptionFailure = errors.New("decryption failure")
)

// Vault encrypts and decrypts secrets with a key derived once from an operator secret.
type Vault struct {
	aead cipher.AEAD
}

// New derives the working key from secret with scrypt and returns a ready Vault.
// The secret may be of any length.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	key, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns the envelope.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - v.aead.Overhead()

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(sealed[:tagStart]),
		hex.EncodeToString(sealed[tagStart:]),
	}, delimiter), nil
}

// Decrypt opens an envelope produced by Encrypt. Any structural problem or an
// authentication mismatch yields ErrDecryptionFailure and no plaintext.
func (v *Vault) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, delimiter)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", ErrDecryptionFailure, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce", ErrDecryptionFailure)
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecryptionFailure)
	}

	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != v.aead.Overhead() {
		return "", fmt.Errorf("%w: bad tag", ErrDecryptionFailure)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}

	return string(plaintext), nil
}
