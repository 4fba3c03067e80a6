package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned on any decrypt failure. The message does
// not distinguish a wrong key from corrupted ciphertext.
var ErrDecryptionFailed = errors.New("decryption failed")

// KeyLength is the AES-256 key size in bytes.
const KeyLength = 32

// GenerateMasterKey generates a 32-byte cryptographically secure random key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	return key, nil
}

// DeriveVaultKey derives a per-vault encryption key from the service master
// key using HKDF-SHA256. The vault id is bound into the derivation context
// so ciphertext from one vault never decrypts under another vault's key.
func DeriveVaultKey(masterKey []byte, vaultID int64) ([]byte, error) {
	if len(masterKey) != KeyLength {
		return nil, errors.New("master key must be 32 bytes")
	}
	key := make([]byte, KeyLength)
	ctx := fmt.Sprintf("credvault-vault-key-v1:%d", vaultID)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(ctx))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under the vault key, binding
// the ciphertext to the given associated data (the secret version context).
// A fresh random nonce is drawn per call, so encrypting the same plaintext
// twice never yields equal ciphertext.
func Encrypt(plaintext, key, aad []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Decrypt decrypts AES-256-GCM ciphertext produced by Encrypt. The same
// associated data must be supplied or authentication fails.
func Decrypt(ciphertext, nonce, key, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// VersionAAD builds the associated-data binding for a secret version.
func VersionAAD(secretID int64, version int) []byte {
	return []byte(fmt.Sprintf("secret:%d:v%d", secretID, version))
}

// ZeroBytes overwrites a key buffer after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
