// Package pseudonym replaces person names, personal IDs and monetary
// amounts in retrieved records with stable per-session pseudonyms, and
// reverses the mapping on the LLM's response.
//
// Originals are stored encrypted with AES-256-GCM under a key derived per
// session via PBKDF2 from the process-wide secret. Because GCM uses a fresh
// IV per encryption, ciphertexts of equal originals differ across sessions
// (and across rows); equality lookup uses a deterministic HMAC of the
// original under the same session key instead.
package pseudonym

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// kdfIterations is the PBKDF2 iteration count. Keep >= 100k.
const kdfIterations = 100_000

// keyLen is the AES-256 key length.
const keyLen = 32

// Cipher holds the session-scoped key material.
type Cipher struct {
	key []byte
}

// NewCipher derives a session key from the process-wide secret. Different
// sessions derive different keys, so material from one session cannot
// decrypt another session's rows.
func NewCipher(secret []byte, sessionID string) (*Cipher, error) {
	if len(secret) < keyLen {
		return nil, fmt.Errorf("encryption secret too short: %d bytes", len(secret))
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id required for key derivation")
	}
	salt := []byte("temuan-pseudonym:" + sessionID)
	key := pbkdf2.Key(secret, salt, kdfIterations, keyLen, sha256.New)
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random IV and
// returns base64(iv || ciphertext || tag).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(iv, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Fails on any tampering or wrong key material.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	iv, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// LookupHash returns the deterministic per-session lookup key for a value:
// hex(HMAC-SHA256(session key, original)). Same original, same session ->
// same hash; the plaintext never reaches the mapping table.
func (c *Cipher) LookupHash(original string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(original))
	return hex.EncodeToString(mac.Sum(nil))
}
