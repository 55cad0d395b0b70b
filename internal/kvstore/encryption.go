package kvstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"chatbridge/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// encryptor seals values with AES-256-GCM. A nil gcm means passthrough.
type encryptor struct {
	gcm       cipher.AEAD
	lookupKey []byte
}

func newEncryptor(secret string) (*encryptor, error) {
	if secret == "" {
		return &encryptor{}, nil
	}
	if len(secret) < constants.MinProfileSecretLength {
		return nil, fmt.Errorf("profile secret must be at least %d characters long", constants.MinProfileSecretLength)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.ProfileEncryptionSalt),
		constants.ProfileKeyIterations, constants.ProfileKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	lookupKey := pbkdf2.Key([]byte(secret), []byte(constants.ProfileLookupSalt),
		constants.ProfileKeyIterations, constants.ProfileKeySize, sha256.New)
	return &encryptor{gcm: gcm, lookupKey: lookupKey}, nil
}

func (e *encryptor) enabled() bool { return e.gcm != nil }

func (e *encryptor) encrypt(plaintext string) (string, error) {
	if !e.enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, constants.ProfileNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *encryptor) decrypt(ciphertext string) (string, error) {
	if !e.enabled() {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < constants.ProfileNonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:constants.ProfileNonceSize], data[constants.ProfileNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// storageKey maps a logical key to its stored form. With encryption on,
// keys are replaced by a keyed hash so lookups stay deterministic.
func (e *encryptor) storageKey(key string) string {
	if !e.enabled() {
		return key
	}
	mac := hmac.New(sha256.New, e.lookupKey)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
