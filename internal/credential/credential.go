// Package credential resolves decrypted venue API keys for a user. Secrets
// are stored AES-GCM encrypted under a deployment key; a missing or inactive
// row yields ErrNotConfigured, which callers treat as "skip this unit of
// work", never as a fault.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"signal-trade-bot-go/internal/store"
)

// ErrNotConfigured is returned when a user has no active credential for the
// requested (venue, product, environment).
var ErrNotConfigured = errors.New("venue credentials not configured")

// Keys is a decrypted API key pair.
type Keys struct {
	APIKey    string
	APISecret string
}

// Provider looks up and decrypts credentials.
type Provider interface {
	Resolve(userID uint, venue, productType, environment string) (Keys, error)
}

// StoreProvider implements Provider over the credential store.
type StoreProvider struct {
	store *store.CredentialStore
	key   string
}

// NewStoreProvider creates a provider with the deployment encryption key.
func NewStoreProvider(credentials *store.CredentialStore, encryptionKey string) *StoreProvider {
	return &StoreProvider{store: credentials, key: encryptionKey}
}

func (p *StoreProvider) Resolve(userID uint, venue, productType, environment string) (Keys, error) {
	cred, err := p.store.ActiveFor(userID, venue, productType, environment)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Keys{}, ErrNotConfigured
		}
		return Keys{}, err
	}

	apiKey, err := Decrypt(cred.APIKeyEnc, p.key)
	if err != nil {
		return Keys{}, fmt.Errorf("could not decrypt api key: %w", err)
	}
	apiSecret, err := Decrypt(cred.APISecretEnc, p.key)
	if err != nil {
		return Keys{}, fmt.Errorf("could not decrypt api secret: %w", err)
	}

	return Keys{APIKey: apiKey, APISecret: apiSecret}, nil
}

func gcmKey(secret string) []byte {
	key := []byte(secret)
	if len(key) != 32 {
		padded := make([]byte, 32)
		copy(padded, key)
		key = padded
	}
	return key
}

// Encrypt seals plaintext with AES-GCM under the deployment key.
func Encrypt(plainText, secret string) (string, error) {
	block, err := aes.NewCipher(gcmKey(secret))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	cipherText := gcm.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(cipherText), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(cipherText, secret string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(gcmKey(secret))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, payload := data[:nonceSize], data[nonceSize:]
	plainText, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return "", err
	}

	return string(plainText), nil
}
