package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"runtime"

	"github.com/zalando/go-keyring"
)

const (
	keystoreService = "rural-demo"
	keystoreUser    = "token-encryption-key"
)

// GenerateOrLoadKey loads the AES-256 key from the system keychain, creating one on first use
func GenerateOrLoadKey() ([]byte, error) {
	encoded, err := keyring.Get(keystoreService, keystoreUser)
	if err == nil && encoded != "" {
		key, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr == nil && len(key) == 32 {
			return key, nil
		}
		log.Printf("WARNING: Stored encryption key is malformed, generating a new one")
	}

	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		log.Printf("Keystore warning: %v", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	if err := keyring.Set(keystoreService, keystoreUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		// Headless Linux boxes often have no secret service; tokens will need re-entry next run
		log.Printf("WARNING: Failed to store key in keychain: %v", err)

		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			return nil, fmt.Errorf("keychain storage required on %s: %w", runtime.GOOS, err)
		}
	}

	return key, nil
}

// DeleteKey removes the encryption key from the keychain
func DeleteKey() error {
	return keyring.Delete(keystoreService, keystoreUser)
}

// IsKeyStored reports whether a key exists in the keychain
func IsKeyStored() bool {
	_, err := keyring.Get(keystoreService, keystoreUser)
	return err == nil
}
