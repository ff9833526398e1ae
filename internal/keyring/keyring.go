// Package keyring stores bot secrets in the operating system keyring, as a
// fallback for keys the operator prefers not to keep in the secrets file.
package keyring

import (
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "botminder"

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
)

func initKeyring() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,      // macOS Keychain
				keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
				keyring.WinCredBackend,       // Windows Credential Manager
				keyring.PassBackend,          // Pass (password-store.org)
			},
		})
	})
	return ring, ringErr
}

// SetSecret stores a secret under the given canonical key name
func SetSecret(key, value string) error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	return kr.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
}

// GetSecret retrieves a secret for the given canonical key name.
// Returns empty string if nothing is stored.
func GetSecret(key string) (string, error) {
	kr, err := initKeyring()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := kr.Get(key)
	if err == keyring.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret: %w", err)
	}
	return string(item.Data), nil
}

// DeleteSecret removes a stored secret
func DeleteSecret(key string) error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	err = kr.Remove(key)
	if err == keyring.ErrKeyNotFound {
		return fmt.Errorf("no secret stored for '%s'", key)
	}
	return err
}

// Fallback adapts the keyring to the envset fallback contract: consulted only
// for keys absent from the secrets file. Lookup errors mean "not found" here;
// a missing required key is still reported by resolution itself.
func Fallback(canonical string) (string, bool) {
	value, err := GetSecret(canonical)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}
