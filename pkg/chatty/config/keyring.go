// keyring.go stores the XMPP password in the operating system's native
// keyring (Linux: Secret Service/GNOME Keyring, macOS: Keychain,
// Windows: Credential Manager) so it does not have to live in the
// config file.
//
// Priority for resolving the password:
//  1. Environment variable (CHATTY_XMPP_PASSWORD, also via .env)
//  2. OS keyring
//  3. config.yaml value (plaintext on disk, least secure)
package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "chatty"

	// KeyringPasswordKey is the key name for the XMPP password.
	KeyringPasswordKey = "xmpp_password"

	// passwordEnvVar overrides everything else.
	passwordEnvVar = "CHATTY_XMPP_PASSWORD"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns empty
// string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__chatty_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolvePassword fills cfg.XMPP.Password using the priority chain:
// env var → OS keyring → config value.
func ResolvePassword(cfg *Config, logger *slog.Logger) {
	if v := os.Getenv(passwordEnvVar); v != "" {
		cfg.XMPP.Password = v
		logger.Debug("xmpp password loaded from environment")
		return
	}
	if cfg.XMPP.Password != "" {
		return
	}
	if v := GetKeyring(KeyringPasswordKey); v != "" {
		cfg.XMPP.Password = v
		logger.Info("xmpp password loaded from OS keyring")
	}
}
