package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keychain service the API token lives under.
const KeyringService = "opsconsole"

// ErrNoToken means no token is configured for the account.
var ErrNoToken = errors.New("no API token stored")

// LoadToken reads the API token for account from the OS keychain.
func LoadToken(account string) (string, error) {
	if account == "" {
		return "", ErrNoToken
	}
	tok, err := keyring.Get(KeyringService, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read keychain: %w", err)
	}
	return tok, nil
}

// StoreToken saves the API token for account in the OS keychain.
func StoreToken(account, token string) error {
	if account == "" {
		return fmt.Errorf("keychain account is required")
	}
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	if err := keyring.Set(KeyringService, account, token); err != nil {
		return fmt.Errorf("write keychain: %w", err)
	}
	return nil
}

// DeleteToken removes the stored token. A missing entry is not an error.
func DeleteToken(account string) error {
	if account == "" {
		return nil
	}
	if err := keyring.Delete(KeyringService, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keychain: %w", err)
	}
	return nil
}

// ResolveToken returns api.token (config file or OPSCONSOLE_TOKEN) when
// set, otherwise the keychain entry for the configured host. An empty
// token with a nil error means none is configured.
func (c *Config) ResolveToken() (string, error) {
	if c.API.Token != "" {
		return c.API.Token, nil
	}
	tok, err := LoadToken(c.Account())
	if errors.Is(err, ErrNoToken) {
		return "", nil
	}
	return tok, err
}
