package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const apiTokenAccount = "admin_api_token"

// SecretStore reads and writes secrets in the platform secret store.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type keychain struct{}

// NewKeychain returns the platform secret store: the macOS Keychain on
// darwin, a 0600 JSON file in the XDG data dir elsewhere.
func NewKeychain() SecretStore {
	return keychain{}
}

func (keychain) Get(service, account string) (string, error) {
	b, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the admin API bearer token. CONCIERGE_API_TOKEN wins;
// otherwise the token is read from the secret store and generated and saved
// there on first use.
func GetAPIToken(kc SecretStore) (string, error) {
	if tok := os.Getenv("CONCIERGE_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(Service, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(Service, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("saving api token: %w", err)
	}
	return tok, nil
}
