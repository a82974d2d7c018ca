// Package credential resolves provider API keys from configuration or the
// OS keychain.
package credential

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/zalando/go-keyring"
)

// KeyringService groups this tool's secrets in the OS keychain.
const KeyringService = "competitor-intel"

// ErrNotFound is returned when no secret exists for a provider.
var ErrNotFound = errors.New("credential: not found")

// Store returns the decrypted secret for a provider.
type Store interface {
	GetCredential(ctx context.Context, provider string) (string, error)
}

// Static serves secrets loaded from configuration, keyed by provider name.
type Static map[string]string

func (s Static) GetCredential(_ context.Context, provider string) (string, error) {
	v := strings.TrimSpace(s[provider])
	if v == "" {
		return "", eris.Wrapf(ErrNotFound, "credential: %s", provider)
	}
	return v, nil
}

// Keyring reads and writes secrets in the OS keychain. Accounts are the
// provider names.
type Keyring struct {
	Service string
}

// NewKeyring returns a keychain store under KeyringService.
func NewKeyring() *Keyring {
	return &Keyring{Service: KeyringService}
}

func (k *Keyring) GetCredential(_ context.Context, provider string) (string, error) {
	v, err := keyring.Get(k.Service, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", eris.Wrapf(ErrNotFound, "credential: %s", provider)
	}
	if err != nil {
		return "", eris.Wrapf(err, "credential: keyring get %s", provider)
	}
	if strings.TrimSpace(v) == "" {
		return "", eris.Wrapf(ErrNotFound, "credential: %s", provider)
	}
	return v, nil
}

// Set stores secret for provider.
func (k *Keyring) Set(provider, secret string) error {
	if strings.TrimSpace(provider) == "" {
		return eris.New("credential: provider name is empty")
	}
	if strings.TrimSpace(secret) == "" {
		return eris.New("credential: secret is empty")
	}
	return eris.Wrapf(keyring.Set(k.Service, provider, secret), "credential: keyring set %s", provider)
}

// Delete removes provider's secret. Deleting a missing secret is not an error.
func (k *Keyring) Delete(provider string) error {
	err := keyring.Delete(k.Service, provider)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return eris.Wrapf(err, "credential: keyring delete %s", provider)
}

// Chain asks each store in order and returns the first secret found. Any
// error other than ErrNotFound stops the search.
type Chain []Store

func (c Chain) GetCredential(ctx context.Context, provider string) (string, error) {
	for _, s := range c {
		v, err := s.GetCredential(ctx, provider)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", eris.Wrapf(ErrNotFound, "credential: %s", provider)
}
