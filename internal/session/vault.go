package session

import (
	"errors"
	"fmt"
	"os"

	"edugate/internal/security/secretbox"
)

// Vault is the long-lived, restricted credential tier: a single file holding
// the AES-GCM sealed refresh token. Access tokens are never written to it.
type Vault struct {
	path string
	box  *secretbox.Box
}

func OpenVault(path, base64Key string) (*Vault, error) {
	if path == "" {
		return nil, errors.New("vault path is required")
	}
	box, err := secretbox.New(base64Key)
	if err != nil {
		return nil, err
	}
	return &Vault{path: path, box: box}, nil
}

func (v *Vault) StoreRefreshToken(token string) error {
	sealed, err := v.box.Seal(token)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	if err := os.WriteFile(v.path, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	return nil
}

// LoadRefreshToken returns an empty string when the vault file does not
// exist; an unreadable or tampered vault is an error.
func (v *Vault) LoadRefreshToken() (string, error) {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read vault: %w", err)
	}
	token, err := v.box.Open(string(raw))
	if err != nil {
		return "", fmt.Errorf("unseal vault: %w", err)
	}
	return token, nil
}

func (v *Vault) Wipe() error {
	err := os.Remove(v.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wipe vault: %w", err)
	}
	return nil
}
