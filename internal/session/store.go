// Package session holds the process's credential state. The store is an
// explicit dependency handed to the pipeline and the channel managers, never
// a package global; every write replaces the whole tuple under one lock so
// readers cannot observe a partial token set.
package session

import (
	"context"
	"errors"
	"sync"

	"edugate/internal/domain"
)

var ErrNoAccessToken = errors.New("no access token in session")

// TokenSource yields the current access token for a connection attempt.
type TokenSource func(ctx context.Context) (string, error)

type Store struct {
	mu      sync.RWMutex
	creds   domain.Credentials
	profile *domain.Profile
	vault   *Vault
}

// NewStore builds a store backed by an optional vault. When a vault is given
// a previously persisted refresh token is reloaded, so a restarted process
// can resume its session through one refresh call.
func NewStore(vault *Vault) (*Store, error) {
	s := &Store{vault: vault}
	if vault != nil {
		token, err := vault.LoadRefreshToken()
		if err != nil {
			return nil, err
		}
		if token != "" {
			s.creds = domain.Credentials{RefreshToken: token, Tier: domain.TierPersistent}
		}
	}
	return s, nil
}

// Set overwrites the stored tuple. The role claim is derived from the access
// token when the caller did not supply one. Persistent-tier credentials also
// land in the vault; ephemeral ones wipe it.
func (s *Store) Set(creds domain.Credentials) error {
	if creds.Tier == "" {
		creds.Tier = domain.TierEphemeral
	}
	if creds.Role == "" {
		creds.Role = RoleFromToken(creds.AccessToken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vault != nil {
		if creds.Tier == domain.TierPersistent && creds.RefreshToken != "" {
			if err := s.vault.StoreRefreshToken(creds.RefreshToken); err != nil {
				return err
			}
		} else {
			if err := s.vault.Wipe(); err != nil {
				return err
			}
		}
	}
	s.creds = creds
	return nil
}

// Clear wipes every tier and the cached profile. Idempotent.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = domain.Credentials{}
	s.profile = nil
	if s.vault != nil {
		_ = s.vault.Wipe()
	}
}

func (s *Store) Credentials() domain.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

func (s *Store) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Role
}

func (s *Store) Tier() domain.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Tier
}

func (s *Store) SetProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &p
}

func (s *Store) Profile() (domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return domain.Profile{}, false
	}
	return *s.profile, true
}

// TokenSource returns the reader channel managers use to fetch a fresh
// bearer token on every connection attempt.
func (s *Store) TokenSource() TokenSource {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		token := s.AccessToken()
		if token == "" {
			return "", ErrNoAccessToken
		}
		return token, nil
	}
}
