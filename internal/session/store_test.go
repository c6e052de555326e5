package session

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"edugate/internal/domain"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 7)
	}
	v, err := OpenVault(filepath.Join(t.TempDir(), "vault.bin"), base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	return v
}

func signedToken(t *testing.T, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"role": role,
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRoleFromToken_DecodesWithoutVerification(t *testing.T) {
	if got := RoleFromToken(signedToken(t, "Staff")); got != domain.RoleStaff {
		t.Fatalf("role = %q, want Staff", got)
	}
	if got := RoleFromToken("not-a-jwt"); got != "" {
		t.Fatalf("role for garbage = %q, want empty", got)
	}
	if got := RoleFromToken(""); got != "" {
		t.Fatalf("role for empty token = %q, want empty", got)
	}
}

func TestSet_DerivesRoleAndPersistsRefreshToken(t *testing.T) {
	vault := testVault(t)
	store, err := NewStore(vault)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	err = store.Set(domain.Credentials{
		AccessToken:  signedToken(t, "Student"),
		RefreshToken: "refresh-1",
		Tier:         domain.TierPersistent,
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if store.Role() != domain.RoleStudent {
		t.Fatalf("role = %q, want Student", store.Role())
	}

	reloaded, err := NewStore(vault)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if reloaded.RefreshToken() != "refresh-1" {
		t.Fatalf("reloaded refresh token = %q", reloaded.RefreshToken())
	}
	if reloaded.AccessToken() != "" {
		t.Fatalf("access token must not be persisted, got %q", reloaded.AccessToken())
	}
	if reloaded.Tier() != domain.TierPersistent {
		t.Fatalf("reloaded tier = %q", reloaded.Tier())
	}
}

func TestSet_EphemeralTierWipesVault(t *testing.T) {
	vault := testVault(t)
	store, err := NewStore(vault)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Set(domain.Credentials{AccessToken: "a", RefreshToken: "r", Tier: domain.TierPersistent}); err != nil {
		t.Fatalf("set persistent: %v", err)
	}
	if err := store.Set(domain.Credentials{AccessToken: "a2", RefreshToken: "r2", Tier: domain.TierEphemeral}); err != nil {
		t.Fatalf("set ephemeral: %v", err)
	}
	reloaded, err := NewStore(vault)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if reloaded.RefreshToken() != "" {
		t.Fatalf("vault should be empty after ephemeral overwrite, got %q", reloaded.RefreshToken())
	}
}

func TestClear_IsIdempotentAndWipesEverything(t *testing.T) {
	vault := testVault(t)
	store, err := NewStore(vault)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Set(domain.Credentials{AccessToken: "a", RefreshToken: "r", Tier: domain.TierPersistent}); err != nil {
		t.Fatalf("set: %v", err)
	}
	store.SetProfile(domain.Profile{ID: "user-1"})

	store.Clear()
	store.Clear()

	if !store.Credentials().Empty() {
		t.Fatalf("credentials not cleared: %+v", store.Credentials())
	}
	if _, ok := store.Profile(); ok {
		t.Fatalf("profile not cleared")
	}
	reloaded, err := NewStore(vault)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if reloaded.RefreshToken() != "" {
		t.Fatalf("vault not wiped, got %q", reloaded.RefreshToken())
	}
}

func TestReaders_AlwaysSeeFullTuple(t *testing.T) {
	store, err := NewStore(nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	pairs := []domain.Credentials{
		{AccessToken: "a1", RefreshToken: "r1", Tier: domain.TierEphemeral},
		{AccessToken: "a2", RefreshToken: "r2", Tier: domain.TierEphemeral},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = store.Set(pairs[i%2])
		}(i)
		go func() {
			defer wg.Done()
			got := store.Credentials()
			if got.Empty() {
				return
			}
			if (got.AccessToken == "a1") != (got.RefreshToken == "r1") {
				t.Errorf("torn credential tuple observed: %+v", got)
			}
		}()
	}
	wg.Wait()
}

func TestTokenSource(t *testing.T) {
	store, err := NewStore(nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	src := store.TokenSource()

	if _, err := src(context.Background()); !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("expected ErrNoAccessToken, got %v", err)
	}

	if err := store.Set(domain.Credentials{AccessToken: "tok", RefreshToken: "r"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := src(context.Background())
	if err != nil || got != "tok" {
		t.Fatalf("token = %q err = %v", got, err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
