package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testBox(t *testing.T, seed byte) *Box {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i) + seed
	}
	box, err := New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return box
}

func TestSealOpenRoundTrip(t *testing.T) {
	box := testBox(t, 1)

	blob, err := box.Seal("refresh-token-value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(blob, "refresh-token-value") {
		t.Fatal("plaintext leaked into sealed blob")
	}
	secret, err := box.Open(blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if secret != "refresh-token-value" {
		t.Fatalf("round trip = %q", secret)
	}
}

func TestOpenRejectsWrongKeyAndTampering(t *testing.T) {
	box := testBox(t, 1)
	other := testBox(t, 2)

	blob, err := box.Seal("refresh-token-value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := other.Open(blob); err == nil {
		t.Fatal("open with wrong key succeeded")
	}
	if _, err := box.Open(blob[:len(blob)/2]); err == nil {
		t.Fatal("open of truncated blob succeeded")
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty key accepted")
	}
	if _, err := New("not base64!!"); err == nil {
		t.Fatal("malformed key accepted")
	}
	if _, err := New(base64.StdEncoding.EncodeToString(make([]byte, 16))); err == nil {
		t.Fatal("short key accepted")
	}
}
