package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	raw[19] = 0x2a
	addr := NewAddress(PoolPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "pool1") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Raw() != addr.Raw() || decoded.Prefix() != PoolPrefix {
		t.Fatalf("round trip mismatch: %s", decoded)
	}
}

func TestParseAddressHex(t *testing.T) {
	addr, err := ParseAddress("0x000000000000000000000000000000000000002a", AccountPrefix)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr.Raw()[19] != 0x2a || addr.Prefix() != AccountPrefix {
		t.Fatalf("unexpected address: %s", addr)
	}
	if _, err := ParseAddress("0x2a", AccountPrefix); err == nil {
		t.Fatalf("expected short hex to fail")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "operator.json")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address().Raw() != key.PubKey().Address().Raw() {
		t.Fatalf("address mismatch after reload")
	}
}

func TestEnsureKeystoreCreatesOnce(t *testing.T) {
	t.Setenv(PassphraseEnv, "hunter2")
	path := filepath.Join(t.TempDir(), "nested", "operator.keystore")
	first, created, err := EnsureKeystore(path, EnvPassphrase())
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("keystore mode %v", info.Mode().Perm())
	}
	second, created, err := EnsureKeystore(path, EnvPassphrase())
	if err != nil || created {
		t.Fatalf("second ensure: created=%v err=%v", created, err)
	}
	if first.PubKey().Address().Raw() != second.PubKey().Address().Raw() {
		t.Fatalf("existing keystore was replaced")
	}
	if _, _, err := EnsureKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
