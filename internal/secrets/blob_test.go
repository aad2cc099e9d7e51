package secrets

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestSealOpenWithKey(t *testing.T) {
	key := testKey(t)
	plain := []byte(`{"access_token":"at","refresh_token":"rt"}`)
	sealed, err := SealWithKey(plain, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("refresh_token")) || !IsSealed(sealed) {
		t.Fatalf("sealed blob leaks plaintext: %s", sealed)
	}
	got, err := OpenWithKey(sealed, key)
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("open = %q, %v", got, err)
	}
	if _, err := OpenWithKey(sealed, testKey(t)); err == nil {
		t.Fatal("expected wrong key to fail")
	}
	if _, err := OpenWithKey(nil, key); err == nil {
		t.Fatal("expected empty blob to fail")
	}
}

func TestOpenPassesPlainJSONThrough(t *testing.T) {
	t.Setenv("CLIENTHUB_HOME", t.TempDir())
	plain := []byte(`{"access_token":"at"}`)
	got, err := Open(plain)
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("open = %q, %v", got, err)
	}
}

func TestFileBackendCreatesKeyOnce(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLIENTHUB_HOME", home)
	t.Setenv("CLIENTHUB_MASTER_KEY", "")
	t.Setenv("CLIENTHUB_KEY_BACKEND", "")

	k1, err := MasterKey()
	if err != nil {
		t.Fatalf("first key: %v", err)
	}
	path := filepath.Join(home, ".clienthub", "master.key")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key file mode = %v", info.Mode().Perm())
	}
	k2, err := MasterKey()
	if err != nil || !bytes.Equal(k1, k2) {
		t.Fatalf("second key differs: %v", err)
	}

	sealed, err := Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(sealed)
	if err != nil || string(got) != "secret" {
		t.Fatalf("open = %q, %v", got, err)
	}
}

func TestEnvKeyWins(t *testing.T) {
	t.Setenv("CLIENTHUB_HOME", t.TempDir())
	key := testKey(t)
	t.Setenv("CLIENTHUB_MASTER_KEY", base64.RawStdEncoding.EncodeToString(key))
	got, err := MasterKey()
	if err != nil || !bytes.Equal(got, key) {
		t.Fatalf("key = %x, %v", got, err)
	}

	t.Setenv("CLIENTHUB_MASTER_KEY", "c2hvcnQ")
	if _, err := MasterKey(); err == nil {
		t.Fatal("expected short key to fail")
	}
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()
	t.Setenv("CLIENTHUB_HOME", t.TempDir())
	t.Setenv("CLIENTHUB_MASTER_KEY", "")
	t.Setenv("CLIENTHUB_KEY_BACKEND", "keyring")

	k1, err := MasterKey()
	if err != nil {
		t.Fatalf("keyring key: %v", err)
	}
	k2, err := MasterKey()
	if err != nil || !bytes.Equal(k1, k2) {
		t.Fatalf("keyring key not reused: %v", err)
	}
	if path, _ := KeyFilePath(); fileExists(path) {
		t.Fatal("keyring backend should not write a key file")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
