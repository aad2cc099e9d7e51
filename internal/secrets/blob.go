// Package secrets encrypts small credential files, such as the Google
// Calendar OAuth token, with AES-256-GCM under a per-installation master key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/KafClaw/clienthub/internal/config"
)

const (
	keyFileName    = "master.key"
	keyringService = "clienthub"
	keyringUser    = "master-key"
	blobVersion    = "v1"
)

// Backends accepted in CLIENTHUB_KEY_BACKEND.
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendAuto    = "auto"
)

type encryptedBlob struct {
	Version    string `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Seal encrypts plain with the master key.
func Seal(plain []byte) ([]byte, error) {
	key, err := MasterKey()
	if err != nil {
		return nil, err
	}
	return SealWithKey(plain, key)
}

// Open decrypts a blob written by Seal. Plain JSON that is not a blob is
// returned unchanged, so files written before encryption still load.
func Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}
	key, err := MasterKey()
	if err != nil {
		return nil, err
	}
	return OpenWithKey(data, key)
}

// IsSealed reports whether data looks like a blob written by Seal.
func IsSealed(data []byte) bool {
	var b encryptedBlob
	if err := json.Unmarshal(data, &b); err != nil {
		return false
	}
	return b.Version != "" && b.Nonce != "" && b.Ciphertext != ""
}

// SealWithKey encrypts plain with a 32-byte key.
func SealWithKey(plain, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(encryptedBlob{
		Version:    blobVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// OpenWithKey decrypts a blob with a 32-byte key.
func OpenWithKey(data, key []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty encrypted blob")
	}
	var b encryptedBlob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	if b.Version != blobVersion {
		return nil, fmt.Errorf("unsupported blob version %q", b.Version)
	}
	nonce, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(b.Nonce))
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(b.Ciphertext))
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt blob: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// MasterKey returns the 32-byte master key, creating it on first use.
// CLIENTHUB_MASTER_KEY (base64) wins; otherwise CLIENTHUB_KEY_BACKEND picks
// the store: "file" (default) keeps master.key in the clienthub directory,
// "keyring" uses the OS keyring and "auto" tries the keyring before the file.
func MasterKey() ([]byte, error) {
	if env := strings.TrimSpace(os.Getenv("CLIENTHUB_MASTER_KEY")); env != "" {
		key, err := DecodeKey(env)
		if err != nil {
			return nil, fmt.Errorf("invalid CLIENTHUB_MASTER_KEY: %w", err)
		}
		return key, nil
	}
	switch Backend() {
	case BackendKeyring:
		return keyringKey()
	case BackendAuto:
		if key, err := keyringKey(); err == nil {
			return key, nil
		}
		return fileKey()
	default:
		return fileKey()
	}
}

// Backend returns the configured key backend.
func Backend() string {
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("CLIENTHUB_KEY_BACKEND"))); v {
	case BackendKeyring, BackendAuto:
		return v
	default:
		return BackendFile
	}
}

// DecodeKey base64-decodes a master key and checks its length.
func DecodeKey(raw string) ([]byte, error) {
	key, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(key))
	}
	return key, nil
}

// KeyFilePath is where the file backend keeps the master key.
func KeyFilePath() (string, error) {
	dir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, keyFileName), nil
}

func newKey() ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, "", err
	}
	return key, base64.RawStdEncoding.EncodeToString(key), nil
}

func keyringKey() ([]byte, error) {
	if val, err := keyring.Get(keyringService, keyringUser); err == nil {
		return DecodeKey(val)
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	key, encoded, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, encoded); err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	return key, nil
}

func fileKey() ([]byte, error) {
	path, err := KeyFilePath()
	if err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(path); err == nil {
		return DecodeKey(string(data))
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	key, encoded, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
