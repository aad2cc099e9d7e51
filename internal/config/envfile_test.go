package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileParsesAndRespectsExistingValues(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "env")
	content := `
# comment
export CH_FOO=bar
CH_QUOTED="hello world"
CH_SINGLE='x y'
CH_EQ=a=b
INVALID_LINE
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CH_FOO", "existing")
	for _, k := range []string{"CH_QUOTED", "CH_SINGLE", "CH_EQ"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}

	want := map[string]string{
		"CH_FOO":    "existing",
		"CH_QUOTED": "hello world",
		"CH_SINGLE": "x y",
		"CH_EQ":     "a=b",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestLoadEnvFileCandidatesFromExplicitPath(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "clienthub.env")
	if err := os.WriteFile(envPath, []byte("CH_EXPLICIT_KEY=42\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLIENTHUB_ENV_FILE", envPath)
	t.Setenv("CH_EXPLICIT_KEY", "")
	_ = os.Unsetenv("CH_EXPLICIT_KEY")

	LoadEnvFileCandidates()

	if got := os.Getenv("CH_EXPLICIT_KEY"); got != "42" {
		t.Fatalf("expected CH_EXPLICIT_KEY loaded from explicit env file, got %q", got)
	}
}
