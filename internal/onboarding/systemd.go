package onboarding

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	currentEUID   = os.Geteuid
	lookupUserFn  = user.Lookup
	currentUserFn = user.Current
	ensureUserFn  = ensureNonRootUser
	runCommandFn  = func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).CombinedOutput()
	}
)

const serviceName = "clienthub.service"

type SetupOptions struct {
	ServiceUser string
	ServiceHome string
	BinaryPath  string
	Version     string
	InstallRoot string
}

type SetupResult struct {
	UserCreated bool
	ServicePath string
	EnvPath     string
}

// SetupSystemd writes a system unit that runs `clienthub run` as
// ServiceUser, creating the user when running as root. An existing env file
// is left untouched.
func SetupSystemd(opts SetupOptions) (*SetupResult, error) {
	if opts.ServiceUser == "" {
		return nil, fmt.Errorf("service user is required")
	}
	if opts.BinaryPath == "" {
		return nil, fmt.Errorf("binary path is required")
	}
	if opts.InstallRoot == "" {
		opts.InstallRoot = "/"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	created := false
	home := opts.ServiceHome
	if home == "" {
		var err error
		created, home, err = ensureUserFn(opts.ServiceUser)
		if err != nil {
			return nil, err
		}
	}

	servicePath := filepath.Join(opts.InstallRoot, "etc", "systemd", "system", serviceName)
	envPath := filepath.Join(home, ".config", "clienthub", "env")

	if err := os.MkdirAll(filepath.Dir(servicePath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(envPath), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(servicePath, []byte(renderSystemUnit(opts, home)), 0o644); err != nil {
		return nil, err
	}
	if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(envPath, []byte(renderEnvFile(home)), 0o600); err != nil {
			return nil, err
		}
	}
	return &SetupResult{UserCreated: created, ServicePath: servicePath, EnvPath: envPath}, nil
}

func ensureNonRootUser(name string) (bool, string, error) {
	if currentEUID() != 0 {
		u, err := lookupUserFn(name)
		if err != nil {
			cur, curErr := currentUserFn()
			if curErr != nil {
				return false, "", fmt.Errorf("cannot resolve current user: %w", curErr)
			}
			return false, cur.HomeDir, nil
		}
		return false, u.HomeDir, nil
	}

	if u, err := lookupUserFn(name); err == nil {
		return false, u.HomeDir, nil
	}
	if out, err := runCommandFn("useradd", "--create-home", "--shell", "/usr/sbin/nologin", name); err != nil {
		if fbOut, fbErr := runCommandFn("adduser", "--disabled-password", "--gecos", "", name); fbErr != nil {
			return false, "", fmt.Errorf("failed to create user %q: useradd=%v (%s), adduser=%v (%s)", name, err, string(out), fbErr, string(fbOut))
		}
	}
	u, err := lookupUserFn(name)
	if err != nil {
		return false, "", fmt.Errorf("user %q created but lookup failed: %w", name, err)
	}
	return true, u.HomeDir, nil
}

func renderSystemUnit(opts SetupOptions, home string) string {
	return strings.Join([]string{
		"[Unit]",
		fmt.Sprintf("Description=clienthub scheduler and intake (v%s)", opts.Version),
		"After=network-online.target",
		"Wants=network-online.target",
		"",
		"[Service]",
		"User=" + opts.ServiceUser,
		"Group=" + opts.ServiceUser,
		"ExecStart=" + shellEscape(filepath.Clean(opts.BinaryPath)) + " run",
		"Restart=always",
		"RestartSec=5",
		"Environment=HOME=" + home,
		"Environment=CLIENTHUB_HOME=" + home,
		"EnvironmentFile=-" + filepath.Join(home, ".config", "clienthub", "env"),
		"WorkingDirectory=" + home,
		"",
		"[Install]",
		"WantedBy=multi-user.target",
		"",
	}, "\n")
}

func renderEnvFile(home string) string {
	return strings.Join([]string{
		"# clienthub runtime environment",
		"# Loaded via systemd EnvironmentFile",
		"SLACK_BOT_TOKEN=",
		"CLIENTHUB_CONFIG=" + filepath.Join(home, ".clienthub", "config.json"),
		"",
	}, "\n")
}

func shellEscape(v string) string {
	if v == "" {
		return "''"
	}
	if strings.IndexFunc(v, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '"' || r == '\'' || r == '\\'
	}) == -1 {
		return v
	}
	return strconv.Quote(v)
}
