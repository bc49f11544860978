// Package config provides configuration management for Runbox.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/runbox/runbox/pkg/model"
)

// Config holds all configuration for the Runbox server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, suites).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// SuitesDir is the directory holding suite manifest YAML files.
	SuitesDir string

	// DockerImage is the sandbox Docker image name.
	DockerImage string

	// DockerNetwork is the Docker network for sandbox containers.
	DockerNetwork string

	// Policy is the default sandbox policy ("isolated" or "shared").
	Policy model.Policy

	// ViewportWidth and ViewportHeight, when both set, are applied to every
	// sandbox as it starts.
	ViewportWidth  int
	ViewportHeight int

	// SandboxTimeout bounds a single isolated sandbox. 0 disables it.
	SandboxTimeout time.Duration

	// InitialFiles are run automatically when the first signal channel
	// opens. Comma separated in the environment.
	InitialFiles []string

	// HostURL is the base URL of the host RPC endpoint. Empty disables
	// outbound host calls.
	HostURL string

	// Debug forwards debug items to the host when true.
	Debug bool

	// Slack integration (optional).
	SlackBotToken string
	SlackChannel  string

	// Telegram integration (optional).
	TelegramBotToken string
	TelegramChatID   int64

	// GitHub commit status integration (optional).
	GitHubToken string
	GitHubRepo  string
	CommitSHA   string
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Load config file (~/.runbox/config.env) into the environment.
	// Existing env vars take precedence (loadConfigFile only sets unset vars).
	loadConfigFile()

	dataDir := envOr("RUNBOX_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:       envOr("RUNBOX_ADDR", ":7090"),
		DataDir:          dataDir,
		DatabasePath:     filepath.Join(dataDir, "runbox.db"),
		SuitesDir:        envOr("RUNBOX_SUITES_DIR", filepath.Join(dataDir, "suites")),
		DockerImage:      envOr("RUNBOX_DOCKER_IMAGE", "runbox-sandbox"),
		DockerNetwork:    envOr("RUNBOX_DOCKER_NETWORK", "runbox-net"),
		Policy:           model.ParsePolicy(envOr("RUNBOX_POLICY", "isolated")),
		ViewportWidth:    envOrInt("RUNBOX_VIEWPORT_WIDTH", 0),
		ViewportHeight:   envOrInt("RUNBOX_VIEWPORT_HEIGHT", 0),
		SandboxTimeout:   envOrDuration("RUNBOX_SANDBOX_TIMEOUT", 0),
		InitialFiles:     splitList(os.Getenv("RUNBOX_INITIAL_FILES")),
		HostURL:          os.Getenv("RUNBOX_HOST_URL"),
		Debug:            envOrBool("RUNBOX_DEBUG", false),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:     os.Getenv("SLACK_CHANNEL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   envOrInt64("TELEGRAM_CHAT_ID", 0),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		GitHubRepo:       os.Getenv("RUNBOX_GITHUB_REPO"),
		CommitSHA:        os.Getenv("RUNBOX_COMMIT_SHA"),
	}

	return cfg, nil
}

// loadConfigFile reads ~/.runbox/config.env and sets any values that are not
// already present in the environment. This ensures env vars always win.
func loadConfigFile() {
	path := filepath.Join(defaultDataDir(), "config.env")
	f, err := os.Open(path)
	if err != nil {
		return // file doesn't exist or can't be read, that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		// Only set if not already in the environment.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if (c.ViewportWidth == 0) != (c.ViewportHeight == 0) {
		return fmt.Errorf("RUNBOX_VIEWPORT_WIDTH and RUNBOX_VIEWPORT_HEIGHT must be set together")
	}
	if c.SandboxTimeout < 0 {
		return fmt.Errorf("RUNBOX_SANDBOX_TIMEOUT must not be negative")
	}
	if c.GitHubEnabled() && !strings.Contains(c.GitHubRepo, "/") {
		return fmt.Errorf("RUNBOX_GITHUB_REPO must be owner/name")
	}
	return nil
}

// SlackEnabled returns true if the Slack notifier is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if the Telegram notifier is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// GitHubEnabled returns true if commit status reporting is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != "" && c.GitHubRepo != "" && c.CommitSHA != ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".runbox"
	}
	return filepath.Join(home, ".runbox")
}
