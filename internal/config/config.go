package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultServerURL = "http://127.0.0.1:8000"
	defaultWebAddr   = "127.0.0.1:8081"
	defaultCooldown  = 500 * time.Millisecond
	envPrefix        = "MESSENGER_"
)

// Config holds client settings. Values are layered: defaults, then the YAML
// file, then .env and MESSENGER_* variables, then command-line flags.
type Config struct {
	ServerURL    string        `yaml:"server_url"`
	DataDir      string        `yaml:"data_dir"`
	ProfileDir   string        `yaml:"-"`
	SessionDB    string        `yaml:"session_db"`
	DownloadsDir string        `yaml:"downloads_dir"`
	DownloadsDB  string        `yaml:"downloads_db"`
	Secret       string        `yaml:"secret"`
	NoColor      bool          `yaml:"no_color"`
	Notify       bool          `yaml:"notify"`
	PageCooldown time.Duration `yaml:"page_cooldown"`
	WebAddr      string        `yaml:"web_addr"`
	BridgeSecret string        `yaml:"bridge_secret"`
	Timezone     string        `yaml:"timezone"`
	LogFile      string        `yaml:"log_file"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ServerURL:    defaultServerURL,
		DataDir:      defaultDataDir(),
		Notify:       true,
		PageCooldown: defaultCooldown,
		WebAddr:      defaultWebAddr,
	}
}

// DefaultPath is $XDG_CONFIG_HOME/messenger/config.yaml or the platform
// equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "messenger.yaml"
	}
	return filepath.Join(dir, "messenger", "config.yaml")
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. A missing file is not an error unless required is set.
func Load(path, envFile string, required bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if err := cfg.mergeFile(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || required {
			return nil, err
		}
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadDotEnv reads .env style files without overriding variables that are
// already set.
func loadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from MESSENGER_* variables.
func (cfg *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v := strings.TrimSpace(getenv(envPrefix + name))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}
	str("SERVER_URL", &cfg.ServerURL)
	str("DATA_DIR", &cfg.DataDir)
	str("SESSION_DB", &cfg.SessionDB)
	str("DOWNLOADS_DIR", &cfg.DownloadsDir)
	str("DOWNLOADS_DB", &cfg.DownloadsDB)
	str("SECRET", &cfg.Secret)
	str("WEB_ADDR", &cfg.WebAddr)
	str("BRIDGE_SECRET", &cfg.BridgeSecret)
	str("TIMEZONE", &cfg.Timezone)
	str("LOG_FILE", &cfg.LogFile)
	if err := boolean("NO_COLOR", &cfg.NoColor); err != nil {
		return err
	}
	if err := boolean("NOTIFY", &cfg.Notify); err != nil {
		return err
	}
	if v := strings.TrimSpace(getenv(envPrefix + "PAGE_COOLDOWN")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPAGE_COOLDOWN: %w", envPrefix, err)
		}
		cfg.PageCooldown = d
	}
	if getenv("NO_COLOR") != "" {
		cfg.NoColor = true
	}
	return nil
}

// Finalize validates the settings, derives per-server paths and creates the
// directories they live in.
func (cfg *Config) Finalize() error {
	u, err := url.Parse(strings.TrimSpace(cfg.ServerURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q must be an absolute http(s) url", cfg.ServerURL)
	}
	if cfg.PageCooldown <= 0 {
		cfg.PageCooldown = defaultCooldown
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	cfg.ProfileDir = deriveProfileDir(cfg.DataDir, u)
	if err := os.MkdirAll(cfg.ProfileDir, 0o700); err != nil {
		return fmt.Errorf("prepare profile dir: %w", err)
	}
	if cfg.SessionDB == "" {
		cfg.SessionDB = filepath.Join(cfg.ProfileDir, "session.db")
	}
	if cfg.DownloadsDB == "" {
		cfg.DownloadsDB = filepath.Join(cfg.ProfileDir, "downloads.db")
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = filepath.Join(cfg.ProfileDir, "downloads")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.ProfileDir, "messenger.log")
	}
	return nil
}

// Location is where conversation days start and end. Empty means local time.
func (cfg *Config) Location() (*time.Location, error) {
	if cfg.Timezone == "" || strings.EqualFold(cfg.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	return loc, nil
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "messenger-data"
	}
	return filepath.Join(dir, "messenger", "profiles")
}

// deriveProfileDir keeps sessions for different servers apart.
func deriveProfileDir(base string, server *url.URL) string {
	if base == "" {
		base = "."
	}
	hostPart := "server"
	portPart := server.Port()
	if host, _, err := net.SplitHostPort(server.Host); err == nil {
		hostPart = sanitizePathToken(host)
	} else if server.Host != "" {
		hostPart = sanitizePathToken(server.Host)
	}
	if portPart == "" {
		portPart = "80"
		if server.Scheme == "https" {
			portPart = "443"
		}
	}
	return filepath.Join(base, fmt.Sprintf("%s-%s", hostPart, sanitizePathToken(portPart)))
}

func sanitizePathToken(val string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return "server"
	}
	var b strings.Builder
	for _, r := range val {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == '.', r == ':':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return "server"
	}
	return out
}
