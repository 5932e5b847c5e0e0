package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const (
	BackendGoogle = "google"
	BackendLocal  = "local"
)

type Config struct {
	Datasets Datasets `yaml:"datasets"`
	Sheets   Sheets   `yaml:"sheets"`
	Session  Session  `yaml:"session"`
	Page     Page     `yaml:"page"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Datasets struct {
	Manual string `yaml:"manual"`
	Tool   string `yaml:"tool"`
}

type Sheets struct {
	Backend         string            `yaml:"backend"`
	CredentialsFile string            `yaml:"credentials_file"`
	CredentialsEnv  string            `yaml:"credentials_env"`
	ManualSheet     string            `yaml:"manual_sheet"`
	ToolSheet       string            `yaml:"tool_sheet"`
	SpreadsheetIDs  map[string]string `yaml:"spreadsheet_ids"`
	Timeout         string            `yaml:"timeout"`
}

type Session struct {
	TTL        string `yaml:"ttl"`
	CookieName string `yaml:"cookie_name"`
}

type Page struct {
	Title        string `yaml:"title"`
	Instructions string `yaml:"instructions"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for pickclaims.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "pickclaims")
}

// DataDir returns the XDG data directory for pickclaims.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "pickclaims")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/pickclaims/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'pickclaims init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Datasets: Datasets{
			Manual: "manual.csv",
			Tool:   "tool.csv",
		},
		Sheets: Sheets{
			Backend:        BackendGoogle,
			CredentialsEnv: "PICKCLAIMS_CREDENTIALS",
			ManualSheet:    "TTD_Manual",
			ToolSheet:      "TTD_ToolRanked",
			Timeout:        "30s",
		},
		Session: Session{
			TTL:        "12h",
			CookieName: "pickclaims_session",
		},
		Page:    Page{Title: "Pick Claims to Fact-Check"},
		Server:  Server{Host: "127.0.0.1", Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Sheets.Backend {
	case BackendGoogle, BackendLocal:
	default:
		return fmt.Errorf("invalid sheets.backend %q (want %q or %q)", c.Sheets.Backend, BackendGoogle, BackendLocal)
	}
	if _, err := time.ParseDuration(c.Sheets.Timeout); err != nil {
		return fmt.Errorf("invalid sheets.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		return fmt.Errorf("invalid session.ttl: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Sheets.ManualSheet == "" || c.Sheets.ToolSheet == "" {
		return fmt.Errorf("sheets.manual_sheet and sheets.tool_sheet must be set")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// SheetsTimeout returns the per-call deadline for the row store.
func (c *Config) SheetsTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Sheets.Timeout)
	return d
}

// SessionTTL returns how long an idle participant session is kept.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Session.TTL)
	return d
}

// Credentials returns the service-account JSON, read from the configured
// file or, failing that, from the configured environment variable.
func (c *Config) Credentials() ([]byte, error) {
	if c.Sheets.CredentialsFile != "" {
		data, err := os.ReadFile(c.Sheets.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		return data, nil
	}
	if c.Sheets.CredentialsEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.Sheets.CredentialsEnv)); v != "" {
			return []byte(v), nil
		}
	}
	return nil, fmt.Errorf("no service-account credentials: set sheets.credentials_file or $%s", c.Sheets.CredentialsEnv)
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
