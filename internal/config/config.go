package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 3000
	DefaultMode            = ModeDevelopment
	DefaultMaxBodyBytes    = 1 << 20
	DefaultReadTimeout     = 30
	DefaultWriteTimeout    = 30
	DefaultSystemConfig    = "./system-config.json"
	DefaultToolsPath       = "./tools.json"
	DefaultRefreshSchedule = "@every 30s"
	DefaultStatsSchedule   = "@every 5m"
	DefaultStoreBackend    = StoreInMem
	DefaultLogLevel        = "info"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	TransportFramework = "framework"
	TransportRaw       = "raw"
	TransportRouter    = "router"

	StoreInMem  = "inmem"
	StoreSQLite = "sqlite"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Transports TransportsConfig `json:"transports"`
	Catalog    CatalogConfig    `json:"catalog"`
	Store      StoreConfig      `json:"store"`
	Log        LogConfig        `json:"log"`
	Cron       CronConfig       `json:"cron"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Mode         string `json:"mode"` // "development" (default) or "production"
	MaxBodyBytes int64  `json:"maxBodyBytes"`
	LandingPage  string `json:"landingPage,omitempty"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// TransportConfig enables one HTTP adapter. Port 0 means Server.Port.
type TransportConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port,omitempty"`
}

type TransportsConfig struct {
	Framework TransportConfig `json:"framework"`
	Raw       TransportConfig `json:"raw"`
	Router    TransportConfig `json:"router"`
}

type CatalogConfig struct {
	SystemConfig    string `json:"systemConfig"`
	Tools           string `json:"tools"`
	RefreshSchedule string `json:"refreshSchedule,omitempty"`
}

type StoreConfig struct {
	Backend string `json:"backend"` // "inmem" (default) or "sqlite"
	DSN     string `json:"dsn,omitempty"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type CronConfig struct {
	Enabled       bool   `json:"enabled"`
	StatsSchedule string `json:"statsSchedule,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			Mode:         DefaultMode,
			MaxBodyBytes: DefaultMaxBodyBytes,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Transports: TransportsConfig{
			Framework: TransportConfig{Enabled: true},
		},
		Catalog: CatalogConfig{
			SystemConfig:    DefaultSystemConfig,
			Tools:           DefaultToolsPath,
			RefreshSchedule: DefaultRefreshSchedule,
		},
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		Cron: CronConfig{
			Enabled:       true,
			StatsSchedule: DefaultStatsSchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aiplatform")
}

func ConfigPath() string {
	if p := os.Getenv("AIPLATFORM_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadDotEnv loads the first .env found in the working directory or up to
// three parents. Variables already present in the environment are kept.
func LoadDotEnv() (string, bool) {
	candidates := []string{".env", "../.env", "../../.env", "../../../.env"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variable overrides
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if host := os.Getenv("AIPLATFORM_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if mode := os.Getenv("AIPLATFORM_MODE"); mode != "" {
		cfg.Server.Mode = strings.ToLower(mode)
	}
	if tr := os.Getenv("AIPLATFORM_TRANSPORT"); tr != "" {
		cfg.Transports.Select(strings.Split(tr, ",")...)
	}
	if p := os.Getenv("AIPLATFORM_SYSTEM_CONFIG"); p != "" {
		cfg.Catalog.SystemConfig = p
	}
	if p := os.Getenv("AIPLATFORM_TOOLS"); p != "" {
		cfg.Catalog.Tools = p
	}
	if b := os.Getenv("AIPLATFORM_STORE"); b != "" {
		cfg.Store.Backend = strings.ToLower(b)
	}
	if dsn := os.Getenv("AIPLATFORM_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if lvl := os.Getenv("AIPLATFORM_LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if dev := os.Getenv("AIPLATFORM_LOG_DEVELOPMENT"); dev != "" {
		if parsed, err := strconv.ParseBool(dev); err == nil {
			cfg.Log.Development = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultMode
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Catalog.SystemConfig == "" {
		cfg.Catalog.SystemConfig = DefaultSystemConfig
	}
	if cfg.Catalog.Tools == "" {
		cfg.Catalog.Tools = DefaultToolsPath
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// Select enables exactly the named transports.
func (t *TransportsConfig) Select(names ...string) {
	t.Framework.Enabled = false
	t.Raw.Enabled = false
	t.Router.Enabled = false
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case TransportFramework:
			t.Framework.Enabled = true
		case TransportRaw:
			t.Raw.Enabled = true
		case TransportRouter:
			t.Router.Enabled = true
		}
	}
}

// EnabledTransports returns the enabled transports keyed by name with their
// resolved ports.
func (c *Config) EnabledTransports() map[string]int {
	out := make(map[string]int)
	add := func(name string, t TransportConfig) {
		if !t.Enabled {
			return
		}
		port := t.Port
		if port == 0 {
			port = c.Server.Port
		}
		out[name] = port
	}
	add(TransportFramework, c.Transports.Framework)
	add(TransportRaw, c.Transports.Raw)
	add(TransportRouter, c.Transports.Router)
	return out
}

func (c *Config) Production() bool {
	return c.Server.Mode == ModeProduction
}

func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("invalid server mode %q", c.Server.Mode)
	}
	switch c.Store.Backend {
	case StoreInMem, StoreSQLite:
	default:
		return fmt.Errorf("invalid store backend %q", c.Store.Backend)
	}
	if !validPort(c.Server.Port) {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	for name, t := range map[string]TransportConfig{
		TransportFramework: c.Transports.Framework,
		TransportRaw:       c.Transports.Raw,
		TransportRouter:    c.Transports.Router,
	} {
		if !validPort(t.Port) {
			return fmt.Errorf("transport %s: invalid port %d", name, t.Port)
		}
	}

	enabled := c.EnabledTransports()
	if len(enabled) == 0 {
		return fmt.Errorf("no transport enabled")
	}
	seen := make(map[int]string)
	for _, name := range []string{TransportFramework, TransportRaw, TransportRouter} {
		port, ok := enabled[name]
		if !ok {
			continue
		}
		// port 0 asks the OS for a free port, so it never clashes
		if port == 0 {
			continue
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("transports %s and %s both use port %d", other, name, port)
		}
		seen[port] = name
	}
	return nil
}

func validPort(port int) bool {
	return port >= 0 && port <= 65535
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
