// Package catalog loads the platform's system configuration and tool
// definitions from disk and serves them read-only to the rest of the
// process. A reload swaps the parsed snapshot atomically.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/system-config.json
var defaultSystemConfig []byte

//go:embed defaults/tools.json
var defaultTools []byte

// DefaultSystemConfig returns the built-in system configuration document.
func DefaultSystemConfig() []byte { return bytes.Clone(defaultSystemConfig) }

// DefaultTools returns the sample tool catalog written by onboarding.
func DefaultTools() []byte { return bytes.Clone(defaultTools) }

type Platform struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// SystemConfig is a parsed system configuration. Sections holds every
// top-level member verbatim so callers can pass them through unchanged.
type SystemConfig struct {
	Platform     Platform
	Sections     map[string]json.RawMessage
	Capabilities map[string]bool
}

// Section returns a top-level member, or JSON null when absent.
func (s *SystemConfig) Section(name string) json.RawMessage {
	if raw, ok := s.Sections[name]; ok {
		return raw
	}
	return json.RawMessage("null")
}

// CapabilityNames returns capability names in sorted order.
func (s *SystemConfig) CapabilityNames() []string {
	names := make([]string, 0, len(s.Capabilities))
	for name := range s.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseSystemConfig decodes a JSON or YAML system configuration. The format
// is picked by ext (".yaml"/".yml" for YAML, anything else JSON).
func ParseSystemConfig(data []byte, ext string) (*SystemConfig, error) {
	data, err := normalize(data, ext)
	if err != nil {
		return nil, err
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("parse system config: %w", err)
	}
	if sections == nil {
		return nil, errors.New("parse system config: document is not an object")
	}

	cfg := &SystemConfig{
		Sections:     sections,
		Capabilities: make(map[string]bool),
	}
	if raw, ok := sections["platform"]; ok {
		if err := json.Unmarshal(raw, &cfg.Platform); err != nil {
			return nil, fmt.Errorf("parse platform section: %w", err)
		}
	}
	if raw, ok := sections["core_capabilities"]; ok {
		var caps map[string]json.RawMessage
		if err := json.Unmarshal(raw, &caps); err != nil {
			return nil, fmt.Errorf("parse core_capabilities: %w", err)
		}
		for name, v := range caps {
			cfg.Capabilities[name] = capabilityEnabled(v)
		}
	}
	return cfg, nil
}

// capabilityEnabled accepts {"enabled": bool, ...} or a bare boolean.
func capabilityEnabled(raw json.RawMessage) bool {
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag
	}
	var obj struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Enabled
	}
	return false
}

// ParseTools decodes a JSON or YAML array of tool definitions, keeping each
// element verbatim.
func ParseTools(data []byte, ext string) ([]json.RawMessage, error) {
	data, err := normalize(data, ext)
	if err != nil {
		return nil, err
	}
	var tools []json.RawMessage
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("parse tools: %w", err)
	}
	if tools == nil {
		tools = []json.RawMessage{}
	}
	return tools, nil
}

func normalize(data []byte, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// Catalog holds the most recently loaded system configuration and tools.
type Catalog struct {
	systemPath string
	toolsPath  string
	logger     *zap.Logger

	mu       sync.RWMutex
	system   *SystemConfig
	tools    []json.RawMessage
	loadedAt time.Time
	source   string
}

func New(systemPath, toolsPath string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		systemPath: systemPath,
		toolsPath:  toolsPath,
		logger:     logger,
		tools:      []json.RawMessage{},
	}
}

// Load reads both files. A missing system config falls back to the built-in
// one; an invalid system config is an error and leaves the previous
// snapshot in place. Tools never fail the load: a missing or invalid file
// yields an empty list.
func (c *Catalog) Load() error {
	system, source, err := c.loadSystem()
	if err != nil {
		return err
	}
	tools := c.loadTools()

	c.mu.Lock()
	c.system = system
	c.tools = tools
	c.source = source
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("catalog loaded",
		zap.String("system_config", source),
		zap.Int("tools", len(tools)),
	)
	return nil
}

func (c *Catalog) loadSystem() (*SystemConfig, string, error) {
	if c.systemPath != "" {
		data, err := os.ReadFile(c.systemPath)
		switch {
		case err == nil:
			cfg, err := ParseSystemConfig(data, filepath.Ext(c.systemPath))
			if err != nil {
				return nil, "", fmt.Errorf("%s: %w", c.systemPath, err)
			}
			return cfg, c.systemPath, nil
		case !os.IsNotExist(err):
			return nil, "", fmt.Errorf("read system config: %w", err)
		}
		c.logger.Warn("system config not found, using built-in defaults", zap.String("path", c.systemPath))
	}

	cfg, err := ParseSystemConfig(defaultSystemConfig, ".json")
	if err != nil {
		return nil, "", fmt.Errorf("built-in system config: %w", err)
	}
	return cfg, "builtin", nil
}

func (c *Catalog) loadTools() []json.RawMessage {
	if c.toolsPath == "" {
		return []json.RawMessage{}
	}
	data, err := os.ReadFile(c.toolsPath)
	if err != nil {
		c.logger.Warn("tools unavailable", zap.String("path", c.toolsPath), zap.Error(err))
		return []json.RawMessage{}
	}
	tools, err := ParseTools(data, filepath.Ext(c.toolsPath))
	if err != nil {
		c.logger.Warn("tools unparseable", zap.String("path", c.toolsPath), zap.Error(err))
		return []json.RawMessage{}
	}
	return tools
}

// Reload is Load for periodic refresh: failures are logged and the previous
// snapshot is kept.
func (c *Catalog) Reload() error {
	if err := c.Load(); err != nil {
		c.logger.Warn("catalog reload failed, keeping previous snapshot", zap.Error(err))
		return err
	}
	return nil
}

// System returns the current system configuration. It is never nil once
// Load has succeeded; before that the built-in defaults are returned.
func (c *Catalog) System() *SystemConfig {
	c.mu.RLock()
	sys := c.system
	c.mu.RUnlock()
	if sys != nil {
		return sys
	}
	cfg, _ := ParseSystemConfig(defaultSystemConfig, ".json")
	return cfg
}

// Tools returns the current tool definitions. The slice must not be modified.
func (c *Catalog) Tools() []json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

type Status struct {
	Source   string
	Tools    int
	LoadedAt time.Time
}

func (c *Catalog) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{Source: c.source, Tools: len(c.tools), LoadedAt: c.loadedAt}
}
