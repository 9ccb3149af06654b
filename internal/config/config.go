package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models qc.yml.
type Config struct {
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	// Classifications maps an asset classification (application type) to the
	// module name checklists link to.
	Classifications map[string]string `yaml:"classifications"`
	Review          struct {
		PersistTimeout time.Duration `yaml:"persist_timeout"`
		CacheSize      int           `yaml:"cache_size"`
	} `yaml:"review"`
	Auth struct {
		DefaultRole string `yaml:"default_role"`
	} `yaml:"auth"`
}

type RBACRole struct {
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
}

const (
	DefaultPersistTimeout = 5 * time.Second
	DefaultCacheSize      = 1024
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with qc config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the built-in config when the workspace has none.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	if _, ok := c.RBAC.Roles["admin"]; !ok {
		return fmt.Errorf("config.rbac.roles must include admin")
	}
	for roleID, role := range c.RBAC.Roles {
		if strings.TrimSpace(roleID) == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, capability := range role.Capabilities {
			if capability == "" {
				return fmt.Errorf("role %s has empty capability", roleID)
			}
		}
	}
	seen := make(map[string]string, len(c.Classifications))
	for class, module := range c.Classifications {
		if strings.TrimSpace(class) == "" || strings.TrimSpace(module) == "" {
			return fmt.Errorf("config.classifications has empty entry %q: %q", class, module)
		}
		key := classKey(class)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("config.classifications keys %q and %q differ only in case", prev, class)
		}
		seen[key] = class
	}
	if c.Review.PersistTimeout < 0 {
		return fmt.Errorf("config.review.persist_timeout must be positive")
	}
	if c.Review.CacheSize < 0 {
		return fmt.Errorf("config.review.cache_size must be positive")
	}
	if c.Auth.DefaultRole != "" {
		if _, ok := c.RBAC.Roles[c.Auth.DefaultRole]; !ok {
			return fmt.Errorf("config.auth.default_role %s is not a defined role", c.Auth.DefaultRole)
		}
	}
	return nil
}

// ModuleFor returns the checklist module for an asset classification.
// Unmapped classifications use their own lower-cased name.
func (c *Config) ModuleFor(classification string) string {
	key := classKey(classification)
	for class, module := range c.Classifications {
		if classKey(class) == key {
			return strings.ToLower(strings.TrimSpace(module))
		}
	}
	return key
}

func classKey(classification string) string {
	return strings.ToLower(strings.TrimSpace(classification))
}

// PersistTimeout returns the bound applied to every store call during a review.
func (c *Config) PersistTimeout() time.Duration {
	if c == nil || c.Review.PersistTimeout <= 0 {
		return DefaultPersistTimeout
	}
	return c.Review.PersistTimeout
}

func (c *Config) CacheSize() int {
	if c == nil || c.Review.CacheSize <= 0 {
		return DefaultCacheSize
	}
	return c.Review.CacheSize
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "qc.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `rbac:
  roles:
    admin:
      description: "Administrators see every asset and may override rework ownership"
      capabilities: [asset.create, asset.submit, asset.view_all, qc.review, rework.override, checklist.manage, rbac.manage]
    qc_reviewer:
      description: "Quality-control reviewers"
      capabilities: [qc.review, asset.view_all]
    author:
      description: "Content authors and designers"
      capabilities: [asset.create, asset.submit]

classifications:
  web: web
  seo: seo
  smm: smm
  content: content
  analytics: analytics
  backlink: backlink
  competitor: competitor
  repository: repository

review:
  persist_timeout: 5s
  cache_size: 1024

auth:
  default_role: author
`
