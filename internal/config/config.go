package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models siteline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	ControlPoints struct {
		Catalog map[string]ControlPoint `yaml:"catalog"`
	} `yaml:"control_points"`
	Documents struct {
		// Substrings matched case-insensitively against template type and
		// name when picking a defect report template.
		TemplateKeywords []string `yaml:"template_keywords"`
	} `yaml:"documents"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ControlPoint struct {
	Description string `yaml:"description"`
	Critical    bool   `yaml:"critical"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "construction-project" {
		return fmt.Errorf("config.project.kind must be 'construction-project'")
	}
	for code, cp := range c.ControlPoints.Catalog {
		if code == "" {
			return fmt.Errorf("config.control_points.catalog contains empty code")
		}
		if cp.Description == "" {
			return fmt.Errorf("control point %s has empty description", code)
		}
	}
	for _, kw := range c.Documents.TemplateKeywords {
		if kw == "" {
			return fmt.Errorf("config.documents.template_keywords contains empty keyword")
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// TemplateKeywords returns the configured report template keywords or the
// built-in defaults.
func (c *Config) TemplateKeywords() []string {
	if c != nil && len(c.Documents.TemplateKeywords) > 0 {
		return c.Documents.TemplateKeywords
	}
	return []string{"inspection", "act", "defect"}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "construction-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  kind: construction-project

control_points:
  catalog:
    foundation.poured:
      description: "Foundation concrete poured and cured"
      critical: true
    frame.erected:
      description: "Load-bearing frame erected"
      critical: true
    roof.sealed:
      description: "Roof membrane sealed"
      critical: true
    utilities.connected:
      description: "Water, power and sewage connected"
    finishing.done:
      description: "Interior finishing completed"
    landscaping.done:
      description: "Site landscaping completed"

documents:
  template_keywords: [inspection, act, defect]

rbac:
  roles:
    admin:
      description: "Project administration"
      permissions:
        - project.config
        - object.manage
        - contractor.manage
        - work.read
        - work.update
        - work.progress
        - inspection.create
        - inspection.update
        - inspection.complete
        - report.generate
        - document.manage
        - journal.read
        - journal.message
    client:
      description: "Client representative"
      permissions:
        - work.read
        - inspection.create
        - inspection.update
        - inspection.complete
        - report.generate
        - journal.read
        - journal.message
    inspector:
      description: "Technical supervision"
      permissions:
        - work.read
        - inspection.create
        - inspection.update
        - inspection.complete
        - report.generate
        - journal.read
        - journal.message
    contractor:
      description: "Contractor crew"
      permissions:
        - work.read
        - work.progress
        - journal.read
        - journal.message
`
