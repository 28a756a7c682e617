package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config models gather.yml.
type Config struct {
	Tokens struct {
		TTL Duration `yaml:"ttl" validate:"required"`
	} `yaml:"tokens"`
	Links struct {
		BaseURL string `yaml:"base_url" validate:"required,url"`
	} `yaml:"links"`
	Acknowledgement struct {
		MinImpactLength int `yaml:"min_impact_length" validate:"gte=1"`
	} `yaml:"acknowledgement"`
	Detection struct {
		Coverage                map[string][]string `yaml:"coverage" validate:"dive,keys,required,endkeys,min=1,dive,required"`
		ResolveStale            bool                `yaml:"resolve_stale"`
		ReopenDismissedOnChange bool                `yaml:"reopen_dismissed_on_change"`
	} `yaml:"detection"`
	Notifications struct {
		Log      bool            `yaml:"log"`
		Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
	} `yaml:"notifications"`
	Logging   LoggingConfig `yaml:"logging"`
	Telemetry struct {
		Metrics bool `yaml:"metrics"`
		Tracing bool `yaml:"tracing"`
	} `yaml:"telemetry"`
	Server struct {
		Addr     string `yaml:"addr" validate:"required"`
		BasePath string `yaml:"base_path" validate:"required,startswith=/"`
	} `yaml:"server"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds" validate:"gte=0"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Duration decodes Go duration strings ("2160h") from YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config.%s failed %s", strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config.")), fe.Tag())
		}
		return err
	}
	if c.Tokens.TTL.Duration <= 0 {
		return fmt.Errorf("config.tokens.ttl must be positive")
	}
	for occasion, domains := range c.Detection.Coverage {
		seen := map[string]bool{}
		for _, d := range domains {
			key := strings.ToUpper(d)
			if seen[key] {
				return fmt.Errorf("coverage for %s lists domain %s twice", occasion, d)
			}
			seen[key] = true
		}
	}
	return nil
}

// ExpectedDomains returns the domains an occasion is expected to cover.
func (c *Config) ExpectedDomains(occasion string) []string {
	if c == nil {
		return nil
	}
	for k, v := range c.Detection.Coverage {
		if strings.EqualFold(k, occasion) {
			return v
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gather.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gather config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse([]byte(DefaultYAML))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultYAML), &cfg); err != nil {
		return nil, fmt.Errorf("invalid default yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}
	return &cfg, nil
}

const DefaultYAML = `tokens:
  ttl: 2160h

links:
  base_url: http://localhost:3000

acknowledgement:
  min_impact_length: 10

detection:
  resolve_stale: false
  reopen_dismissed_on_change: false
  coverage:
    CHRISTMAS: [PROTEINS, SIDES, DESSERTS, DRINKS]
    THANKSGIVING: [PROTEINS, SIDES, DESSERTS, DRINKS]
    EASTER: [PROTEINS, SIDES, DESSERTS]

notifications:
  log: true

logging:
  level: info
  format: json

telemetry:
  metrics: true
  tracing: false

server:
  addr: 127.0.0.1:8080
  base_path: /v1
`
