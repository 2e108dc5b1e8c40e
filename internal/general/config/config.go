package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config is loaded once at startup and immutable thereafter. The rabbitmq
// and database sections are optional: leaving a section out disables the
// corresponding mirror sink.
type Config struct {
	Server struct {
		Host string
		Port int
	}
	Backend struct {
		BaseURL         string
		TokenURL        string
		ProjectID       string
		CredentialsFile string
	}
	RabbitMQ struct {
		Enabled  bool
		Host     string
		Port     int
		User     string
		Password string
	}
	Database struct {
		Enabled  bool
		Host     string
		Port     int
		User     string
		Password string
		Name     string // YAML key: "database"
	}
}

// LoadFromFile loads config from a YAML file to a Config struct, applies
// defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	// the backend is project-addressed; a project id alone resolves to the
	// canonical database URL
	if cfg.Backend.BaseURL == "" && cfg.Backend.ProjectID != "" {
		cfg.Backend.BaseURL = fmt.Sprintf("https://%s.firebaseio.com", cfg.Backend.ProjectID)
	}

	if cfg.RabbitMQ.Enabled {
		if cfg.RabbitMQ.Host == "" {
			cfg.RabbitMQ.Host = "localhost"
		}
		if cfg.RabbitMQ.Port == 0 {
			cfg.RabbitMQ.Port = 5672
		}
	}

	if cfg.Database.Enabled {
		if cfg.Database.Host == "" {
			cfg.Database.Host = "localhost"
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be in 1..65535")
	}

	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		problems = append(problems, "backend.base_url or backend.project_id is required")
	}
	if strings.TrimSpace(c.Backend.TokenURL) == "" {
		problems = append(problems, "backend.token_url is required")
	}
	if strings.TrimSpace(c.Backend.CredentialsFile) == "" {
		problems = append(problems, "backend.credentials_file is required")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
		if c.RabbitMQ.Password == "" {
			problems = append(problems, "rabbitmq.password is required")
		}
	}

	if c.Database.Enabled {
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Password == "" {
			problems = append(problems, "database.password is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required")
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
