// Package config loads docorm settings from YAML
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/pay-theory/docorm/pkg/errors"
)

// Backends that Open can build
const (
	BackendMongo    = "mongo"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config is the top level settings document
type Config struct {
	Backend string `yaml:"backend" default:"mongo"`

	// MongoURI and ConnIndex (the database name) are required by the mongo backend
	MongoURI  string        `yaml:"mongo_uri"`
	ConnIndex string        `yaml:"conn_index"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`

	DynamoDB DynamoDB `yaml:"dynamodb"`

	LogLevel string `yaml:"log_level" default:"info"`
}

// DynamoDB holds the dynamodb backend settings
type DynamoDB struct {
	Region          string        `yaml:"region" default:"us-east-1"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	SessionToken    string        `yaml:"session_token"`
	RoleARN         string        `yaml:"role_arn"`
	ExternalID      string        `yaml:"external_id"`
	SessionDuration time.Duration `yaml:"session_duration" default:"1h"`
	MaxRetries      int           `yaml:"max_retries" default:"3"`
	TablePrefix     string        `yaml:"table_prefix"`
	ReadCapacity    int64         `yaml:"read_capacity"`
	WriteCapacity   int64         `yaml:"write_capacity"`
}

// Default returns a Config with every default applied
func Default() *Config {
	cfg := &Config{}
	defaults.MustSet(cfg)
	return cfg
}

// Parse decodes YAML over the defaults. Keys absent from data keep their
// default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Validate reports the first missing or invalid key for the selected backend
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.MissingKey("mongo_uri")
		}
		if c.ConnIndex == "" {
			return errors.MissingKey("conn_index")
		}
	case BackendDynamoDB:
		if c.DynamoDB.Region == "" {
			return errors.MissingKey("dynamodb.region")
		}
		if c.DynamoDB.AccessKeyID != "" && c.DynamoDB.SecretAccessKey == "" {
			return errors.MissingKey("dynamodb.secret_access_key")
		}
		if c.DynamoDB.MaxRetries < 0 {
			return &errors.ConfigurationError{Key: "dynamodb.max_retries", Detail: "must not be negative"}
		}
	case BackendMemory:
	case "":
		return errors.MissingKey("backend")
	default:
		return &errors.ConfigurationError{Key: "backend", Detail: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	return nil
}
