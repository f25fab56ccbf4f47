/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/suparena/entityrepo/errors"
)

// Providers registered by the entityrepo package.
const (
	ProviderDynamoDB = "dynamodb"
	ProviderBadger   = "badger"
	ProviderSQLite   = "sqlite"
	ProviderMemory   = "memory"
)

const (
	DefaultCollection = "container"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ENTITYREPO_"
)

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,255}$`)

// Config selects and configures a backing store. Every value is passed
// through to the store.
type Config struct {
	Provider         string `yaml:"provider"`
	ConnectionString string `yaml:"connectionString"`
	Database         string `yaml:"database"`
	Collection       string `yaml:"collection"`
	AllowCreate      bool   `yaml:"allowCreate"`

	// DynamoDB
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	MaxRetries int    `yaml:"maxRetries"`

	// Embedded stores
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`

	// Batch limits; zero keeps the store defaults.
	MaxBatchSize      int     `yaml:"maxBatchSize"`
	MaxParallelism    int     `yaml:"maxParallelism"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// Load reads a YAML file and applies ENTITYREPO_* environment overrides.
// A .env file in the working directory is loaded first when present.
// An empty path configures from the environment alone.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.NewConfigurationError("", fmt.Sprintf("parse %s: %v", path, err))
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var err error
	parse := func(name string, set func(string) error) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || err != nil {
			return
		}
		if perr := set(v); perr != nil {
			err = errors.NewConfigurationError(EnvPrefix+name, perr.Error())
		}
	}

	str("PROVIDER", &c.Provider)
	str("CONNECTION_STRING", &c.ConnectionString)
	str("DATABASE", &c.Database)
	str("COLLECTION", &c.Collection)
	str("REGION", &c.Region)
	str("ENDPOINT", &c.Endpoint)
	str("ACCESS_KEY", &c.AccessKey)
	str("SECRET_KEY", &c.SecretKey)
	str("PATH", &c.Path)
	parse("ALLOW_CREATE", boolInto(&c.AllowCreate))
	parse("IN_MEMORY", boolInto(&c.InMemory))
	parse("MAX_RETRIES", intInto(&c.MaxRetries))
	parse("MAX_BATCH_SIZE", intInto(&c.MaxBatchSize))
	parse("MAX_PARALLELISM", intInto(&c.MaxParallelism))
	parse("REQUESTS_PER_SECOND", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		c.RequestsPerSecond = f
		return err
	})
	return err
}

func boolInto(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		*dst = b
		return err
	}
}

func intInto(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		*dst = n
		return err
	}
}

// Resolve fills defaults, merges the connection string and validates the
// result. The receiver is not modified.
func (c Config) Resolve() (Config, error) {
	out := c
	out.Provider = strings.ToLower(strings.TrimSpace(out.Provider))
	if out.ConnectionString != "" {
		if err := out.applyConnectionString(); err != nil {
			return Config{}, err
		}
	}
	if out.Collection == "" {
		out.Collection = DefaultCollection
	}
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// QualifiedCollection is the name stores use for the collection: the
// collection itself, or "database.collection" when a database is set.
// Collections of different databases never share a table or key space.
func (c Config) QualifiedCollection() string {
	if c.Database == "" {
		return c.Collection
	}
	return c.Database + "." + c.Collection
}

// Validate checks that the configuration is complete for its provider.
func (c Config) Validate() error {
	if c.Provider == "" {
		return errors.NewConfigurationError("provider", "required")
	}
	if !collectionName.MatchString(c.Collection) {
		return errors.NewConfigurationError("collection", fmt.Sprintf("invalid name %q", c.Collection))
	}
	if c.Database != "" && !collectionName.MatchString(c.QualifiedCollection()) {
		return errors.NewConfigurationError("database", fmt.Sprintf("invalid name %q", c.Database))
	}
	if c.MaxBatchSize < 0 {
		return errors.NewConfigurationError("maxBatchSize", "must not be negative")
	}
	if c.MaxParallelism < 0 {
		return errors.NewConfigurationError("maxParallelism", "must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.NewConfigurationError("requestsPerSecond", "must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.NewConfigurationError("maxRetries", "must not be negative")
	}

	switch c.Provider {
	case ProviderDynamoDB:
		if c.Region == "" {
			return errors.NewConfigurationError("region", "required for dynamodb")
		}
		if (c.AccessKey == "") != (c.SecretKey == "") {
			return errors.NewConfigurationError("accessKey", "accessKey and secretKey must be set together")
		}
	case ProviderBadger, ProviderSQLite:
		if c.Path == "" && !c.InMemory {
			return errors.NewConfigurationError("path", fmt.Sprintf("required for %s unless inMemory is set", c.Provider))
		}
	}
	return nil
}

func (c *Config) applyConnectionString() error {
	kv, err := ParseConnectionString(c.ConnectionString)
	if err != nil {
		return err
	}
	fill := func(dst *string, key string) {
		if v, ok := kv[key]; ok && *dst == "" {
			*dst = v
		}
	}
	fill(&c.Region, "region")
	fill(&c.Endpoint, "endpoint")
	fill(&c.AccessKey, "accesskey")
	fill(&c.SecretKey, "secretkey")
	fill(&c.Collection, "table")
	fill(&c.Path, "path")
	fill(&c.Database, "database")
	return nil
}

// ParseConnectionString parses "Key=Value;Key=Value" pairs. Keys are
// returned in lower case; values keep their case and may contain '='.
func ParseConnectionString(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, errors.NewConfigurationError("connectionString", fmt.Sprintf("malformed segment %q", part))
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
