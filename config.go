package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Values come from, in increasing
// precedence: built-in defaults, the YAML file named by CONFIGDESK_CONFIG,
// and the environment (optionally seeded from a .env file).
type Config struct {
	Version    int              `yaml:"version"`
	HTTPAddr   string           `yaml:"http_addr"`
	LogMode    string           `yaml:"log_mode"`
	Store      StoreConfig      `yaml:"store"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Neo4j      Neo4jConfig      `yaml:"neo4j"`
}

func DefaultConfig() Config {
	return Config{
		Version:  1,
		HTTPAddr: ":8080",
		LogMode:  "dev",
		Store: StoreConfig{
			Driver:  DriverDuckDB,
			Path:    "./configdesk.db",
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",

			ConflictRetries: defaultConflictRetries,
		},
	}
}

// LoadConfig assembles the configuration for this process.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	if path := os.Getenv("CONFIGDESK_CONFIG"); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.LogMode, "LOG_MODE")

	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.Path, "DUCKDB_PATH")
	setString(&cfg.Store.Host, "POSTGRES_HOST")
	setInt(&cfg.Store.Port, "POSTGRES_PORT")
	setString(&cfg.Store.Database, "POSTGRES_DB_NAME")
	setString(&cfg.Store.Username, "POSTGRES_DB_USERNAME")
	setString(&cfg.Store.SSLMode, "POSTGRES_SSLMODE")
	setInt(&cfg.Store.ConflictRetries, "STORE_CONFLICT_RETRIES")

	setString(&cfg.ClickHouse.Host, "CLICKHOUSE_HOST")
	setString(&cfg.ClickHouse.Database, "CLICKHOUSE_DATABASE")
	setString(&cfg.ClickHouse.Username, "CLICKHOUSE_USER")
	setString(&cfg.ClickHouse.Table, "CLICKHOUSE_TABLE")
	if v := os.Getenv("CLICKHOUSE_SECURE"); v != "" {
		cfg.ClickHouse.Secure = v == "true" || v == "1"
	}

	setString(&cfg.MQTT.URL, "MQTT_URL")
	setString(&cfg.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&cfg.MQTT.TopicPrefix, "MQTT_TOPIC_PREFIX")
	setString(&cfg.MQTT.Username, "MQTT_USERNAME")

	setString(&cfg.Neo4j.URI, "NEO4J_URI")
	setString(&cfg.Neo4j.Username, "NEO4J_USER")
	setString(&cfg.Neo4j.Database, "NEO4J_DATABASE")
	setInt(&cfg.Neo4j.TimeoutSeconds, "NEO4J_TIMEOUT_SECONDS")
	setInt(&cfg.Neo4j.MaxPoolSize, "NEO4J_MAX_POOL_SIZE")

	secrets := []struct {
		env    string
		target *string
	}{
		{"POSTGRES_DB_PASSWORD", &cfg.Store.Password},
		{"CLICKHOUSE_PASSWORD", &cfg.ClickHouse.Password},
		{"MQTT_PASSWORD", &cfg.MQTT.Password},
		{"NEO4J_PASSWORD", &cfg.Neo4j.Password},
	}
	for _, s := range secrets {
		v, err := ResolveSecret(s.env)
		if err != nil {
			return err
		}
		if v != "" {
			*s.target = v
		}
	}
	return nil
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	if _, err := dialectFor(c.Store.Driver); err != nil {
		return err
	}
	if isPostgres(c.Store.Driver) && c.Store.Database == "" {
		return fmt.Errorf("postgres store needs a database name (POSTGRES_DB_NAME)")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http address is empty")
	}
	if c.Store.ConflictRetries < 0 {
		return fmt.Errorf("store conflict_retries must not be negative, got %d", c.Store.ConflictRetries)
	}
	return nil
}

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, reads the secret from that file path.
// Otherwise falls back to the value of envName.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}

func maskPassword(password string) string {
	if password == "" {
		return "<empty>"
	}
	if len(password) <= 2 {
		return password
	}
	return string(password[0]) + strings.Repeat("*", len(password)-2) + string(password[len(password)-1])
}
