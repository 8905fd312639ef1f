package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/savegress/pamflow/internal/identifier"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all configuration for pamflow
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	Redis       RedisConfig       `yaml:"redis"`
	Identifiers IdentifiersConfig `yaml:"identifiers"`
	Transitions TransitionsConfig `yaml:"transitions"`
	Scenario    ScenarioConfig    `yaml:"scenario"`
	Validation  ValidationConfig  `yaml:"validation"`
	MLLP        MLLPConfig        `yaml:"mllp"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// StoreConfig selects the identifier and namespace backend
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int    `yaml:"max_conns"`
	MinConns    int    `yaml:"min_conns"`
}

// RedisConfig holds venue state configuration. Venue state stays in the
// store backend when Addr is empty.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// IdentifiersConfig holds identifier issuance configuration
type IdentifiersConfig struct {
	MaxAttempts     int                    `yaml:"max_attempts"`
	SequentialFloor int64                  `yaml:"sequential_floor"`
	PatientType     string                 `yaml:"patient_type"`
	VisitType       string                 `yaml:"visit_type"`
	EpisodeType     string                 `yaml:"episode_type"`
	Namespaces      []identifier.Namespace `yaml:"namespaces"`
}

// TransitionsConfig points at an optional rule table file
type TransitionsConfig struct {
	TableFile string `yaml:"table_file"`
}

// ScenarioConfig holds scenario engine configuration
type ScenarioConfig struct {
	TablesFile string `yaml:"tables_file"`
	// Location reads timestamps without a zone suffix, e.g. Europe/Paris.
	Location string `yaml:"location"`
}

// ValidationConfig extends the default validator code sets
type ValidationConfig struct {
	MovementCodes     []string `yaml:"movement_codes"`
	LocationTypes     []string `yaml:"location_types"`
	OrphanLCHTolerant []string `yaml:"orphan_lch_tolerant"`
}

// MLLPConfig holds the replay transport configuration
type MLLPConfig struct {
	Address       string        `yaml:"address"`
	UseTLS        bool          `yaml:"use_tls"`
	Timeout       time.Duration `yaml:"timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ListenAddress string        `yaml:"listen_address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3010,
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: "data/pamflow.db",
			MaxConns:   10,
			MinConns:   2,
		},
		Redis: RedisConfig{
			KeyPrefix: "pamflow",
		},
		Identifiers: IdentifiersConfig{
			MaxAttempts:     identifier.DefaultMaxAttempts,
			SequentialFloor: identifier.DefaultSequentialFloor,
			PatientType:     "PI",
			VisitType:       "VN",
			EpisodeType:     "AN",
		},
		MLLP: MLLPConfig{
			Timeout:      30 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file. Environment variables in the
// file are expanded and omitted settings keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	d := Default()
	return &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", d.Server.Port),
			Environment: getEnv("ENVIRONMENT", d.Server.Environment),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", d.Logging.Level),
			Format: getEnv("LOG_FORMAT", d.Logging.Format),
		},
		Store: StoreConfig{
			Backend:     getEnv("STORE_BACKEND", d.Store.Backend),
			SQLitePath:  getEnv("SQLITE_PATH", d.Store.SQLitePath),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			MaxConns:    getEnvInt("DB_MAX_CONNS", d.Store.MaxConns),
			MinConns:    getEnvInt("DB_MIN_CONNS", d.Store.MinConns),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", d.Redis.KeyPrefix),
			TTL:       getEnvDuration("REDIS_TTL", 0),
		},
		Identifiers: IdentifiersConfig{
			MaxAttempts:     getEnvInt("IDENTIFIER_MAX_ATTEMPTS", d.Identifiers.MaxAttempts),
			SequentialFloor: int64(getEnvInt("IDENTIFIER_SEQUENTIAL_FLOOR", int(d.Identifiers.SequentialFloor))),
			PatientType:     getEnv("IDENTIFIER_PATIENT_TYPE", d.Identifiers.PatientType),
			VisitType:       getEnv("IDENTIFIER_VISIT_TYPE", d.Identifiers.VisitType),
			EpisodeType:     getEnv("IDENTIFIER_EPISODE_TYPE", d.Identifiers.EpisodeType),
		},
		Transitions: TransitionsConfig{
			TableFile: getEnv("TRANSITION_TABLE", ""),
		},
		Scenario: ScenarioConfig{
			TablesFile: getEnv("SCENARIO_TABLES", ""),
			Location:   getEnv("SCENARIO_LOCATION", ""),
		},
		Validation: ValidationConfig{
			MovementCodes:     getEnvList("VALIDATION_MOVEMENT_CODES"),
			LocationTypes:     getEnvList("VALIDATION_LOCATION_TYPES"),
			OrphanLCHTolerant: getEnvList("VALIDATION_ORPHAN_LCH_TOLERANT"),
		},
		MLLP: MLLPConfig{
			Address:       getEnv("MLLP_ADDRESS", ""),
			UseTLS:        getEnvBool("MLLP_TLS", false),
			Timeout:       getEnvDuration("MLLP_TIMEOUT", d.MLLP.Timeout),
			ReadTimeout:   getEnvDuration("MLLP_READ_TIMEOUT", d.MLLP.ReadTimeout),
			WriteTimeout:  getEnvDuration("MLLP_WRITE_TIMEOUT", d.MLLP.WriteTimeout),
			ListenAddress: getEnv("MLLP_LISTEN_ADDRESS", ""),
		},
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config: store.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	for i, ns := range c.Identifiers.Namespaces {
		if ns.Type == "" {
			return fmt.Errorf("config: identifiers.namespaces[%d] has no type", i)
		}
		if err := ns.Validate(); err != nil {
			return fmt.Errorf("config: namespace %s: %w", ns.Type, err)
		}
	}

	if _, err := c.Scenario.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// TimeLocation resolves the scenario location, defaulting to time.Local.
func (s ScenarioConfig) TimeLocation() (*time.Location, error) {
	if s.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return nil, fmt.Errorf("config: scenario.location: %w", err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList reads a comma separated list.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
