// Package config loads the flock configuration with Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	// JSONLogFormat indicates JSON log format.
	JSONLogFormat = "json"
	// TextLogFormat indicates text log format.
	TextLogFormat = "text"

	// EnvProduction enables production-only behavior such as Secure cookies.
	EnvProduction = "production"

	// EnvPrefix prefixes every environment override (FLOCK_LISTEN_ADDR).
	EnvPrefix = "FLOCK"

	// MinSigningKeyLength is the minimum impersonation signing key size in bytes.
	MinSigningKeyLength = 32
)

// ErrNoSigningKey is returned when neither impersonation.signing_key nor
// platform_secret is configured.
var ErrNoSigningKey = errors.New("no impersonation signing key: set impersonation.signing_key or platform_secret")

// LogConfig holds logging configuration.
type LogConfig struct {
	Format     string        `mapstructure:"format"`
	Level      zerolog.Level `mapstructure:"level"`
	WithCaller bool          `mapstructure:"with_caller"`
}

// SessionConfig holds the login session cookie configuration.
type SessionConfig struct {
	AuthenticationKey string `mapstructure:"authentication_key"`
	EncryptionKey     string `mapstructure:"encryption_key"`
	CookieName        string `mapstructure:"cookie_name"`
}

// ImpersonationConfig holds impersonation settings.
type ImpersonationConfig struct {
	CookieName string `mapstructure:"cookie_name"`
	// SigningKey is resolved at load time; it is never logged.
	SigningKey []byte `mapstructure:"-"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis configuration for background tasks.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds background worker configuration.
type WorkerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Concurrency int    `mapstructure:"concurrency"`
	SweepSpec   string `mapstructure:"sweep_spec"`
}

// Config is the complete flock configuration.
type Config struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	AdvertiseURL string `mapstructure:"advertise_url"`
	Environment  string `mapstructure:"environment"`

	Session       SessionConfig       `mapstructure:"session"`
	Impersonation ImpersonationConfig `mapstructure:"impersonation"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Logging       LogConfig           `mapstructure:"logging"`
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// LoaderConfig holds configuration for the config loader.
type LoaderConfig struct {
	// ConfigPaths is a list of directories to search for config files.
	ConfigPaths []string

	// ConfigName is the name of the config file (without extension).
	ConfigName string

	// Defaults is a map of default values.
	Defaults map[string]interface{}
}

// DefaultLoaderConfig returns default loader configuration.
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		ConfigName: "config",
		ConfigPaths: []string{
			"/etc/flock/",
			"$HOME/.flock",
			".",
		},
		Defaults: map[string]interface{}{
			"listen_addr":               ":8080",
			"environment":               "development",
			"impersonation.cookie_name": "flock_impersonation",
			"session.cookie_name":       "flock_session",
			"database.path":             "flock.db",
			"redis.addr":                "localhost:6379",
			"redis.password":            "",
			"redis.db":                  0,
			"worker.enabled":            false,
			"worker.concurrency":        4,
			"logging.level":             "info",
			"logging.format":            TextLogFormat,
			"logging.with_caller":       false,
		},
	}
}

// Load reads configuration from file and environment variables into v.
// If configPath is empty, it searches in default paths. If isFile is true,
// configPath is treated as a direct file path. A missing config file is not
// an error when searching; everything can come from the environment.
func Load(v *viper.Viper, configPath string, isFile bool, cfg *LoaderConfig) error {
	if cfg == nil {
		cfg = DefaultLoaderConfig()
	}

	log.Debug().Msg("Loading configuration")

	if isFile {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(cfg.ConfigName)
		if configPath == "" {
			for _, path := range cfg.ConfigPaths {
				v.AddConfigPath(path)
			}
		} else {
			v.AddConfigPath(configPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range cfg.Defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if isFile || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults and environment")
	}

	log.Debug().
		Str("config_file", v.ConfigFileUsed()).
		Msg("Configuration loaded")

	return nil
}

// GetLogConfig returns the logging configuration from v.
func GetLogConfig(v *viper.Viper) LogConfig {
	logLevel, err := zerolog.ParseLevel(v.GetString("logging.level"))
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	logFormat := v.GetString("logging.format")
	switch logFormat {
	case JSONLogFormat, TextLogFormat:
	case "":
		logFormat = TextLogFormat
	default:
		log.Warn().
			Str("format", logFormat).
			Msg("Invalid log format, using text")
		logFormat = TextLogFormat
	}

	return LogConfig{
		Format:     logFormat,
		Level:      logLevel,
		WithCaller: v.GetBool("logging.with_caller"),
	}
}

// SetupLogging configures the global zerolog logger from cfg.
func SetupLogging(cfg LogConfig) {
	zerolog.SetGlobalLevel(cfg.Level)

	logger := zerolog.New(os.Stderr).With().Timestamp()
	if cfg.WithCaller {
		logger = logger.Caller()
	}
	l := logger.Logger()
	if cfg.Format == TextLogFormat {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05Z07:00"})
	}
	log.Logger = l
}

// Get returns the configuration held by v and validates it.
func Get(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ListenAddr:   v.GetString("listen_addr"),
		AdvertiseURL: v.GetString("advertise_url"),
		Environment:  v.GetString("environment"),
		Logging:      GetLogConfig(v),
		Session: SessionConfig{
			CookieName:        v.GetString("session.cookie_name"),
			AuthenticationKey: v.GetString("session.authentication_key"),
			EncryptionKey:     v.GetString("session.encryption_key"),
		},
		Impersonation: ImpersonationConfig{
			CookieName: v.GetString("impersonation.cookie_name"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			Enabled:     v.GetBool("worker.enabled"),
			Concurrency: v.GetInt("worker.concurrency"),
			SweepSpec:   v.GetString("worker.sweep_spec"),
		},
	}

	key, err := SigningKey(v)
	if err != nil {
		return nil, err
	}
	cfg.Impersonation.SigningKey = key

	if err := ValidateSessionKeys(v); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SigningKey resolves the impersonation signing key, falling back to the
// platform secret when no dedicated key is set.
func SigningKey(v *viper.Viper) ([]byte, error) {
	key := v.GetString("impersonation.signing_key")
	source := "impersonation.signing_key"
	if key == "" {
		key = v.GetString("platform_secret")
		source = "platform_secret"
	}
	if key == "" {
		return nil, ErrNoSigningKey
	}
	if len(key) < MinSigningKeyLength {
		return nil, fmt.Errorf("%s must be at least %d bytes, got %d", source, MinSigningKeyLength, len(key))
	}
	return []byte(key), nil
}

// ValidateRequired checks that required configuration fields are set.
func ValidateRequired(v *viper.Viper, fields map[string]string) error {
	var missing []string
	for field, description := range fields {
		if v.GetString(field) == "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", field, description))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateSessionKeys validates that session keys are the correct length.
func ValidateSessionKeys(v *viper.Viper) error {
	authKey := v.GetString("session.authentication_key")
	encKey := v.GetString("session.encryption_key")

	if len(authKey) != 32 {
		return fmt.Errorf("session.authentication_key must be 32 bytes, got %d", len(authKey))
	}
	if len(encKey) != 32 {
		return fmt.Errorf("session.encryption_key must be 32 bytes, got %d", len(encKey))
	}
	return nil
}
