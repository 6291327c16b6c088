package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. MAILFILES_STORAGE_SANDBOX_ROOT.
const EnvPrefix = "MAILFILES"

// Config holds all application configuration
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// StorageConfig names the sandbox root and its managed folders
type StorageConfig struct {
	SandboxRoot  string `mapstructure:"sandbox_root"`
	EncryptedDir string `mapstructure:"encrypted_dir"`
	DecryptedDir string `mapstructure:"decrypted_dir"`
}

// TransferConfig holds HTTP transfer settings
type TransferConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UploadMethod string        `mapstructure:"upload_method"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AllowedOrigins lists browser origins permitted to call the API.
	// Requests without an Origin header are always served.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration. An empty path disables the
// transfer log.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from an optional yaml file, an optional .env file
// in the working directory and environment variables, in increasing priority.
func Load(configPath string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file without overriding
// variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.sandbox_root", defaultSandboxRoot())
	v.SetDefault("storage.encrypted_dir", "encrypted")
	v.SetDefault("storage.decrypted_dir", "decrypted")

	// Transfer defaults
	v.SetDefault("transfer.timeout", 5*time.Minute)
	v.SetDefault("transfer.upload_method", http.MethodPut)
	v.SetDefault("transfer.user_agent", "mailfiles/1.0")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.allowed_origins", []string{})

	// Database defaults
	v.SetDefault("database.path", "data/mailfiles.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stderr")
	v.SetDefault("logger.format", "console")
}

// bindEnvVars binds the short-form variables operators actually type
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"storage.sandbox_root": "MAILFILES_SANDBOX_ROOT",
		"database.path":        "MAILFILES_DB_PATH",
		"logger.level":         "MAILFILES_LOG_LEVEL",
		"server.port":          "MAILFILES_PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return err
		}
	}
	return nil
}

func defaultSandboxRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "mailfiles"
	}
	return "mailfiles"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.SandboxRoot) == "" {
		return fmt.Errorf("storage.sandbox_root is required")
	}
	if c.Storage.EncryptedDir == c.Storage.DecryptedDir {
		return fmt.Errorf("storage.encrypted_dir and storage.decrypted_dir must differ")
	}

	if c.Transfer.Timeout <= 0 {
		return fmt.Errorf("transfer.timeout must be positive")
	}
	switch strings.ToUpper(c.Transfer.UploadMethod) {
	case http.MethodPut, http.MethodPost:
		c.Transfer.UploadMethod = strings.ToUpper(c.Transfer.UploadMethod)
	default:
		return fmt.Errorf("transfer.upload_method must be PUT or POST, got %q", c.Transfer.UploadMethod)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	return nil
}
