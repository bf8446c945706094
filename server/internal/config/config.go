package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bhandras/codetutor/server/internal/executor"
	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = 8000
	defaultDatabasePath = "./codetutor.db"
	defaultUploadDir    = "./uploads"
	defaultMaxFileSize  = 10 << 20
	defaultLogLevel     = "info"
)

var defaultOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP(S) server.
	Addr         string `yaml:"addr"`
	DatabasePath string `yaml:"database_path"`
	UploadDir    string `yaml:"upload_dir"`
	// MaxFileSize is the upload size limit in bytes.
	MaxFileSize    int64    `yaml:"max_file_size"`
	Debug          bool     `yaml:"debug"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"cors_origins"`

	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Executor  ExecutorConfig  `yaml:"executor"`
	WebSocket WebSocketConfig `yaml:"websocket"`

	// TLS holds HTTPS configuration. If nil, the server runs in plain HTTP mode.
	TLS *TLSConfig `yaml:"tls"`
}

// LLMConfig configures the explainer backend. An empty APIKey selects the
// offline explainer.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// SessionConfig configures session lifetimes and runs.
type SessionConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
	IdleTTL     time.Duration `yaml:"idle_ttl"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
	References  int           `yaml:"references"`
}

// ExecutorConfig configures the local executor.
type ExecutorConfig struct {
	Timeout        time.Duration                         `yaml:"timeout"`
	MaxOutputBytes int                                   `yaml:"max_output_bytes"`
	WorkDir        string                                `yaml:"work_dir"`
	Commands       map[runtime.Language]executor.Command `yaml:"commands"`
}

// WebSocketConfig configures client connections.
type WebSocketConfig struct {
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
	QueueSize        int           `yaml:"queue_size"`
	CloseOnMalformed bool          `yaml:"close_on_malformed"`
}

// TLSConfig holds file paths for serving HTTPS directly from the server.
type TLSConfig struct {
	// CertFile is a PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file"`
	// KeyFile is a PEM-encoded private key.
	KeyFile string `yaml:"key_file"`
}

// Overrides optionally overrides values from the config file and
// environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	ConfigFile   *string
	Addr         *string
	DatabasePath *string
	UploadDir    *string
	Debug        *bool
	LogLevel     *string
	TLS          *TLSConfig
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:           fmt.Sprintf(":%d", defaultPort),
		DatabasePath:   defaultDatabasePath,
		UploadDir:      defaultUploadDir,
		MaxFileSize:    defaultMaxFileSize,
		LogLevel:       defaultLogLevel,
		AllowedOrigins: append([]string(nil), defaultOrigins...),
		WebSocket: WebSocketConfig{
			CloseOnMalformed: true,
		},
	}
}

// Load builds the server configuration. Sources are applied in order:
// defaults, the YAML file named by CODETUTOR_CONFIG, environment variables,
// then explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	cfg := Default()

	path := os.Getenv("CODETUTOR_CONFIG")
	if overrides.ConfigFile != nil {
		path = *overrides.ConfigFile
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if overrides.Addr != nil {
		cfg.Addr = *overrides.Addr
	}
	if overrides.DatabasePath != nil {
		cfg.DatabasePath = *overrides.DatabasePath
	}
	if overrides.UploadDir != nil {
		cfg.UploadDir = *overrides.UploadDir
	}
	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
	}
	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.TLS != nil {
		cfg.TLS = overrides.TLS
	}
	if cfg.Debug && cfg.LogLevel == defaultLogLevel {
		cfg.LogLevel = "debug"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("PORT: invalid port %q", portStr))
		} else {
			cfg.Addr = fmt.Sprintf(":%d", p)
		}
	}
	if addr := os.Getenv("CODETUTOR_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("MAX_FILE_SIZE: invalid size %q", v))
		} else {
			cfg.MaxFileSize = n
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CODETUTOR_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CODETUTOR_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"CODETUTOR_SESSION_GRACE", &cfg.Session.GracePeriod},
		{"CODETUTOR_SESSION_IDLE_TTL", &cfg.Session.IdleTTL},
		{"CODETUTOR_RUN_TIMEOUT", &cfg.Session.RunTimeout},
		{"CODETUTOR_EXEC_TIMEOUT", &cfg.Executor.Timeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", d.env, v))
			continue
		}
		*d.dst = parsed
	}

	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("upload dir is required")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive")
	}
	if c.TLS != nil && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
