package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML config file. Values from the file are
// applied over the defaults; environment variables override both.
const FileEnv = "JUPORT_CONFIG"

type Config struct {
	Port string `yaml:"port"`

	DBHost string `yaml:"db_host"`
	DBPort string `yaml:"db_port"`
	DBName string `yaml:"db_name"`
	DBUser string `yaml:"db_user"`
	DBPass string `yaml:"db_pass"`

	// DBMaxOpenConns is the maximum number of open connections to the database (default 25).
	DBMaxOpenConns int `yaml:"db_max_open_conns"`
	// DBMaxIdleConns is the maximum number of idle connections (default 5).
	DBMaxIdleConns int `yaml:"db_max_idle_conns"`
	// DBMigrate applies embedded migrations at startup (default true).
	DBMigrate bool `yaml:"db_migrate"`

	// JWTSecret enables bearer token auth on the API. Empty disables it.
	JWTSecret string `yaml:"jwt_secret"`

	// Env is "dev" (default) or "prod". When "prod", JWT_SECRET must be set.
	Env string `yaml:"env"`

	// LogFormat is "text" (default) or "json". LogLevel is debug, info, warn or error.
	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`

	NotebooksPath string `yaml:"notebooks_path"`
	OutputPath    string `yaml:"output_path"`
	UploadsPath   string `yaml:"uploads_path"`
	// WorkspaceRoot is where per-execution workspaces are created (default os.TempDir()).
	WorkspaceRoot string `yaml:"workspace_root"`
	// JupyterPath is the jupyter executable (e.g. "jupyter" when it is in PATH).
	JupyterPath string `yaml:"jupyter_path"`

	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	// ExecutionTimeout bounds a single run; zero means no limit.
	ExecutionTimeout        time.Duration `yaml:"execution_timeout"`
	MaxConcurrentExecutions int           `yaml:"max_concurrent_executions"`
	MaxUploadBytes          int64         `yaml:"max_upload_bytes"`
	// TriggerRatePerMinute limits manual triggers per client IP.
	TriggerRatePerMinute int `yaml:"trigger_rate_per_minute"`

	// ArtifactStorage is "fs" (default, under OutputPath) or "s3".
	ArtifactStorage  string `yaml:"artifact_storage"`
	ArtifactS3Bucket string `yaml:"artifact_s3_bucket"`
	ArtifactS3Region string `yaml:"artifact_s3_region"`
	// ArtifactS3Endpoint points at an S3-compatible service such as MinIO.
	ArtifactS3Endpoint string `yaml:"artifact_s3_endpoint"`
	ArtifactS3Prefix   string `yaml:"artifact_s3_prefix"`

	// CORSAllowedOrigins is the list of origins allowed for CORS (e.g. a
	// browser front end). Empty means CORS headers are not sent.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	// When empty, the API listens with plain HTTP.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port: "8080",

		DBHost: "localhost",
		DBPort: "5432",
		DBName: "juport",
		DBUser: "juport",
		DBPass: "juport",

		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
		DBMigrate:      true,

		Env:       "dev",
		LogFormat: "text",
		LogLevel:  "info",

		NotebooksPath: "./notebooks",
		OutputPath:    "./outputs",
		UploadsPath:   "./data/uploads",
		WorkspaceRoot: os.TempDir(),
		JupyterPath:   "jupyter",

		SchedulerInterval:       time.Minute,
		ExecutionTimeout:        time.Hour,
		MaxConcurrentExecutions: 4,
		MaxUploadBytes:          32 << 20,
		TriggerRatePerMinute:    30,

		ArtifactStorage: "fs",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// JUPORT_CONFIG, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)

	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBName = getEnv("DB_NAME", c.DBName)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPass = getEnv("DB_PASS", c.DBPass)
	c.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.DBMaxOpenConns)
	c.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.DBMaxIdleConns)
	c.DBMigrate = getEnvBool("DB_MIGRATE", c.DBMigrate)

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.Env = getEnv("ENV", c.Env)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.NotebooksPath = getEnv("NOTEBOOKS_PATH", c.NotebooksPath)
	c.OutputPath = getEnv("OUTPUT_PATH", c.OutputPath)
	c.UploadsPath = getEnv("UPLOADS_PATH", c.UploadsPath)
	c.WorkspaceRoot = getEnv("WORKSPACE_ROOT", c.WorkspaceRoot)
	c.JupyterPath = getEnv("JUPYTER_PATH", c.JupyterPath)

	c.SchedulerInterval = getEnvDuration("SCHEDULER_INTERVAL", c.SchedulerInterval)
	c.ExecutionTimeout = getEnvDuration("EXECUTION_TIMEOUT", c.ExecutionTimeout)
	c.MaxConcurrentExecutions = getEnvInt("MAX_CONCURRENT_EXECUTIONS", c.MaxConcurrentExecutions)
	c.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.TriggerRatePerMinute = getEnvInt("TRIGGER_RATE_PER_MINUTE", c.TriggerRatePerMinute)

	c.ArtifactStorage = getEnv("ARTIFACT_STORAGE", c.ArtifactStorage)
	c.ArtifactS3Bucket = getEnv("ARTIFACT_S3_BUCKET", c.ArtifactS3Bucket)
	c.ArtifactS3Region = getEnv("ARTIFACT_S3_REGION", c.ArtifactS3Region)
	c.ArtifactS3Endpoint = getEnv("ARTIFACT_S3_ENDPOINT", c.ArtifactS3Endpoint)
	c.ArtifactS3Prefix = getEnv("ARTIFACT_S3_PREFIX", c.ArtifactS3Prefix)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = parseCORSOrigins(v)
	}

	c.TLSCertFile = getEnv("TLS_CERT_FILE", c.TLSCertFile)
	c.TLSKeyFile = getEnv("TLS_KEY_FILE", c.TLSKeyFile)
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Env == "prod" && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when ENV=prod"))
	}
	if c.SchedulerInterval < time.Second {
		errs = append(errs, fmt.Errorf("SCHEDULER_INTERVAL must be at least 1s, got %s", c.SchedulerInterval))
	}
	if c.ExecutionTimeout < 0 {
		errs = append(errs, errors.New("EXECUTION_TIMEOUT must not be negative"))
	}
	if c.MaxConcurrentExecutions < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_EXECUTIONS must be at least 1"))
	}
	switch c.ArtifactStorage {
	case "fs":
	case "s3":
		if c.ArtifactS3Bucket == "" {
			errs = append(errs, errors.New("ARTIFACT_S3_BUCKET is required when ARTIFACT_STORAGE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("ARTIFACT_STORAGE must be fs or s3, got %q", c.ArtifactStorage))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	return errors.Join(errs...)
}

// DatabaseURL returns the postgres URL used by migrations.
func (c Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

// parseCORSOrigins splits a comma-separated list of origins and trims spaces. Empty strings are omitted.
func parseCORSOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "1h") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
