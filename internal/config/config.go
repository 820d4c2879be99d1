package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	JWT    JWTConfig    `yaml:"jwt"`
	IPAM   IPAMConfig   `yaml:"ipam"`
	Sites  SitesConfig  `yaml:"sites"`
	Audit  AuditConfig  `yaml:"audit"`
	CORS   CORSConfig   `yaml:"cors"`
	Redis  RedisConfig  `yaml:"redis"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	Environment  string        `yaml:"environment"` // "development" or "production"
}

// JWTConfig holds the service-to-service bearer token configuration used by
// the request surface's auth middleware.
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// RedisConfig holds Redis configuration, used as the optional distributed
// backing store for cross-process idempotency keys.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// IPAMConfig holds the connection settings for the remote IPAM system of
// record (the gateway's HTTP client, worker pools and retry policy).
type IPAMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	SSLVerify     bool          `yaml:"ssl_verify"`
	ReadWorkers   int           `yaml:"read_workers"`
	WriteWorkers  int           `yaml:"write_workers"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryMax      int           `yaml:"retry_max"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// SitesConfig holds the tenant/site topology: the tenant this deployment
// allocates segments for, the known sites, and each site's expected prefix
// first octet (used by the validator's I6 check).
type SitesConfig struct {
	TenantName  string            `yaml:"tenant_name"`
	Sites       []string          `yaml:"sites"`
	SitePrefixes map[string]string `yaml:"site_prefixes"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	SQLiteDSN     string        `yaml:"sqlite_dsn"`   // SQLite database path for audit logs
	HashSecrets   string        `yaml:"hash_secrets"` // Comma-separated base64 secrets for hashing
	Async         bool          `yaml:"async"`        // Enable async audit buffering
	QueueSize     int           `yaml:"queue_size"`   // Async queue size
	WorkerCount   int           `yaml:"worker_count"` // Number of async workers
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string      `yaml:"allowed_origins"` // Whitelist of allowed origins
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: loadServerConfig(),
		JWT:    loadJWTConfig(),
		IPAM:   loadIPAMConfig(),
		Sites:  loadSitesConfig(),
		Audit:  loadAuditConfig(),
		CORS:   loadCORSConfig(),
		Redis:  loadRedisConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfigPath returns the default config file path (env override allowed).
func DefaultConfigPath() string {
	if val := strings.TrimSpace(os.Getenv("VLANCTL_CONFIG_PATH")); val != "" {
		return val
	}
	return "vlanctl.yaml"
}

// LoadFromFileOrEnv loads configuration from a YAML file if it exists, then applies environment variable overrides.
// If the file does not exist, it falls back to the existing environment-based Load().
// Environment overrides are only applied when the variable is explicitly set (no default injection).
func LoadFromFileOrEnv(path string) (*Config, error) {
	fileCfg := Config{}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		applyEnvOverrides(&fileCfg)
		if err := fileCfg.Validate(); err != nil {
			return nil, err
		}
		return &fileCfg, nil
	}

	// File missing: keep current env-based behavior
	return Load()
}

// SaveToFile writes the given config to a YAML file at the provided path.
func SaveToFile(cfg *Config, path string) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadFromFile reads a YAML config file without environment overrides.
func LoadFromFile(path string) (*Config, error) {
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg := Config{}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures all required configuration is present.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required (use a strong random key)")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	if c.IPAM.BaseURL == "" {
		return fmt.Errorf("IPAM_URL is required")
	}
	if c.IPAM.Token == "" {
		return fmt.Errorf("IPAM_TOKEN is required")
	}

	if c.Sites.TenantName == "" {
		return fmt.Errorf("TENANT_NAME is required")
	}
	if len(c.Sites.Sites) == 0 {
		return fmt.Errorf("SITES is required (comma-separated list of site names)")
	}

	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:         getEnv("SERVER_HOST", "0.0.0.0"),
		Port:         getEnv("SERVER_PORT", "8080"),
		ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
		Environment:  getEnv("ENVIRONMENT", "development"),
	}
}

func loadJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:         getEnv("JWT_SECRET", ""),
		AccessTokenTTL: getDurationEnv("JWT_ACCESS_TTL", 1*time.Hour),
	}
}

func loadIPAMConfig() IPAMConfig {
	return IPAMConfig{
		BaseURL:        getEnv("IPAM_URL", ""),
		Token:          getEnv("IPAM_TOKEN", ""),
		SSLVerify:      getBoolEnv("IPAM_SSL_VERIFY", true),
		ReadWorkers:    getIntEnv("IPAM_READ_WORKERS", 30),
		WriteWorkers:   getIntEnv("IPAM_WRITE_WORKERS", 20),
		RequestTimeout: getDurationEnv("IPAM_REQUEST_TIMEOUT", 30*time.Second),
		RetryMax:       getIntEnv("IPAM_RETRY_MAX", 3),
		RetryBaseDelay: getDurationEnv("IPAM_RETRY_BASE_DELAY", 1*time.Second),
	}
}

func loadSitesConfig() SitesConfig {
	tenant := getEnv("TENANT_NAME", "")
	sites := splitAndTrim(getEnv("SITES", ""), ",")

	prefixesRaw := getEnv("SITE_PREFIXES", getEnv("NETWORK_SITE_PREFIXES", ""))
	prefixes := map[string]string{}
	for _, entry := range splitAndTrim(prefixesRaw, ",") {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		prefixes[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}

	return SitesConfig{
		TenantName:   tenant,
		Sites:        sites,
		SitePrefixes: prefixes,
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		SQLiteDSN:     getEnv("AUDIT_SQLITE_DSN", ""),
		HashSecrets:   getEnv("AUDIT_HASH_SECRETS_B64", ""),
		Async:         getBoolEnv("AUDIT_ASYNC", true),
		QueueSize:     getIntEnv("AUDIT_QUEUE_SIZE", 1024),
		WorkerCount:   getIntEnv("AUDIT_WORKER_COUNT", 1),
		FlushInterval: getDurationEnv("AUDIT_FLUSH_INTERVAL", 1*time.Second),
	}
}

func loadCORSConfig() CORSConfig {
	originsStr := getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	origins := []string{}
	if originsStr != "" {
		origins = splitAndTrim(originsStr, ",")
	}

	return CORSConfig{
		AllowedOrigins:   origins,
		AllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		MaxAge:           getDurationEnv("CORS_MAX_AGE", 12*time.Hour),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getIntEnv("REDIS_DB", 0),
		Enabled:  getBoolEnv("REDIS_ENABLED", false),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func applyEnvOverrides(cfg *Config) {
	// Server
	if v, ok := lookupEnvNonEmpty("SERVER_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookupEnvNonEmpty("SERVER_PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := lookupEnvNonEmpty("SERVER_READ_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v, ok := lookupEnvNonEmpty("SERVER_WRITE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if v, ok := lookupEnvNonEmpty("SERVER_IDLE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.IdleTimeout = d
		}
	}
	if v, ok := lookupEnvNonEmpty("ENVIRONMENT"); ok {
		cfg.Server.Environment = v
	}

	// JWT
	if v, ok := lookupEnvNonEmpty("JWT_SECRET"); ok {
		cfg.JWT.Secret = v
	}
	if v, ok := lookupEnvNonEmpty("JWT_ACCESS_TTL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JWT.AccessTokenTTL = d
		}
	}

	// IPAM
	if v, ok := lookupEnvNonEmpty("IPAM_URL"); ok {
		cfg.IPAM.BaseURL = v
	}
	if v, ok := lookupEnvNonEmpty("IPAM_TOKEN"); ok {
		cfg.IPAM.Token = v
	}
	if v, ok := lookupEnvNonEmpty("IPAM_SSL_VERIFY"); ok {
		cfg.IPAM.SSLVerify = strings.ToLower(v) == "true"
	}
	if v, ok := lookupEnvNonEmpty("IPAM_READ_WORKERS"); ok {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.IPAM.ReadWorkers = iv
		}
	}
	if v, ok := lookupEnvNonEmpty("IPAM_WRITE_WORKERS"); ok {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.IPAM.WriteWorkers = iv
		}
	}
	if v, ok := lookupEnvNonEmpty("IPAM_REQUEST_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IPAM.RequestTimeout = d
		}
	}
	if v, ok := lookupEnvNonEmpty("IPAM_RETRY_MAX"); ok {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.IPAM.RetryMax = iv
		}
	}
	if v, ok := lookupEnvNonEmpty("IPAM_RETRY_BASE_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IPAM.RetryBaseDelay = d
		}
	}

	// Sites
	if v, ok := lookupEnvNonEmpty("TENANT_NAME"); ok {
		cfg.Sites.TenantName = v
	}
	if v, ok := lookupEnvNonEmpty("SITES"); ok {
		cfg.Sites.Sites = splitAndTrim(v, ",")
	}
	if v, ok := lookupEnvNonEmpty("SITE_PREFIXES"); ok {
		cfg.Sites.SitePrefixes = parsePrefixMap(v)
	} else if v, ok := lookupEnvNonEmpty("NETWORK_SITE_PREFIXES"); ok {
		cfg.Sites.SitePrefixes = parsePrefixMap(v)
	}

	// Audit
	if v, ok := lookupEnvNonEmpty("AUDIT_SQLITE_DSN"); ok {
		cfg.Audit.SQLiteDSN = v
	}
	if v, ok := lookupEnvNonEmpty("AUDIT_HASH_SECRETS_B64"); ok {
		cfg.Audit.HashSecrets = v
	}
	if v, ok := lookupEnvNonEmpty("AUDIT_ASYNC"); ok {
		cfg.Audit.Async = strings.ToLower(v) == "true"
	}
	if v, ok := lookupEnvNonEmpty("AUDIT_QUEUE_SIZE"); ok {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.Audit.QueueSize = iv
		}
	}
	if v, ok := lookupEnvNonEmpty("AUDIT_WORKER_COUNT"); ok {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.Audit.WorkerCount = iv
		}
	}
	if v, ok := lookupEnvNonEmpty("AUDIT_FLUSH_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Audit.FlushInterval = d
		}
	}

	// CORS
	if v, ok := lookupEnvNonEmpty("CORS_ALLOWED_ORIGINS"); ok {
		cfg.CORS.AllowedOrigins = splitAndTrim(v, ",")
	}
	if v, ok := lookupEnvNonEmpty("CORS_ALLOW_CREDENTIALS"); ok {
		cfg.CORS.AllowCredentials = strings.ToLower(v) == "true"
	}
	if v, ok := lookupEnvNonEmpty("CORS_MAX_AGE"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CORS.MaxAge = d
		}
	}

	// Redis
	if v, ok := lookupEnvNonEmpty("REDIS_HOST"); ok {
		cfg.Redis.Host = v
	}
	if v, ok := lookupEnvNonEmpty("REDIS_PORT"); ok {
		cfg.Redis.Port = v
	}
	if v, ok := lookupEnvNonEmpty("REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := lookupEnvNonEmpty("REDIS_DB"); ok {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = iv
		}
	}
	if v, ok := lookupEnvNonEmpty("REDIS_ENABLED"); ok {
		cfg.Redis.Enabled = strings.ToLower(v) == "true"
	}
}

func lookupEnv(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	return val, ok
}

func lookupEnvNonEmpty(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func splitAndTrim(s, sep string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func parsePrefixMap(raw string) map[string]string {
	out := map[string]string{}
	for _, entry := range splitAndTrim(raw, ",") {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	return out
}

// Address returns the full server address
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// IsDevelopment returns true if environment is development
func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

// IsProduction returns true if environment is production
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}
