package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
	// TrustedProxies are CIDRs whose X-Forwarded-For header is believed.
	// Empty means the client IP is always the socket peer.
	TrustedProxies []string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	Issuer          string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// RateLimitConfig bounds login attempts per client IP.
type RateLimitConfig struct {
	LoginPerMinute int
	LoginBurst     int
}

// AuditConfig controls the background audit writer.
type AuditConfig struct {
	WriteTimeout time.Duration
}

// PlanLimits are the capacity caps attached to a subscription plan.
type PlanLimits struct {
	MaxUsers    int
	MaxProjects int
}

// BootstrapConfig optionally seeds a platform super admin at startup.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// TelemetryConfig holds OpenTelemetry exporter settings
type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	Plans       map[string]PlanLimits
	DefaultPlan string
	BcryptCost  int
	Bootstrap   BootstrapConfig
	Telemetry   TelemetryConfig
}

// Load loads configuration from an optional .env file and environment variables
func Load(serviceName string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", serviceName),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			QueryTimeout:    getEnvAsDuration("DB_QUERY_TIMEOUT", 5*time.Second),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Env:            getEnv("APP_ENV", "development"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", ""),
			Issuer:          getEnv("JWT_ISSUER", serviceName),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "tenantgate"),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: getEnvAsInt("LOGIN_RATE_LIMIT_PER_MIN", 30),
			LoginBurst:     getEnvAsInt("LOGIN_RATE_LIMIT_BURST", 10),
		},
		Audit: AuditConfig{
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 3*time.Second),
		},
		Plans: map[string]PlanLimits{
			"free": {
				MaxUsers:    getEnvAsInt("PLAN_FREE_MAX_USERS", 5),
				MaxProjects: getEnvAsInt("PLAN_FREE_MAX_PROJECTS", 3),
			},
			"pro": {
				MaxUsers:    getEnvAsInt("PLAN_PRO_MAX_USERS", 25),
				MaxProjects: getEnvAsInt("PLAN_PRO_MAX_PROJECTS", 50),
			},
			"enterprise": {
				MaxUsers:    getEnvAsInt("PLAN_ENTERPRISE_MAX_USERS", 500),
				MaxProjects: getEnvAsInt("PLAN_ENTERPRISE_MAX_PROJECTS", 1000),
			},
		},
		DefaultPlan: strings.ToLower(getEnv("DEFAULT_PLAN", "free")),
		BcryptCost:  getEnvAsInt("BCRYPT_COST", 0),
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
			AdminName:     getEnv("BOOTSTRAP_ADMIN_NAME", "Platform Admin"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:     getEnv("OTEL_EXPORTER_OTLP_INSECURE", "") == "true",
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.JWT.SigningKey == "" {
		if c.Server.Env == "production" {
			return fmt.Errorf("JWT_SIGNING_KEY is required in production")
		}
		c.JWT.SigningKey = "development-only-signing-key"
	}
	if c.JWT.ExpirationHours <= 0 {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be positive, got %d", c.JWT.ExpirationHours)
	}
	if _, ok := c.Plans[c.DefaultPlan]; !ok {
		return fmt.Errorf("DEFAULT_PLAN %q is not a known plan", c.DefaultPlan)
	}
	for name, limits := range c.Plans {
		if limits.MaxUsers < 1 || limits.MaxProjects < 0 {
			return fmt.Errorf("plan %q has invalid limits", name)
		}
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not a CIDR: %w", cidr, err)
		}
	}
	switch c.DB.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	return nil
}

// LogConfig returns the configuration as zap fields
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_driver", c.DB.Driver),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.String("default_plan", c.DefaultPlan),
		zap.Strings("trusted_proxies", c.Server.TrustedProxies),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
