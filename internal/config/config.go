package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the reset service, loaded once from
// the environment (with an optional .env file for local development).
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	SMS        SMSConfig
	Credential CredentialConfig
	OTP        OTPConfig
	RateLimit  RateLimitConfig
	Hashing    HashingConfig
	Bucketing  BucketingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	EventsTopic string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

// SMSConfig configures the Twilio message gateway used to deliver reset codes.
type SMSConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	APIBaseURL   string
	BodyTemplate string
	Timeout      time.Duration
}

// CredentialConfig configures the storefront platform admin API that accepts
// new passwords for an account identifier.
type CredentialConfig struct {
	BaseURL        string
	ServiceRoleKey string
	Timeout        time.Duration
}

type OTPConfig struct {
	// CountryCode replaces a single national trunk "0" prefix during
	// phone normalization, e.g. "+234".
	CountryCode string
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

type RateLimitConfig struct {
	HourlyCap    int
	DailyCap     int
	HourlyWindow time.Duration
	DailyWindow  time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers maps version -> secret, parsed from "1:secretA,2:secretB".
	// The highest version is used for new hashes.
	Peppers map[int]string
}

type BucketingConfig struct {
	EventBuckets int
}

var (
	global *Config
	once   sync.Once
)

// LoadConfig reads configuration from the environment. It is safe to call
// more than once; the first result wins.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		global = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/reset-service/autocert"),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "storefront"),
			},
			Kafka: KafkaConfig{
				Enabled:     getEnvBool("KAFKA_ENABLED", true),
				Brokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
				EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "password-reset-events"),
			},
			Clickhouse: ClickhouseConfig{
				Enabled:  getEnvBool("CLICKHOUSE_ENABLED", true),
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "security"),
			},
			SMS: SMSConfig{
				AccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
				FromNumber:   getEnv("TWILIO_PHONE_NUMBER", ""),
				APIBaseURL:   getEnv("TWILIO_API_BASE_URL", "https://api.twilio.com"),
				BodyTemplate: getEnv("SMS_BODY_TEMPLATE", "Your ALPEN STORE password reset code is: %s. This code expires in 10 minutes."),
				Timeout:      getEnvDuration("SMS_TIMEOUT", 10*time.Second),
			},
			Credential: CredentialConfig{
				BaseURL:        getEnv("PLATFORM_ADMIN_URL", "http://localhost:9000"),
				ServiceRoleKey: getEnv("PLATFORM_SERVICE_ROLE_KEY", ""),
				Timeout:        getEnvDuration("PLATFORM_TIMEOUT", 10*time.Second),
			},
			OTP: OTPConfig{
				CountryCode: getEnv("OTP_COUNTRY_CODE", "+234"),
				Digits:      getEnvInt("OTP_DIGITS", 6),
				TTL:         getEnvDuration("OTP_TTL", 10*time.Minute),
				MaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 3),
			},
			RateLimit: RateLimitConfig{
				HourlyCap:    getEnvInt("RATE_LIMIT_HOURLY_CAP", 3),
				DailyCap:     getEnvInt("RATE_LIMIT_DAILY_CAP", 10),
				HourlyWindow: getEnvDuration("RATE_LIMIT_HOURLY_WINDOW", time.Hour),
				DailyWindow:  getEnvDuration("RATE_LIMIT_DAILY_WINDOW", 24*time.Hour),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
				Peppers:           parsePeppers(getEnv("OTP_PEPPERS", "1:dev-only-pepper")),
			},
			Bucketing: BucketingConfig{
				EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
			},
		}
	})
	return global
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// CurrentPepperVersion returns the highest configured pepper version.
func (c *Config) CurrentPepperVersion() int {
	version := 0
	for v := range c.Hashing.Peppers {
		if v > version {
			version = v
		}
	}
	return version
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePeppers(v string) map[int]string {
	peppers := make(map[int]string)
	for _, entry := range strings.Split(v, ",") {
		version, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(version)
		if err != nil || secret == "" {
			continue
		}
		peppers[n] = secret
	}
	return peppers
}
