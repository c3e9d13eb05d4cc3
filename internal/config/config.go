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

// Config holds the full application configuration, loaded once from the
// environment (with optional .env file in development).
type Config struct {
	Environment string

	Server     ServerConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	SMS        SMSConfig
	JWT        JWTConfig
	OTP        OTPConfig
	RateLimit  RateLimitConfig
	KMS        KMSConfig
	Hashing    HashingConfig
	Bucketing  BucketingConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port         int
	EnableTLS    bool
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	// Memory switches the verification/rate-limit backend to the in-process
	// store. Development only; a multi-instance deployment needs Redis.
	Memory bool
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type SMSConfig struct {
	GatewayURL  string
	Email       string
	Password    string
	Sender      string
	HTTPTimeout time.Duration
	MaxAttempts int
	Backoff     time.Duration
	QueueSize   int
	Workers     int
}

type JWTConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

type OTPConfig struct {
	CodeLength  int
	VerifyTTL   time.Duration
	ResetTTL    time.Duration
	MaxAttempts int
}

type RateLimitConfig struct {
	PhonePerHour int
	PhonePerDay  int
	IPPerHour    int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type BucketingConfig struct {
	UserBuckets int
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	loaded *Config
	once   sync.Once
)

// LoadConfig reads configuration from the environment. A .env file is
// honoured when present so local runs don't need exported variables.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		loaded = &Config{
			Environment: getEnv("APP_ENV", "development"),
			Server: ServerConfig{
				Port:         getEnvInt("SERVER_PORT", 8080),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
				CORSOrigins:  getEnvList("CORS_ORIGINS", "https://*"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
				Memory:   getEnvBool("CACHE_IN_MEMORY", false),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "shop_auth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers: getEnvList("KAFKA_BROKERS", ""),
				Topic:   getEnv("KAFKA_AUTH_TOPIC", "auth-events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "shop_auth"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			SMS: SMSConfig{
				GatewayURL:  getEnv("SMS_GATEWAY_URL", "https://notify.eskiz.uz/api"),
				Email:       getEnv("SMS_EMAIL", ""),
				Password:    getEnv("SMS_PASSWORD", ""),
				Sender:      getEnv("SMS_SENDER", "4546"),
				HTTPTimeout: getEnvDuration("SMS_HTTP_TIMEOUT", 10*time.Second),
				MaxAttempts: getEnvInt("SMS_MAX_ATTEMPTS", 3),
				Backoff:     getEnvDuration("SMS_RETRY_BACKOFF", 60*time.Second),
				QueueSize:   getEnvInt("SMS_QUEUE_SIZE", 1024),
				Workers:     getEnvInt("SMS_WORKERS", 4),
			},
			JWT: JWTConfig{
				Secret:     getEnv("JWT_SECRET", ""),
				AccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
				RefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 14*24*time.Hour),
				Issuer:     getEnv("JWT_ISSUER", "shop-auth"),
			},
			OTP: OTPConfig{
				CodeLength:  getEnvInt("OTP_CODE_LENGTH", 6),
				VerifyTTL:   getEnvDuration("OTP_VERIFY_TTL", 5*time.Minute),
				ResetTTL:    getEnvDuration("OTP_RESET_TTL", 10*time.Minute),
				MaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 3),
			},
			RateLimit: RateLimitConfig{
				PhonePerHour: getEnvInt("SMS_LIMIT_PHONE_HOUR", 5),
				PhonePerDay:  getEnvInt("SMS_LIMIT_PHONE_DAY", 20),
				IPPerHour:    getEnvInt("SMS_LIMIT_IP_HOUR", 50),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "eu-central-1"),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
				Pepper:            getEnv("PASSWORD_PEPPER", ""),
			},
			Bucketing: BucketingConfig{
				UserBuckets: getEnvInt("USER_BUCKETS", 256),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		}
	})
	return loaded
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

// Validate checks settings that have no sane default.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() {
		if c.SMS.Email == "" || c.SMS.Password == "" {
			return fmt.Errorf("SMS gateway credentials are required in production")
		}
		if c.Hashing.Pepper == "" {
			return fmt.Errorf("PASSWORD_PEPPER is required in production")
		}
		if c.Redis.Memory {
			return fmt.Errorf("CACHE_IN_MEMORY cannot be used in production")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
