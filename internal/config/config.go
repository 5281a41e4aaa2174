package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	StoreScylla = "scylla"
	StoreMemory = "memory"

	SMSProviderTwilio = "twilio"
	SMSProviderLog    = "log"
)

var (
	globalConfig *Config
	loadOnce     sync.Once

	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	Environment        string
	Server             ServerConfig
	Logging            LoggingConfig
	Store              StoreConfig
	Redis              RedisConfig
	Scylla             ScyllaConfig
	Kafka              KafkaConfig
	Clickhouse         ClickhouseConfig
	Elasticsearch      ElasticsearchConfig
	KMS                KMSConfig
	Bucketing          BucketingConfig
	SMS                SMSConfig
	JWT                JWTConfig
	OTP                OTPConfig
	LedgerMasterKey    string
	RequireClientToken bool
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
	LockTTL  time.Duration
}

type ScyllaConfig struct {
	Nodes             []string
	Keyspace          string
	Username          string
	Password          string
	TLS               bool
	ReplicationFactor int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	EventBuckets int
	LockStripes  int
}

type SMSConfig struct {
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

type JWTConfig struct {
	Secret         string
	PrivateKeyPath string
	PublicKeyPath  string
	Issuer         string
}

// OTPConfig carries the tunables of the OTP flows.
type OTPConfig struct {
	ExpirationMinutes int
	AdminCode         string
	EmergencyTTL      time.Duration
	SessionTTL        time.Duration
	Retention         time.Duration
	CleanupInterval   time.Duration
}

// Expiration returns the lifetime of a regular code.
func (o OTPConfig) Expiration() time.Duration {
	return time.Duration(o.ExpirationMinutes) * time.Minute
}

// LoadConfig reads .env (if present) and the process environment once.
func LoadConfig(envFiles ...string) *Config {
	loadOnce.Do(func() {
		if len(envFiles) == 0 {
			_ = godotenv.Load()
		} else {
			_ = godotenv.Load(envFiles...)
		}
		globalConfig = FromEnv()
	})
	return globalConfig
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

// FromEnv builds a Config from the current environment without touching .env files.
func FromEnv() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", EnvDevelopment),
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 8080),
			TLSPort:      getEnvInt("TLS_PORT", 8443),
			EnableTLS:    getEnvBool("ENABLE_TLS", false),
			AutoCert:     getEnvBool("AUTO_CERT", false),
			Domain:       getEnv("DOMAIN", "localhost"),
			CertFile:     getEnv("TLS_CERT_FILE", ""),
			KeyFile:      getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:  getEnv("AUTO_CERT_DIR", "./certs"),
			Email:        getEnv("AUTO_CERT_EMAIL", ""),
			CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", nil),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", StoreScylla),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
			LockTTL:  getEnvDuration("PHONE_LOCK_TTL", 10*time.Second),
		},
		Scylla: ScyllaConfig{
			Nodes:             getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace:          getEnv("SCYLLA_KEYSPACE", "keyless_recovery"),
			Username:          getEnv("SCYLLA_USERNAME", ""),
			Password:          getEnv("SCYLLA_PASSWORD", ""),
			TLS:               getEnvBool("SCYLLA_TLS", false),
			ReplicationFactor: getEnvInt("SCYLLA_REPLICATION_FACTOR", 1),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "keyless-recovery-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "keyless_recovery"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_INDEX", "security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
		Bucketing: BucketingConfig{
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
			LockStripes:  getEnvInt("LOCK_STRIPES", 256),
		},
		SMS: SMSConfig{
			Provider:         getEnv("SMS_PROVIDER", SMSProviderLog),
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			TwilioFromNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
		},
		JWT: JWTConfig{
			Secret:         getEnv("JWT_SECRET", ""),
			PrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
			PublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", ""),
			Issuer:         getEnv("JWT_ISSUER", "keyless-recovery"),
		},
		OTP: OTPConfig{
			ExpirationMinutes: getEnvInt("OTP_EXPIRATION_MINUTES", 5),
			AdminCode:         getEnv("ADMIN_SECRET_CODE", ""),
			EmergencyTTL:      getEnvDuration("EMERGENCY_CODE_TTL", 7*24*time.Hour),
			SessionTTL:        getEnvDuration("SESSION_TTL", 24*time.Hour),
			Retention:         getEnvDuration("OTP_RETENTION", 30*24*time.Hour),
			CleanupInterval:   getEnvDuration("OTP_CLEANUP_INTERVAL", time.Hour),
		},
		LedgerMasterKey:    getEnv("LEDGER_MASTER_KEY", ""),
		RequireClientToken: getEnvBool("REQUIRE_CLIENT_TOKEN", true),
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.OTP.ExpirationMinutes <= 0 {
		problems = append(problems, "OTP_EXPIRATION_MINUTES must be positive")
	}
	if c.OTP.SessionTTL <= 0 {
		problems = append(problems, "SESSION_TTL must be positive")
	}
	if c.OTP.EmergencyTTL <= 0 {
		problems = append(problems, "EMERGENCY_CODE_TTL must be positive")
	}
	switch c.Store.Backend {
	case StoreScylla:
		if len(c.Scylla.Nodes) == 0 {
			problems = append(problems, "SCYLLA_NODES is required for the scylla store")
		}
	case StoreMemory:
		if c.IsProduction() {
			problems = append(problems, "memory store is not allowed in production")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	switch c.SMS.Provider {
	case SMSProviderTwilio:
		if c.SMS.TwilioAccountSID == "" || c.SMS.TwilioAuthToken == "" || c.SMS.TwilioFromNumber == "" {
			problems = append(problems, "twilio provider needs TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER")
		}
	case SMSProviderLog:
		if c.IsProduction() {
			problems = append(problems, "log SMS provider is not allowed in production")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown SMS_PROVIDER %q", c.SMS.Provider))
	}
	if c.JWT.Secret == "" && c.JWT.PrivateKeyPath == "" {
		problems = append(problems, "JWT_SECRET or JWT_PRIVATE_KEY_PATH is required")
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		problems = append(problems, "KMS_KEY_ID is required when KMS is enabled")
	}
	if !c.KMS.Enabled && c.Store.Backend == StoreScylla && c.LedgerMasterKey == "" {
		problems = append(problems, "LEDGER_MASTER_KEY is required when KMS is disabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "KAFKA_BROKERS is required when Kafka is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// GetServerAddress returns the plain HTTP listen address.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
