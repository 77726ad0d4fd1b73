package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Admin    AdminConfig
	Mpesa    MpesaConfig
	Escrow   EscrowConfig
	Secrets  SecretsConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// AdminConfig holds operator credentials. PasswordHash is a bcrypt hash;
// there are no user accounts in this system, only the operator API.
type AdminConfig struct {
	Email        string
	PasswordHash string
}

// MpesaConfig for the Safaricom Daraja API.
type MpesaConfig struct {
	Environment        string // sandbox or production
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	Shortcode          string
	Passkey            string
	InitiatorName      string
	SecurityCredential string
	CallbackBaseURL    string // e.g. https://yourdomain.com - STK callback is CallbackBaseURL + /api/v1/webhooks/mpesa
}

// EscrowConfig carries the order-lifecycle tunables.
type EscrowConfig struct {
	VelocityLimit        int // max orders per buyer within VelocityWindow
	VelocityWindow       time.Duration
	DailyAmountCapCents  int64 // per-buyer same-calendar-day ceiling
	MaxDeliveryAttempts  int   // failed confirms before lockout
	AttemptWindow        time.Duration
	LockDuration         time.Duration
	ReconcileInterval    time.Duration
	ReconcileStaleAfter  time.Duration
	ReconcileBatchSize   int
	ReconcileMaxAttempts int
}

type SecretsConfig struct {
	PhonePepper string // HMAC key for phone digests; rotating it orphans history
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_DSN", "zemi:zemi@tcp(localhost:3306)/zemi_escrow?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			Expiry: getDuration("JWT_EXPIRY", 12*time.Hour),
			Issuer: "zemi",
		},
		Admin: AdminConfig{
			Email:        getEnv("ADMIN_EMAIL", "admin@zemi.local"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Mpesa: MpesaConfig{
			Environment:        getEnv("MPESA_ENVIRONMENT", "sandbox"),
			BaseURL:            getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:        getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:     getEnv("MPESA_CONSUMER_SECRET", ""),
			Shortcode:          getEnv("MPESA_SHORTCODE", ""),
			Passkey:            getEnv("MPESA_PASSKEY", ""),
			InitiatorName:      getEnv("MPESA_INITIATOR_NAME", ""),
			SecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			CallbackBaseURL:    getEnv("MPESA_CALLBACK_BASE_URL", ""),
		},
		Escrow: EscrowConfig{
			VelocityLimit:        getInt("ESCROW_VELOCITY_LIMIT", 5),
			VelocityWindow:       getDuration("ESCROW_VELOCITY_WINDOW", time.Hour),
			DailyAmountCapCents:  getInt64("ESCROW_DAILY_CAP_CENTS", 5_000_000),
			MaxDeliveryAttempts:  getInt("ESCROW_MAX_DELIVERY_ATTEMPTS", 3),
			AttemptWindow:        getDuration("ESCROW_ATTEMPT_WINDOW", 15*time.Minute),
			LockDuration:         getDuration("ESCROW_LOCK_DURATION", time.Hour),
			ReconcileInterval:    getDuration("RECONCILE_INTERVAL", 5*time.Minute),
			ReconcileStaleAfter:  getDuration("RECONCILE_STALE_AFTER", time.Hour),
			ReconcileBatchSize:   getInt("RECONCILE_BATCH_SIZE", 50),
			ReconcileMaxAttempts: getInt("RECONCILE_MAX_ATTEMPTS", 10),
		},
		Secrets: SecretsConfig{
			PhonePepper: getEnv("PHONE_PEPPER", "change-me-phone-pepper"),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
