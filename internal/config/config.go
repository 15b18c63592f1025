package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env           string
	HTTPAddr      string
	DatabaseURL   string
	RedisURL      string
	JWTSecret     string
	QRSecret      string
	TelegramToken string
	TelegramUser  string
	BaseURL       string
	APIPublicURL  string
	AdminLogin    string
	AdminPassHash string
	AdminTGIDs    map[int64]struct{}
	S3            S3Config
	Gateway       GatewayConfig
	Booking       BookingConfig
	Logging       LoggingConfig
}

type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
}

type GatewayConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	MerchantID   string
	NotifyURL    string
	ReturnURL    string
	RatePerSec   float64
}

// Enabled reports whether automatic gateway payments can be initiated.
func (g GatewayConfig) Enabled() bool {
	return strings.TrimSpace(g.ClientID) != "" && strings.TrimSpace(g.ClientSecret) != ""
}

type BookingConfig struct {
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	PenaltyInterval    time.Duration
	StartsPerMinute    int
	CallbacksPerSecond float64
	GnplTermDays       int
	GnplPenaltyPercent string
	GnplPenaltyDays    int
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Env:           getenv("APP_ENV", "dev"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		QRSecret:      os.Getenv("QR_HMAC_SECRET"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramUser:  os.Getenv("TELEGRAM_BOT_USERNAME"),
		BaseURL:       getenv("BASE_URL", ""),
		APIPublicURL:  getenv("API_PUBLIC_URL", ""),
		AdminLogin:    os.Getenv("ADMIN_LOGIN"),
		AdminPassHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		AdminTGIDs:    parseIDSet(os.Getenv("ADMIN_TELEGRAM_IDS")),
		S3: S3Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getenv("S3_REGION", "us-east-1"),
			UseSSL:         getenvBool("S3_USE_SSL", true),
		},
		Gateway: GatewayConfig{
			BaseURL:      os.Getenv("GATEWAY_BASE_URL"),
			TokenURL:     os.Getenv("GATEWAY_TOKEN_URL"),
			ClientID:     os.Getenv("GATEWAY_CLIENT_ID"),
			ClientSecret: os.Getenv("GATEWAY_CLIENT_SECRET"),
			MerchantID:   os.Getenv("GATEWAY_MERCHANT_ID"),
			NotifyURL:    os.Getenv("GATEWAY_NOTIFY_URL"),
			ReturnURL:    os.Getenv("GATEWAY_RETURN_URL"),
			RatePerSec:   getenvFloat("GATEWAY_RATE_PER_SEC", 5),
		},
		Booking: BookingConfig{
			SessionTTL:         getenvDuration("BOOKING_SESSION_TTL", 24*time.Hour),
			SweepInterval:      getenvDuration("BOOKING_SWEEP_INTERVAL", 15*time.Minute),
			PenaltyInterval:    getenvDuration("BOOKING_PENALTY_INTERVAL", time.Hour),
			StartsPerMinute:    getenvInt("BOOKING_STARTS_PER_MINUTE", 6),
			CallbacksPerSecond: getenvFloat("PAYMENT_CALLBACKS_PER_SEC", 20),
			GnplTermDays:       getenvInt("GNPL_TERM_DAYS", 30),
			GnplPenaltyPercent: getenv("GNPL_PENALTY_PERCENT", "5"),
			GnplPenaltyDays:    getenvInt("GNPL_PENALTY_PERIOD_DAYS", 7),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.QRSecret == "" {
		return nil, fmt.Errorf("QR_HMAC_SECRET is required")
	}
	if cfg.Booking.GnplTermDays <= 0 || cfg.Booking.GnplPenaltyDays <= 0 {
		return nil, fmt.Errorf("GNPL_TERM_DAYS and GNPL_PENALTY_PERIOD_DAYS must be positive")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseIDSet(val string) map[int64]struct{} {
	set := make(map[int64]struct{})
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
