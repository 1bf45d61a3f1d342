package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Required: issuer label for TOTP provisioning and device tokens

	DatabaseFile    string // Optional: path to SQLite database file (default: ./twofactor.db)
	PepperFile      string // Optional: path to pepper file for code hashing (default: ./pepper)
	MasterKeyPath   string // Optional: path to TOTP encryption key file (env TWOFA_MASTER_KEYS wins)
	DeviceTokenKey  string // Optional: base64 HS256 key for device-remember tokens (generated if empty)
	DeviceTokenFile string // Optional: path to persist a generated device token key

	SMTPHost     string // Optional: SMTP relay host; empty switches to the log-only mailer
	SMTPPort     int    // Optional: SMTP port (default: 587)
	SMTPUsername string // Optional: SMTP auth username
	SMTPPassword string // Optional: SMTP auth password
	SMTPFrom     string // Optional: From address for verification emails
	SMTPStartTLS bool   // Optional: require STARTTLS (default: true)

	ResendPerHour int // Optional: emailed codes per account per hour (default: 6)
	ResendBurst   int // Optional: burst allowance on top of the hourly rate (default: 3)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired-challenge sweep interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:          getEnvOrDefault("TWOFA_ISSUER", "QuillCV"),
		DatabaseFile:    getEnvOrDefault("TWOFA_DATABASE_FILE", "twofactor.db"),
		PepperFile:      getEnvOrDefault("TWOFA_PEPPER_FILE", "pepper"),
		MasterKeyPath:   os.Getenv("TWOFA_MASTER_KEY_PATH"),
		DeviceTokenKey:  os.Getenv("TWOFA_DEVICE_TOKEN_KEY"),
		DeviceTokenFile: getEnvOrDefault("TWOFA_DEVICE_TOKEN_FILE", "device_token_key"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnvIntOrDefault("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     getEnvOrDefault("SMTP_FROM", "no-reply@quillcv.com"),
		SMTPStartTLS: getEnvBoolOrDefault("SMTP_STARTTLS", true),

		ResendPerHour: getEnvIntOrDefault("TWOFA_RESEND_PER_HOUR", 6),
		ResendBurst:   getEnvIntOrDefault("TWOFA_RESEND_BURST", 3),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Accepts Go duration strings (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
