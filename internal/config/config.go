// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port          int    `mapstructure:"PORT"`
	DBPath        string `mapstructure:"DB_PATH"`
	UploadDir     string `mapstructure:"UPLOAD_DIR"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	RazorpayKeyID          string        `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret      string        `mapstructure:"RAZORPAY_KEY_SECRET"`
	RazorpaySigningSecret  string        `mapstructure:"RAZORPAY_SIGNING_SECRET"`
	RazorpayXAccountNumber string        `mapstructure:"RAZORPAYX_ACCOUNT_NUMBER"`
	RazorpayBaseURL        string        `mapstructure:"RAZORPAY_BASE_URL"`
	GatewayTimeout         time.Duration `mapstructure:"GATEWAY_TIMEOUT"`

	OrderAmountPaise    int64  `mapstructure:"ORDER_AMOUNT_PAISE"`
	DownloadRewardPaise int64  `mapstructure:"DOWNLOAD_REWARD_PAISE"`
	PayoutMode          string `mapstructure:"PAYOUT_MODE"`
}

// required lists the keys that have no usable default.
var required = []string{
	"DB_PATH",
	"UPLOAD_DIR",
	"JWT_SECRET",
	"RAZORPAY_KEY_ID",
	"RAZORPAY_KEY_SECRET",
	"RAZORPAYX_ACCOUNT_NUMBER",
}

var payoutModes = map[string]bool{"IMPS": true, "NEFT": true, "RTGS": true, "UPI": true}

var accountNumberPattern = regexp.MustCompile(`^[0-9]{9,18}$`)

// LoadConfig reads config.yml from the working directory (if present) and
// the environment, which wins over the file.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetDefault("PORT", 3000)
	v.SetDefault("DB_PATH", "")
	v.SetDefault("UPLOAD_DIR", "")
	v.SetDefault("PUBLIC_BASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("RAZORPAY_KEY_ID", "")
	v.SetDefault("RAZORPAY_KEY_SECRET", "")
	v.SetDefault("RAZORPAY_SIGNING_SECRET", "")
	v.SetDefault("RAZORPAYX_ACCOUNT_NUMBER", "")
	v.SetDefault("RAZORPAY_BASE_URL", "https://api.razorpay.com")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("ORDER_AMOUNT_PAISE", 200)
	v.SetDefault("DOWNLOAD_REWARD_PAISE", 150)
	v.SetDefault("PAYOUT_MODE", "IMPS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.PayoutMode = strings.ToUpper(strings.TrimSpace(c.PayoutMode))
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	if c.RazorpaySigningSecret == "" {
		c.RazorpaySigningSecret = c.RazorpayKeySecret
	}
}

// Validate reports every problem at once so a misconfigured deployment can
// be fixed in one pass.
func (c *Config) Validate() error {
	values := map[string]string{
		"DB_PATH":                  c.DBPath,
		"UPLOAD_DIR":               c.UploadDir,
		"JWT_SECRET":               c.JWTSecret,
		"RAZORPAY_KEY_ID":          c.RazorpayKeyID,
		"RAZORPAY_KEY_SECRET":      c.RazorpayKeySecret,
		"RAZORPAYX_ACCOUNT_NUMBER": c.RazorpayXAccountNumber,
	}

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", ")))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.RazorpayXAccountNumber != "" && !accountNumberPattern.MatchString(c.RazorpayXAccountNumber) {
		errs = append(errs, errors.New("RAZORPAYX_ACCOUNT_NUMBER must be 9 to 18 digits"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.OrderAmountPaise <= 0 {
		errs = append(errs, errors.New("ORDER_AMOUNT_PAISE must be positive"))
	}
	if c.DownloadRewardPaise <= 0 {
		errs = append(errs, errors.New("DOWNLOAD_REWARD_PAISE must be positive"))
	}
	if !payoutModes[c.PayoutMode] {
		errs = append(errs, fmt.Errorf("PAYOUT_MODE %q is not one of IMPS, NEFT, RTGS, UPI", c.PayoutMode))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns LOG_LEVEL as a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}
