package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port        string
	AdminAPIKey string
}

type DatabaseConfig struct {
	DSN string
}

type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RateLimitRPS float64
	RateBurst    int
}

type MonitorConfig struct {
	SyncInterval      time.Duration
	WarnDedupWindow   time.Duration
	DisableMaxRetries int
	WorkerCount       int
	StrictRuleOrder   bool
}

type AlertChannelsConfig struct {
	EmailWebhook string
	ChatWebhook  string
	SMSWebhook   string
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Monitor  MonitorConfig
	Alerts   AlertChannelsConfig
	Logging  LoggingConfig
}

func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "3000")
	viper.SetDefault("ADMIN_API_KEY", "")
	viper.SetDefault("DATABASE_DSN", "data/challenges.db")
	viper.SetDefault("GATEWAY_BASE_URL", "http://localhost:8080")
	viper.SetDefault("GATEWAY_API_KEY", "")
	viper.SetDefault("GATEWAY_TIMEOUT", "10s")
	viper.SetDefault("GATEWAY_RATE_LIMIT", 10.0)
	viper.SetDefault("GATEWAY_RATE_BURST", 10)
	viper.SetDefault("SYNC_INTERVAL", "30s")
	viper.SetDefault("WARN_DEDUP_WINDOW", "15m")
	viper.SetDefault("DISABLE_MAX_RETRIES", 6)
	viper.SetDefault("WORKER_COUNT", 8)
	viper.SetDefault("RULE_STRICT_ORDER", false)
	viper.SetDefault("ALERT_EMAIL_WEBHOOK", "")
	viper.SetDefault("ALERT_CHAT_WEBHOOK", "")
	viper.SetDefault("ALERT_SMS_WEBHOOK", "")
	viper.SetDefault("LOG_LEVEL", "info")

	syncInterval, err := time.ParseDuration(viper.GetString("SYNC_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid sync interval: %w", err)
	}

	warnDedup, err := time.ParseDuration(viper.GetString("WARN_DEDUP_WINDOW"))
	if err != nil {
		return nil, fmt.Errorf("invalid warn dedup window: %w", err)
	}

	gatewayTimeout, err := time.ParseDuration(viper.GetString("GATEWAY_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway timeout: %w", err)
	}

	cfg := &AppConfig{
		Server: ServerConfig{
			Port:        viper.GetString("SERVER_PORT"),
			AdminAPIKey: viper.GetString("ADMIN_API_KEY"),
		},
		Database: DatabaseConfig{
			DSN: viper.GetString("DATABASE_DSN"),
		},
		Gateway: GatewayConfig{
			BaseURL:      viper.GetString("GATEWAY_BASE_URL"),
			APIKey:       viper.GetString("GATEWAY_API_KEY"),
			Timeout:      gatewayTimeout,
			RateLimitRPS: viper.GetFloat64("GATEWAY_RATE_LIMIT"),
			RateBurst:    viper.GetInt("GATEWAY_RATE_BURST"),
		},
		Monitor: MonitorConfig{
			SyncInterval:      syncInterval,
			WarnDedupWindow:   warnDedup,
			DisableMaxRetries: viper.GetInt("DISABLE_MAX_RETRIES"),
			WorkerCount:       viper.GetInt("WORKER_COUNT"),
			StrictRuleOrder:   viper.GetBool("RULE_STRICT_ORDER"),
		},
		Alerts: AlertChannelsConfig{
			EmailWebhook: viper.GetString("ALERT_EMAIL_WEBHOOK"),
			ChatWebhook:  viper.GetString("ALERT_CHAT_WEBHOOK"),
			SMSWebhook:   viper.GetString("ALERT_SMS_WEBHOOK"),
		},
		Logging: LoggingConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	if cfg.Monitor.SyncInterval <= 0 {
		return nil, fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	if cfg.Monitor.WorkerCount <= 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive")
	}

	return cfg, nil
}
