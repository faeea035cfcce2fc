// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Token（鍵はPEMファイルの内容を読み込む）
	TokenPrivateKeyPEM string        `env:"TOKEN_PRIVATE_KEY_FILE,file"`
	TokenPublicKeyPEM  string        `env:"TOKEN_PUBLIC_KEY_FILE,file"`
	TokenIssuer        string        `env:"TOKEN_ISSUER" envDefault:"self"`
	TokenLifetime      time.Duration `env:"TOKEN_LIFETIME" envDefault:"12h"`

	// Outbox
	OutboxStaleWindow         time.Duration `env:"OUTBOX_STALE_WINDOW" envDefault:"5m"`
	OutboxRetentionWindow     time.Duration `env:"OUTBOX_RETENTION_WINDOW" envDefault:"168h"`
	OutboxResubmitSchedule    string        `env:"OUTBOX_RESUBMIT_SCHEDULE" envDefault:"@every 1m"`
	OutboxReaperSchedule      string        `env:"OUTBOX_REAPER_SCHEDULE" envDefault:"@every 1h"`
	OutboxBatchSize           int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxConcurrency      int           `env:"OUTBOX_MAX_CONCURRENCY" envDefault:"4"`
	OutboxEscalationThreshold int           `env:"OUTBOX_ESCALATION_THRESHOLD" envDefault:"10"`
	OutboxDispatchTimeout     time.Duration `env:"OUTBOX_DISPATCH_TIMEOUT" envDefault:"10s"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// 管理者アカウントの初期投入（任意）
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// Worker
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9090"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の範囲を検証する。
func (c *Config) validate() error {
	var problems []string

	if c.TokenLifetime <= 0 {
		problems = append(problems, "TOKEN_LIFETIME must be positive")
	}
	if c.OutboxStaleWindow < 0 {
		problems = append(problems, "OUTBOX_STALE_WINDOW must not be negative")
	}
	if c.OutboxRetentionWindow < 0 {
		problems = append(problems, "OUTBOX_RETENTION_WINDOW must not be negative")
	}
	if c.OutboxBatchSize <= 0 {
		problems = append(problems, "OUTBOX_BATCH_SIZE must be positive")
	}
	if c.OutboxMaxConcurrency <= 0 {
		problems = append(problems, "OUTBOX_MAX_CONCURRENCY must be positive")
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitLogin <= 0 {
		problems = append(problems, "RATE_LIMIT_* must be positive")
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		problems = append(problems, "ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireTokenKeys はトークン発行・検証に必要な鍵ペアが設定されているかを確認する。
// serveモードでのみ必須となる。
func (c *Config) RequireTokenKeys() error {
	var missing []string
	if strings.TrimSpace(c.TokenPrivateKeyPEM) == "" {
		missing = append(missing, "TOKEN_PRIVATE_KEY_FILE")
	}
	if strings.TrimSpace(c.TokenPublicKeyPEM) == "" {
		missing = append(missing, "TOKEN_PUBLIC_KEY_FILE")
	}
	if len(missing) > 0 {
		return errors.New("required token key files are not set: " + strings.Join(missing, ", "))
	}
	return nil
}
