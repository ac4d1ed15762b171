// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// minJWTSecretLength はJWT署名鍵に要求する最小バイト数。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"FRONTEND_URL,required,notEmpty"`

	// Token
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"taskdesk"`

	// Password
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	ResetCleanupInterval time.Duration `env:"RESET_CLEANUP_INTERVAL" envDefault:"1h"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"10"`

	// OAuth（3項目すべて設定された場合のみGoogleログインを有効にする）
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL"`
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	// Mail（SMTP_SERVER未設定の場合はメール本文をログに出力する）
	SMTPServer   string        `env:"SMTP_SERVER"`
	SMTPUser     string        `env:"SMTP_USER"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"15s"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// Proxy（X-Real-IP等を信頼する接続元。CIDRまたは単一IPをカンマ区切りで指定）
	TrustedProxies       []string `env:"TRUSTED_PROXIES" envSeparator:","`
	TrustedProxyPrefixes []netip.Prefix

	// CORS（未設定の場合はFRONTEND_URL）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = cfg.FrontendURL
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	prefixes, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxyPrefixes = prefixes

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseTrustedProxies はCIDRまたは単一IPのリストをプレフィックスに変換する。
func parseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", v, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// validate は値の範囲と組み合わせを検証する。
func (c *Config) validate() error {
	var errs []error

	if len(c.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}
	if c.ResetCleanupInterval <= 0 {
		errs = append(errs, errors.New("RESET_CLEANUP_INTERVAL must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.SMTPTimeout <= 0 {
		errs = append(errs, errors.New("SMTP_TIMEOUT must be positive"))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_AUTH must be positive"))
	}

	google := []string{c.GoogleClientID, c.GoogleClientSecret, c.GoogleRedirectURL}
	set := 0
	for _, v := range google {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != len(google) {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL must be set together"))
	}

	if c.SMTPServer != "" && c.SMTPUser == "" && c.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_USER or SMTP_FROM is required when SMTP_SERVER is set"))
	}

	return errors.Join(errs...)
}

// GoogleEnabled はGoogleログインの設定が揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// SMTPEnabled はSMTPによるメール送信が設定されているかを返す。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPServer != ""
}
