// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ログイン試行制限とセッション登録のバックエンド
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// セッション設定
	SessionSecret string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// X-Forwarded-For を信頼するプロキシ（IP または CIDR）。空なら信頼しない
	TrustedProxies []string

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ユーザーストア設定
	DatabasePath string // SQLite データベースのパス
	BcryptCost   int    // bcrypt のコスト（10 未満は 10 に切り上げ）

	// ログイン試行制限
	LoginLimiter string // memory または redis

	// ログイン中セッションの登録先
	SessionRegistry string // memory または redis

	RedisURL string // いずれかが redis のときの接続URL

	// 初期ユーザー（ユーザーテーブルが空のときだけ作成）
	SeedAdminUsername string
	SeedAdminPassword string
	SeedUserUsername  string
	SeedUserPassword  string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		SessionSecret: getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		DatabasePath: getEnv("DATABASE_PATH", "demo.db"),
		BcryptCost:   getEnvAsInt("BCRYPT_COST", 10),

		LoginLimiter:    getEnv("LOGIN_LIMITER", LimiterMemory),
		SessionRegistry: getEnv("SESSION_REGISTRY", LimiterMemory),
		RedisURL:        getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		SeedAdminUsername: getEnv("SEED_ADMIN_USERNAME", ""),
		SeedAdminPassword: getEnv("SEED_ADMIN_PASSWORD", ""),
		SeedUserUsername:  getEnv("SEED_USER_USERNAME", ""),
		SeedUserPassword:  getEnv("SEED_USER_PASSWORD", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	for key, backend := range map[string]string{
		"LOGIN_LIMITER":    c.LoginLimiter,
		"SESSION_REGISTRY": c.SessionRegistry,
	} {
		switch backend {
		case LimiterMemory:
		case LimiterRedis:
			if c.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required when %s=redis", key)
			}
		default:
			return fmt.Errorf("%s must be %q or %q, got %q", key, LimiterMemory, LimiterRedis, backend)
		}
	}

	for _, proxy := range c.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES contains invalid address %q", proxy)
		}
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}

	// ローカル開発ではセッション鍵は任意（起動時に警告のみ）
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 bytes in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を取得します。空の要素は除きます。
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
