// Package main はWebサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/demo-security/internal/auth"
	"github.com/yourusername/demo-security/internal/config"
	"github.com/yourusername/demo-security/internal/security"
	"github.com/yourusername/demo-security/internal/web"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := log.Default()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	sec, err := security.DefaultWebSecurity(hasher)
	if err != nil {
		log.Fatalf("Invalid security configuration: %v", err)
	}

	repo, closeDB, err := setupUsers(ctx, cfg, hasher, logger)
	if err != nil {
		log.Fatalf("Failed to set up user store: %v", err)
	}
	defer closeDB()

	limiter, registry, closeStores, err := setupStateStores(cfg)
	if err != nil {
		log.Fatalf("Failed to set up login state stores: %v", err)
	}
	defer closeStores()

	authManager := auth.NewManager(sec, repo, limiter, registry, logger)

	router, err := newRouter(cfg, sec, authManager, logger)
	if err != nil {
		log.Fatalf("Failed to set up router: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown error: %v", err)
		}
	}()

	// サーバーの起動
	logger.Printf("Starting web server on %s (mode: %s)", srv.Addr, cfg.GinMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
	logger.Printf("server stopped")
}

// newRouter はミドルウェアとルーティングを設定したルーターを返します。
func newRouter(cfg *config.Config, sec *security.WebSecurity, authManager *auth.Manager, logger *log.Logger) (*gin.Engine, error) {
	// Ginルーターの初期化（gin.Default と同じ Logger, Recovery）
	router := gin.New()
	// ログイン試行制限は ClientIP 単位なので、設定したプロキシ以外の X-Forwarded-For は無視する
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(sessions.Sessions(auth.SessionCookieName, newSessionStore(cfg, logger)))
	router.Use(cors.New(corsConfig(cfg)))
	web.LoadTemplates(router)

	// ルーティングの設定
	setupRoutes(router, sec, authManager)
	return router, nil
}

// newSessionStore はクッキーセッションストアを作成します。
func newSessionStore(cfg *config.Config, logger *log.Logger) sessions.Store {
	secret := cfg.SessionSecret
	if secret == "" {
		// release モードでは Validate で弾かれるので、ここに来るのは開発時のみ
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("Failed to generate session secret: %v", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Printf("SESSION_SECRET is not set; using a random key (sessions will not survive restarts)")
	}

	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

func corsConfig(cfg *config.Config) cors.Config {
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		auth.CSRFHeader, // CSRF保護用ヘッダー
	}
	// ログイン後のレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{auth.CSRFHeader}
	return corsConfig
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "demo-security",
		"version": "0.1.0",
	})
}

// setupRoutes はログイン/ログアウトとページのルーティングを行います。
func setupRoutes(router *gin.Engine, sec *security.WebSecurity, authManager *auth.Manager) {
	// アクセス規則より前に登録するため、誰でも叩ける
	router.GET("/health", handleHealth)

	// これ以降のルート（と 404）はすべてアクセス規則表で判定する
	router.Use(authManager.Authorize(), authManager.VerifyCSRF())

	router.GET(sec.Login.DisplayPath, web.LoginPage(sec.Login))
	router.POST(sec.Login.SubmitPath, authManager.Login)
	router.POST(sec.Logout.LogoutPath, authManager.Logout)

	router.GET(sec.Login.SuccessRedirect, web.Page("共通ページ", sec.Logout))
	router.GET("/user", web.Page("ユーザーページ", sec.Logout))
	router.GET("/admin", web.Page("管理者ページ", sec.Logout))
}
