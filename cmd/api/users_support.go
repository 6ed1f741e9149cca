package main

import (
	"context"
	"log"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/demo-security/internal/auth"
	"github.com/yourusername/demo-security/internal/config"
	"github.com/yourusername/demo-security/internal/security"
	"github.com/yourusername/demo-security/internal/users"
)

func setupUsers(ctx context.Context, cfg *config.Config, hasher security.PasswordHasher, logger *log.Logger) (*users.SQLiteRepository, func(), error) {
	db, err := users.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Printf("failed to close database: %v", err)
		}
	}

	repo := users.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}

	created, err := users.Seed(ctx, repo, hasher, []users.SeedUser{
		{Username: cfg.SeedAdminUsername, Password: cfg.SeedAdminPassword, Roles: []string{security.RoleAdmin}},
		{Username: cfg.SeedUserUsername, Password: cfg.SeedUserPassword, Roles: []string{security.RoleUser}},
	}, logger)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	if created > 0 {
		logger.Printf("seeded %d initial users", created)
	}
	return repo, closeDB, nil
}

// setupStateStores はログイン試行制限とセッション登録のバックエンドを作成します。
// どちらかが redis の場合はひとつのクライアントを共有します。
func setupStateStores(cfg *config.Config) (auth.AttemptLimiter, auth.SessionRegistry, func(), error) {
	settings := auth.DefaultLimiterSettings()
	var limiter auth.AttemptLimiter = auth.NewMemoryLimiter(settings)
	var registry auth.SessionRegistry = auth.NewMemoryRegistry()
	if cfg.LoginLimiter != config.LimiterRedis && cfg.SessionRegistry != config.LimiterRedis {
		return limiter, registry, func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	redisClient := redis.NewClient(opt)
	if cfg.LoginLimiter == config.LimiterRedis {
		limiter = auth.NewRedisLimiter(redisClient, settings)
	}
	if cfg.SessionRegistry == config.LimiterRedis {
		registry = auth.NewRedisRegistry(redisClient)
	}
	return limiter, registry, func() { _ = redisClient.Close() }, nil
}
