package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	bitrixadapter "github.com/sliva-name/bitrix24-bridge/internal/adapter/bitrix"
	cacheadapter "github.com/sliva-name/bitrix24-bridge/internal/adapter/cache"
	"github.com/sliva-name/bitrix24-bridge/internal/bitrix"
	"github.com/sliva-name/bitrix24-bridge/internal/config"
	httptransport "github.com/sliva-name/bitrix24-bridge/internal/http"
	"github.com/sliva-name/bitrix24-bridge/internal/http/handler"
	httpmiddleware "github.com/sliva-name/bitrix24-bridge/internal/http/middleware"
	"github.com/sliva-name/bitrix24-bridge/internal/repository"
	"github.com/sliva-name/bitrix24-bridge/internal/server"
	"github.com/sliva-name/bitrix24-bridge/internal/telemetry"
	"github.com/sliva-name/bitrix24-bridge/internal/token"
	"github.com/sliva-name/bitrix24-bridge/internal/webhook"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			telemetry.New,
			newSnowflake,
			newPGXPool,
			newTokenRepository,
			newWebhookRepository,
			newRedisClient,
			newTokenCache,
			newExchange,
			token.NewManager,
			newBitrixService,
			newWebhookService,
			handler.NewAuthHandler,
			handler.NewWebhookHandler,
			handler.NewCRMHandler,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newTokenRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool, node)
}

func newWebhookRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.WebhookRepository {
	return repository.NewPostgresWebhookRepo(pool, node)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newTokenCache(client redis.UniversalClient, cfg config.Config) repository.TokenCache {
	return cacheadapter.NewRedisTokenCache(client, cfg.CachePrefix)
}

func newExchange(cfg config.Config) bitrixadapter.Exchange {
	return bitrixadapter.NewHTTPExchange(nil, cfg.APITimeout)
}

func newBitrixService(cfg config.Config, manager *token.Manager, logger *zap.Logger) *bitrix.Service {
	return bitrix.NewService(cfg, manager, logger)
}

func newWebhookService(repo repository.WebhookRepository, cfg config.Config, logger *zap.Logger) *webhook.Service {
	return webhook.NewService(repo, cfg, logger)
}

func newRateLimiter(cfg config.Config) *httpmiddleware.RateLimiter {
	return httpmiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
