package configuration

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/auth"
	"github.com/bspark23/chatsphere-pro/internal/bridge"
	"github.com/bspark23/chatsphere-pro/internal/db"
	"github.com/bspark23/chatsphere-pro/internal/handler"
	"github.com/bspark23/chatsphere-pro/internal/hub"
	"github.com/bspark23/chatsphere-pro/internal/model"
	"github.com/bspark23/chatsphere-pro/internal/repo"
)

type Container struct {
	MessageHandler handler.MessageHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Gate           *auth.Gate
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	bridge      bridge.Broadcaster
	mongoClient *mongo.Database
	redisClient *redis.Client
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	messageRepo := repo.NewMessageRepository(
		db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection), logger)
	userRepo := repo.NewUserRepository(
		db.NewRepository[model.User](con, config.ChatDatabase.UsersCollection), logger)

	broadcaster, redisClient := buildBroadcaster(config.Redis, logger)

	presence := hub.NewPresenceTracker(userRepo, broadcaster, logger)
	h := hub.NewHub(messageRepo, presence, broadcaster, config.Server.AllowedOrigins, logger)

	// cross-instance fan-out down is a degraded mode, never fatal
	if err := broadcaster.Start(context.Background(), h); err != nil {
		logger.Warn("bridge unavailable, running with local-only delivery", zap.Error(err))
	}

	gate := auth.NewGate(config.Auth.JwtSecret, userRepo, logger)

	return &Container{
		MessageHandler: handler.NewMessageHandler(messageRepo),
		MonitorHandler: handler.NewMonitorHandler(hub.NewMonitorService(h)),
		Hub:            h,
		Gate:           gate,
		Config:         *config,
		Logger:         logger,
		bridge:         broadcaster,
		mongoClient:    con,
		redisClient:    redisClient,
	}, nil
}

// buildBroadcaster picks the Redis bridge when a URL is configured and
// reachable; anything else means single-instance local delivery.
func buildBroadcaster(cfg RedisConfig, logger *zap.Logger) (bridge.Broadcaster, *redis.Client) {
	if cfg.Url == "" {
		logger.Info("no redis url configured, running single-instance")
		return bridge.NewLocal(), nil
	}

	opts, err := redis.ParseURL(cfg.Url)
	if err != nil {
		logger.Warn("bad redis url, running single-instance", zap.Error(err))
		return bridge.NewLocal(), nil
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, running single-instance", zap.Error(err))
		_ = client.Close()
		return bridge.NewLocal(), nil
	}

	return bridge.NewRedisBridge(client, cfg.Channel, logger), client
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.bridge != nil {
		if err := c.bridge.Close(); err != nil {
			c.Logger.Warn("bridge close failed", zap.Error(err))
		}
	}

	if c.redisClient != nil {
		_ = c.redisClient.Close()
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
