package configuration

import (
	"Saathi/internal/auth"
	"Saathi/internal/db"
	"Saathi/internal/handler"
	"Saathi/internal/hub"
	"Saathi/internal/model"
	"Saathi/internal/repo"
	"Saathi/internal/service"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	MessageHandler handler.MessageHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Verifier       *auth.JWTVerifier
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func BuildContainer() (*Container, error) {
	config, err := LoadConfig(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger.Info("config loaded",
		zap.Int("app_port", config.Server.AppPort),
		zap.String("socket_route", config.Server.SocketRoute),
		zap.String("database", config.Mongo.Database),
	)

	con, err := db.OpenConnection(config.Mongo.Uri, config.Mongo.Database)
	if err != nil {
		return nil, err
	}

	messageRepo := repo.NewMessageRepository(
		db.NewRepository[model.ChatMessage](con, config.Mongo.MessagesCollection),
		logger.Named("message_repo"),
	)
	userRepo := repo.NewUserRepository(
		db.NewRepository[model.User](con, config.Mongo.UsersCollection),
		logger.Named("user_repo"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := messageRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to ensure message indexes", zap.Error(err))
	}

	verifier := auth.NewJWTVerifier(config.Auth.JWTSecret, config.TokenTTL())

	messageHub := hub.NewHub(messageRepo, verifier, userRepo, logger.Named("hub"), config.HubOptions())

	messageService := service.NewMessageService(messageRepo, userRepo, messageHub.Clock(), logger.Named("message_service"))

	return &Container{
		MessageHandler: handler.NewMessageHandler(messageService, logger.Named("message_handler")),
		MonitorHandler: handler.NewMonitorHandler(hub.NewMonitorService(messageHub)),
		Hub:            messageHub,
		Verifier:       verifier,
		Config:         *config,
		Logger:         logger,
		mongoClient:    con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

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
