package configuration

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/auth"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/db"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/handler"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/hub"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/push"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/repo"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const defaultConfigPath = "../../shared/config.dev.json"

type Container struct {
	ConversationHandler handler.ConversationHandler
	Hub                 *hub.Hub
	Config              Config
	Logger              *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer() (*Container, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	messageCollection := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)
	conversationCollection := db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection)
	statusCollection := db.NewRepository[model.DeliveryStatusRecord](con, config.ChatDatabase.DeliveryStatusCollection)

	logger, _ := zap.NewProduction()

	messageRepo := repo.NewMessageRepository(con, messageCollection, statusCollection, logger)
	conversationRepo := repo.NewConversationRepository(con, conversationCollection, logger)

	verifier := auth.NewServiceVerifier(config.Auth.VerifyEndpoint, logger)
	notifier := push.NewLogNotifier(logger)
	metrics := hub.NewMetrics(prometheus.DefaultRegisterer)

	Hub := hub.NewHub(verifier, conversationRepo, messageRepo, notifier, logger, metrics)

	historyService := service.NewHistoryService(conversationRepo, messageRepo)
	conversationHandler := handler.NewConversationHandler(historyService, Hub.Membership())

	return &Container{
		ConversationHandler: conversationHandler,
		Hub:                 Hub,
		Config:              *config,
		Logger:              logger,
		mongoClient:         con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
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
