package bootstrap

import (
	"context"
	"log"
	"time"

	"voicechat-be/internal/config"
	"voicechat-be/internal/constant"
	"voicechat-be/internal/controller"
	"voicechat-be/internal/handler"
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/repository/memory"
	"voicechat-be/internal/repository/unitofwork"
	"voicechat-be/internal/service"
	"voicechat-be/internal/websocket"
	"voicechat-be/pkg/chat/title"
	"voicechat-be/pkg/llm/factory"

	pktNats "voicechat-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatController controller.IChatController

	// Background services, exposed for main.go to run
	TitleWorker service.ITitleWorkerService

	// WebSockets
	WsHandler    *handler.WsHandler
	WebSocketHub *websocket.Hub
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. Generation backend
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		cfg.Ai.OllamaBaseURL,
		cfg.Keys.GoogleGemini,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// Live session registry, idle sessions evicted after the TTL
	sessionRegistry := memory.NewSessionRegistry(time.Duration(cfg.Ai.SessionTTLMins) * time.Minute)

	// 3.5 Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
		rdb = nil
	}

	// WebSocket hub
	wsLogger := logger.NewIsolatedLogger("logs/websocket.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 4. Services
	titlePublisher := service.NewTitlePublisherService(pubSub, constant.GenerateTitleTopicName, sysLogger)
	titleWorker := service.NewTitleWorkerService(
		pubSub,
		constant.GenerateTitleTopicName,
		uowFactory,
		title.NewSummarizer(llmProvider),
		natsPub,
		wsHub,
		sysLogger,
	)

	chatService := service.NewChatService(
		uowFactory,
		sessionRegistry,
		llmProvider,
		titlePublisher,
		natsPub,
		sysLogger,
	)

	voiceHandler := websocket.NewVoiceHandler(chatService, wsLogger)
	wsHandler := handler.NewWsHandler(wsHub, voiceHandler, wsLogger)

	return &Container{
		ChatController: controller.NewChatController(chatService, sysLogger),
		TitleWorker:    titleWorker,
		WsHandler:      wsHandler,
		WebSocketHub:   wsHub,
	}
}
