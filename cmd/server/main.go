// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"finpro-go/internal/config"
	"finpro-go/internal/handler"
	"finpro-go/internal/middleware"
	"finpro-go/internal/model"
	"finpro-go/internal/repository"
	"finpro-go/internal/service"
	"finpro-go/pkg/database"
	"finpro-go/pkg/embedding"
	"finpro-go/pkg/es"
	"finpro-go/pkg/kafka"
	"finpro-go/pkg/llm"
	"finpro-go/pkg/log"
	"finpro-go/pkg/metrics"
	"finpro-go/pkg/resilience"
	"finpro-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, log.RotateConfig{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化 MySQL 与 Elasticsearch
	db, err := database.NewMySQL(cfg.Database.MySQL)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	defer database.Close(db)
	if cfg.Database.MySQL.AutoMigrate {
		if err := db.AutoMigrate(&model.User{}, &model.Turn{}); err != nil {
			log.Fatal("数据库迁移失败", err)
		}
	}

	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if err := es.EnsureIndex(bootCtx, esClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions); err != nil {
		cancelBoot()
		log.Fatal("Elasticsearch 索引初始化失败", err)
	}
	cancelBoot()

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	turnRepo := repository.NewTurnRepository(db)
	passageRepo := repository.NewPassageRepository(esClient, cfg.Elasticsearch.IndexName)
	conversationRepo := repository.NewConversationRepository(cfg.Session.TTL, cfg.Session.CleanupInterval, cfg.Session.MaxMessages)

	// 5. 初始化外部客户端与 Service (依赖注入)
	appMetrics := metrics.New()
	executor := resilience.NewExecutor(cfg.Resilience)
	httpClient := &http.Client{}
	llmClient := service.GuardLLM(llm.NewClient(cfg.LLM, httpClient), executor, "llm_completion")
	embeddingClient := embedding.NewClient(cfg.Embedding, httpClient)
	gen := llm.ParamsFromConfig(cfg.LLM.Generation)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	persister := service.NewTurnPersister(userRepo, turnRepo)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	var consumerWG sync.WaitGroup

	var sink service.TurnSink = persister.Process
	var producer *kafka.Producer
	if cfg.Persistence.Mode == "kafka" {
		rdb, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		defer rdb.Close()

		producer = kafka.NewProducer(cfg.Kafka)
		sink = producer.PublishTurn

		attempts := repository.NewAttemptRepository(rdb, "finpro:turn_attempts:", 24*time.Hour)
		consumer := kafka.NewConsumer(cfg.Kafka, persister, attempts, cfg.Persistence.MaxAttempts)
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			if err := consumer.Run(consumerCtx); err != nil {
				log.Error("Kafka 消费者异常退出", err)
			}
		}()
		log.Infof("轮次持久化模式: kafka, topic: %s", cfg.Kafka.Topic)
	} else {
		log.Info("轮次持久化模式: direct")
	}

	recorder := service.NewTurnRecorder(sink, executor, appMetrics, service.RecorderOptions{
		Mode:        cfg.Persistence.Mode,
		Workers:     cfg.Persistence.Workers,
		QueueSize:   cfg.Persistence.QueueSize,
		MaxAttempts: cfg.Persistence.MaxAttempts,
		Overflow:    cfg.Persistence.OverflowLimit,
		Timeout:     cfg.Timeouts.Persist,
	})

	userService := service.NewUserService(userRepo, jwtManager)
	searchService := service.NewSearchService(embeddingClient, passageRepo, cfg.Retrieval, executor)
	chatService := service.NewChatService(
		conversationRepo,
		service.NewRewriteService(llmClient, gen),
		searchService,
		service.NewSynthesisService(llmClient, gen, cfg.LLM.Prompt),
		service.NewHeuristicScorer(),
		recorder,
		appMetrics,
		cfg.Timeouts,
	)
	turnService := service.NewTurnService(userRepo, turnRepo, conversationRepo)
	feedbackService := service.NewFeedbackService(userRepo, turnRepo)

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(appMetrics), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": gin.H{"sessions": conversationRepo.Len()}})
	})
	r.GET("/metrics", gin.WrapH(appMetrics.Handler()))

	apiV1 := r.Group("/api/v1")
	{
		userHandler := handler.NewUserHandler(userService)
		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)
		}

		authed := apiV1.Group("")
		authed.Use(middleware.AuthMiddleware(jwtManager))

		chatHandler := handler.NewChatHandler(chatService, feedbackService)
		conversationHandler := handler.NewConversationHandler(turnService)
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
		chat := authed.Group("/chat")
		{
			chat.POST("", limiter.Middleware(), chatHandler.Chat)
			chat.POST("/feedback", chatHandler.Feedback)
			chat.POST("/clear_history", conversationHandler.ClearHistory)
			chat.GET("/user_messages", conversationHandler.UserMessages)
		}

		authed.POST("/search", handler.NewSearchHandler(searchService).HybridSearch)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Persist+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
	}
	// 先排空待投递轮次，再关闭 Kafka 生产者与消费者
	if err := recorder.Close(ctx); err != nil {
		log.Error("等待轮次投递完成超时", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("Kafka 生产者关闭失败", err)
		}
	}
	stopConsumer()
	consumerWG.Wait()

	log.Info("服务已优雅关闭")
}
