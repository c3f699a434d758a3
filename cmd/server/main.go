// Package main 是应用程序的入口点。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rag-connect-go/internal/config"
	"rag-connect-go/internal/connector"
	"rag-connect-go/internal/handler"
	"rag-connect-go/internal/middleware"
	"rag-connect-go/internal/model"
	"rag-connect-go/internal/pipeline"
	"rag-connect-go/internal/repository"
	"rag-connect-go/internal/service"
	"rag-connect-go/pkg/database"
	"rag-connect-go/pkg/embedding"
	"rag-connect-go/pkg/es"
	"rag-connect-go/pkg/kafka"
	"rag-connect-go/pkg/llm"
	"rag-connect-go/pkg/log"
	"rag-connect-go/pkg/storage"
	"rag-connect-go/pkg/tika"
	"rag-connect-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、ES 与可选组件
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.Connector{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("es 初始化失败: %v", err)
	}
	archive := storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	connRepo := repository.NewConnectorRepository(database.DB)
	docRepo := repository.NewDocumentRepository(es.ESClient, cfg.Elasticsearch.IndexName)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化数据源适配器注册表
	tikaClient := tika.NewClient(cfg.Tika)
	registry := connector.NewRegistry()
	registry.Register(model.SourceTypeGitHub, connector.NewGitHubSource(cfg.GitHub.BaseURL))
	registry.Register(model.SourceTypeJira, connector.NewJiraSource())
	customSource := connector.NewCustomSource(tikaClient)
	registry.Register(model.SourceTypeURL, customSource)
	registry.Register(model.SourceTypeManual, customSource)

	// 6. 初始化同步管道与 Service
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	staleAfter := time.Duration(cfg.Sync.StaleSyncingMinutes) * time.Minute
	processor := pipeline.NewProcessor(
		connRepo,
		docRepo,
		registry,
		embeddingClient,
		archive,
		cfg.Embedding.Model,
		staleAfter,
	)

	connectorService := service.NewConnectorService(connRepo, docRepo, processor)
	searchService := service.NewSearchService(embeddingClient, docRepo)
	chatService := service.NewChatService(searchService, llmClient, conversationRepo)

	// JWT 密钥为空时禁用认证
	var jwtManager *token.JWTManager
	if cfg.JWT.Secret != "" {
		jwtManager = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	}

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 启动时幂等导入种子连接器
	go initSeedConnectors(cfg.Sync.SeedFile, connectorService)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	connectorHandler := handler.NewConnectorHandler(connectorService)
	searchHandler := handler.NewSearchHandler(searchService)
	chatHandler := handler.NewChatHandler(chatService, conversationRepo)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		connectors := apiV1.Group("/connectors")
		{
			connectors.POST("", connectorHandler.Create)
			connectors.GET("", connectorHandler.List)
			connectors.GET("/:id", connectorHandler.Get)
			connectors.PUT("/:id", connectorHandler.Update)
			connectors.DELETE("/:id", connectorHandler.Delete)
			connectors.POST("/:id/sync", connectorHandler.TriggerSync)
		}

		search := apiV1.Group("/search")
		{
			search.GET("/retrieve", searchHandler.Retrieve)
		}
	}
	// Chat 路由 (WebSocket)
	r.GET("/chat", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// seedConnector 是种子清单文件中的一项。
type seedConnector struct {
	Name       string                `json:"name"`
	SourceType model.SourceType      `json:"source_type"`
	Config     model.ConnectorConfig `json:"config"`
}

// initSeedConnectors 从 JSON 清单导入初始连接器（按名称幂等）。
func initSeedConnectors(seedFile string, svc service.ConnectorService) {
	if seedFile == "" {
		return
	}
	data, err := os.ReadFile(seedFile)
	if err != nil {
		log.Infof("initSeedConnectors: 种子文件 '%s' 不可用，跳过初始化导入: %v", seedFile, err)
		return
	}
	var seeds []seedConnector
	if err := json.Unmarshal(data, &seeds); err != nil {
		log.Warnf("initSeedConnectors: 解析种子文件失败: %v", err)
		return
	}

	existing, err := svc.List()
	if err != nil {
		log.Warnf("initSeedConnectors: 查询既有连接器失败: %v", err)
		return
	}
	existingNames := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		existingNames[c.Name] = struct{}{}
	}

	for _, seed := range seeds {
		if _, ok := existingNames[seed.Name]; ok {
			log.Infof("initSeedConnectors: 已存在，跳过: %s", seed.Name)
			continue
		}
		if _, err := svc.Create(service.CreateConnectorRequest{
			Name:       seed.Name,
			SourceType: seed.SourceType,
			Config:     seed.Config,
		}); err != nil {
			log.Warnf("initSeedConnectors: 导入连接器 '%s' 失败: %v", seed.Name, err)
			continue
		}
		log.Infof("initSeedConnectors: 导入连接器成功: %s", seed.Name)
	}
}
