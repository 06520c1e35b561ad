package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"quickgpt/internal/ai"
	"quickgpt/internal/config"
	"quickgpt/internal/handler"
	"quickgpt/internal/model"
	"quickgpt/internal/pkg/cache"
	"quickgpt/internal/pkg/jwt"
	"quickgpt/internal/pkg/mongodb"
	"quickgpt/internal/pkg/storage"
	"quickgpt/internal/pkg/storagefactory"
	"quickgpt/internal/pkg/titler"
	"quickgpt/internal/repository"
	"quickgpt/internal/repository/memory"
	"quickgpt/internal/server/middleware"
	"quickgpt/internal/service"
)

// Server HTTP 服务器
type Server struct {
	cfg     *config.Config
	engine  *gin.Engine
	mongo   *mongodb.Client
	redis   *cache.RedisCache
	stores  *Stores
	limiter *middleware.UserRateLimiter
}

// Stores 服务器使用的存储
type Stores struct {
	Conversations repository.ConversationStore
	Ledger        repository.CreditLedger
	Users         repository.UserStore
	// Provisioner 非空时，首次访问的已认证用户自动开户
	Provisioner middleware.UserProvisioner
}

// New 创建服务器实例
func New(ctx context.Context, cfg *config.Config) (srv *Server, err error) {
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// 初始化 MongoDB (可选，未配置时使用内存存储)
	var mongoClient *mongodb.Client
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		mongoClient = client
		log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")
		defer func() {
			if err != nil {
				_ = mongoClient.Close(context.Background())
			}
		}()

		if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
			log.Warn().Err(err).Msg("failed to ensure indexes")
		}
	}

	// 初始化 Redis (可选)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	assets, err := storagefactory.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset storage: %w", err)
	}

	gateway, err := ai.NewClient(ctx, &cfg.AI, &cfg.Image, assets)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation gateway: %w", err)
	}
	log.Info().
		Str("provider", cfg.AI.Provider).
		Str("model", cfg.AI.Model).
		Str("image_provider", cfg.Image.Provider).
		Str("storage", assets.GetStorageType()).
		Msg("initialized generation gateway")

	srv = &Server{
		cfg:     cfg,
		engine:  engine,
		mongo:   mongoClient,
		redis:   redisCache,
		stores:  NewStores(mongoClient),
		limiter: middleware.NewUserRateLimiter(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst),
	}

	srv.setupRoutes(srv.stores, gateway)
	srv.serveLocalAssets(assets)

	return srv, nil
}

// NewStores 根据 MongoDB 是否可用选择存储实现
func NewStores(mongoClient *mongodb.Client) *Stores {
	if mongoClient != nil {
		users := repository.NewUserRepo(mongoClient.Database())
		return &Stores{
			Conversations: repository.NewConversationRepo(mongoClient.Database()),
			Ledger:        users,
			Users:         users,
		}
	}

	log.Warn().Msg("MongoDB not configured, using in-memory stores (data is lost on restart, new users get default credits)")
	users := memory.NewUserStore()
	return &Stores{
		Conversations: memory.NewConversationStore(),
		Ledger:        users,
		Users:         users,
		Provisioner:   users,
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(stores *Stores, gateway service.Generator) {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	deps := map[string]handler.Pinger{}
	if s.mongo != nil {
		deps["mongo"] = s.mongo
	}
	if s.redis != nil {
		deps["redis"] = s.redis
	}
	healthHandler := handler.NewHealthHandler(deps)
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	exchangeSvc := service.NewExchangeService(stores.Conversations, stores.Ledger, gateway, s.cfg.Exchange).
		WithTitler(titler.New(titler.DefaultMaxRunes))
	convHandler := handler.NewConversationHandler(stores.Conversations)
	if s.redis != nil {
		exchangeSvc.WithCache(s.redis)
		convHandler.WithCache(s.redis)
	}

	msgHandler := handler.NewMessageHandler(exchangeSvc)
	userHandler := handler.NewUserHandler(stores.Users)
	imageHandler := handler.NewImageHandler(stores.Conversations)

	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = config.DefaultJWTSecret
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	jwtUtil := jwt.NewJWT(jwtSecret, s.cfg.Auth.AccessTokenExpiry)

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 公开接口
		v1.GET("/images/published", imageHandler.Published)

		// 需要认证的接口
		auth := v1.Group("")
		auth.Use(middleware.Auth(jwtUtil))
		if stores.Provisioner != nil {
			auth.Use(middleware.ProvisionUser(stores.Provisioner, model.DefaultUserCredits))
		}
		{
			messages := auth.Group("/messages")
			messages.Use(middleware.RateLimit(s.limiter))
			messages.POST("/text", msgHandler.Text)
			messages.POST("/image", msgHandler.Image)

			auth.POST("/chats", convHandler.Create)
			auth.GET("/chats", convHandler.List)
			auth.GET("/chats/:id", convHandler.Get)
			auth.PATCH("/chats/:id", convHandler.Rename)
			auth.DELETE("/chats/:id", convHandler.Delete)

			auth.GET("/user/me", userHandler.Me)
		}
	}
}

// serveLocalAssets 本地存储时由本服务提供生成图片的访问
func (s *Server) serveLocalAssets(assets storage.Storage) {
	if assets.GetStorageType() != string(storage.StorageTypeLocal) || s.cfg.Storage.Local == nil {
		return
	}
	s.engine.Static("/assets", s.cfg.Storage.Local.BasePath)
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	go s.limiter.Run(limiterCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		s.Close()
		return err
	case err := <-errCh:
		s.Close()
		return err
	}
}

// Close 关闭外部连接
func (s *Server) Close() {
	if s.mongo != nil {
		if err := s.mongo.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close MongoDB connection")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis connection")
		}
	}
}

// Stores 获取服务器使用的存储
func (s *Server) Stores() *Stores {
	return s.stores
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
