package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fliptools/internal/config"
	"fliptools/internal/controller"
	"fliptools/internal/middleware"
	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/internal/router"
	"fliptools/internal/service"
	"fliptools/internal/task"
	"fliptools/pkg/cache"
	"fliptools/pkg/database"
	"fliptools/pkg/logger"
	"fliptools/pkg/marketplace"
	pkgnet "fliptools/pkg/net"
	"fliptools/pkg/utils"
)

// kvStore 同时满足 OAuth state 与同步冷却
type kvStore interface {
	marketplace.StateStore
	service.CooldownStore
}

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// 2. 日志
	log := logger.New(cfg.Log)
	defer log.Sync()

	// 3. 初始化数据库
	db, err := initDatabase(cfg, log)
	if err != nil {
		log.Fatal("数据库初始化失败", zap.Error(err))
	}

	// 4. 初始化依赖
	deps := initDependencies(cfg, db, log)

	// 5. 启动定时任务
	if err := deps.Tasks.Start(); err != nil {
		log.Fatal("定时任务启动失败", zap.Error(err))
	}

	// 6. 初始化路由
	gin.SetMode(ginMode(cfg.App.Env))
	r := gin.New()
	r.Use(logger.GinLogger(log), gin.Recovery())
	router.InitRoutes(r, deps.Controllers, middleware.NewUserRateLimiter(cfg.Sync.RequestsPerMinute))

	// 7. 启动服务
	startServer(cfg, r, deps, log)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Services    *Services
	Controllers router.Controllers
	Tasks       *task.TaskManager
}

// Repositories 仓库集合
type Repositories struct {
	Connection repository.ConnectionRepository
	Sale       repository.SaleRepository
	Listing    repository.ListingRepository
}

// Services 服务集合
type Services struct {
	Token      *service.TokenManager
	Importer   *service.SaleImporter
	Sync       *service.SyncService
	Sale       *service.SaleService
	Connection *service.ConnectionService
	Listing    *service.ListingService
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	return database.InitDB(cfg.Database.DSN, database.Options{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SlowThreshold:   cfg.Database.SlowThreshold,
		LogLevel:        logger.GormLevel(cfg.Log.Level),
	}, log,
		&model.Listing{}, &model.PlatformConnection{}, &model.Sale{},
	)
}

// initStore Redis 不可用时退回进程内存储
func initStore(cfg *config.Config, log *zap.Logger) kvStore {
	if cfg.Redis.Addr == "" {
		log.Warn("未配置 Redis，使用进程内存储，多实例部署时冷却与 OAuth state 不共享")
		return utils.NewMemoryStore()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("Redis 连接失败，使用进程内存储", zap.Error(err))
		return utils.NewMemoryStore()
	}
	return cache.NewRedisStore(client)
}

// clientOptions 每个平台独立客户端，限速互不影响
func clientOptions(cfg *config.Config, p config.PlatformConfig) pkgnet.ClientOptions {
	opts := pkgnet.DefaultClientOptions()
	if cfg.HTTP.Timeout > 0 {
		opts.Timeout = cfg.HTTP.Timeout
	}
	opts.RetryCount = cfg.HTTP.RetryCount
	opts.ProxyURL = cfg.HTTP.Proxy
	opts.Debug = cfg.HTTP.Debug
	if p.Rate > 0 {
		opts.RatePerSecond = p.Rate
	}
	if p.Burst > 0 {
		opts.Burst = p.Burst
	}
	return opts
}

// initRegistry 按配置注册平台适配器
func initRegistry(cfg *config.Config, states marketplace.StateStore, log *zap.Logger) *marketplace.Registry {
	var adapters []marketplace.Adapter

	if cfg.Ebay.Enabled {
		adapters = append(adapters, marketplace.NewEbayAdapter(marketplace.EbayConfig{
			ClientID:     cfg.Ebay.ClientID,
			ClientSecret: cfg.Ebay.ClientSecret,
			RuName:       cfg.Ebay.RedirectURI,
			AuthURL:      cfg.Ebay.AuthURL,
			TokenURL:     cfg.Ebay.TokenURL,
			APIBaseURL:   cfg.Ebay.APIBaseURL,
			Scopes:       cfg.Ebay.Scopes,
			PageSize:     cfg.Ebay.PageSize,
		}, pkgnet.NewClient(clientOptions(cfg, cfg.Ebay), log), log))
	}
	if cfg.Etsy.Enabled {
		adapters = append(adapters, marketplace.NewEtsyAdapter(marketplace.EtsyConfig{
			ClientID:    cfg.Etsy.ClientID,
			RedirectURI: cfg.Etsy.RedirectURI,
			AuthURL:     cfg.Etsy.AuthURL,
			TokenURL:    cfg.Etsy.TokenURL,
			APIBaseURL:  cfg.Etsy.APIBaseURL,
			Scopes:      cfg.Etsy.Scopes,
			PageSize:    cfg.Etsy.PageSize,
		}, pkgnet.NewClient(clientOptions(cfg, cfg.Etsy), log), states, log))
	}
	if cfg.Depop.Enabled {
		adapters = append(adapters, marketplace.NewDepopAdapter(marketplace.DepopConfig{
			ClientID:     cfg.Depop.ClientID,
			ClientSecret: cfg.Depop.ClientSecret,
			RedirectURI:  cfg.Depop.RedirectURI,
			AuthURL:      cfg.Depop.AuthURL,
			TokenURL:     cfg.Depop.TokenURL,
			APIBaseURL:   cfg.Depop.APIBaseURL,
			Scopes:       cfg.Depop.Scopes,
			PageSize:     cfg.Depop.PageSize,
		}, pkgnet.NewClient(clientOptions(cfg, cfg.Depop), log), log))
	}

	registry := marketplace.NewRegistry(adapters...)
	log.Info("平台适配器已注册", zap.Any("platforms", registry.Platforms()))
	return registry
}

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, db *gorm.DB, log *zap.Logger) *Dependencies {
	middleware.SetJWTConfig(&middleware.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		Issuer:         cfg.App.Name,
		AccessTokenTTL: 2 * time.Hour,
	})

	// -------- Repo 层 --------
	repos := &Repositories{
		Connection: repository.NewConnectionRepository(db),
		Sale:       repository.NewSaleRepository(db),
		Listing:    repository.NewListingRepository(db),
	}

	// -------- 基础设施 --------
	store := initStore(cfg, log)
	registry := initRegistry(cfg, store, log)

	// -------- 业务服务 --------
	svc := &Services{}
	svc.Token = service.NewTokenManager(repos.Connection, registry, cfg.Sync.TokenBuffer, log)
	svc.Importer = service.NewSaleImporter(repos.Sale, repos.Listing, log)
	svc.Sync = service.NewSyncService(repos.Connection, registry, svc.Token, svc.Importer, store, service.SyncServiceConfig{
		Cooldown:   cfg.Sync.Cooldown,
		RunTimeout: cfg.Sync.RunTimeout,
	}, log)
	svc.Sale = service.NewSaleService(repos.Sale, registry)
	svc.Connection = service.NewConnectionService(repos.Connection, registry, store, log)
	svc.Listing = service.NewListingService(repos.Listing, repos.Connection, svc.Token, registry, log)

	// -------- Controller 层 --------
	controllers := router.Controllers{
		Sale:       controller.NewSaleController(svc.Sale, svc.Sync),
		Connection: controller.NewConnectionController(svc.Connection, cfg.App.SettingsURL),
		Fee:        controller.NewFeeController(svc.Sale),
		Listing:    controller.NewListingController(svc.Listing),
	}

	// -------- 定时任务 --------
	taskCfg := task.DefaultConfig()
	taskCfg.SalesCron = cfg.Sync.Cron
	taskCfg.SalesConcurrency = cfg.Sync.Concurrency
	taskCfg.TokenCron = cfg.Sync.TokenCron
	taskCfg.RefreshWindow = cfg.Sync.RefreshWindow
	tasks := task.NewTaskManager(&task.TaskManagerDeps{
		Conns:  repos.Connection,
		Syncer: svc.Sync,
		Tokens: svc.Token,
	}, taskCfg, log)

	return &Dependencies{
		DB:          db,
		Repos:       repos,
		Services:    svc,
		Controllers: controllers,
		Tasks:       tasks,
	}
}

// ==================== 服务启动 ====================

// startServer 启动服务并等待退出信号
func startServer(cfg *config.Config, r *gin.Engine, deps *Dependencies, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Info("服务启动", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务...")

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("服务强制关闭", zap.Error(err))
	}
	deps.Tasks.Stop()

	if sqlDB, err := deps.DB.DB(); err == nil {
		sqlDB.Close()
	}
	log.Info("服务已退出")
}

func ginMode(env string) string {
	if env == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}
