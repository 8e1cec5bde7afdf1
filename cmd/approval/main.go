package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/executor"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/handler"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/notify"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/repository"
	"github.com/VeganGarden/MyGarden-sub001/internal/approval/service"
	"github.com/VeganGarden/MyGarden-sub001/internal/config"
	"github.com/VeganGarden/MyGarden-sub001/internal/middleware"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting approval-manage service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// AutoMigrate审核相关表
	if err := db.AutoMigrate(
		&entity.ApprovalConfig{},
		&entity.ApprovalRequest{},
		&entity.ApprovalRecord{},
		&entity.AdminUser{},
		&entity.AuditLog{},
	); err != nil {
		zapLogger.Warn("AutoMigrate approval tables warning", zap.Error(err))
	}

	// 待审核查询走快照JSONB表达式索引（AutoMigrate不支持表达式索引）
	migrationSQL := []string{
		`CREATE INDEX IF NOT EXISTS idx_approval_requests_active
			ON approval_requests(status, current_node_index)
			WHERE status IN ('pending', 'approving')`,
		`CREATE INDEX IF NOT EXISTS idx_approval_records_request_round
			ON approval_records(request_id, node_index, round)`,
	}
	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("Migration SQL warning (may already exist)", zap.String("sql", sql), zap.Error(err))
		}
	}
	zapLogger.Info("Database migration completed")

	// Seed: 默认审核配置
	seedConfigs(db, zapLogger)

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化依赖
	repos := repository.NewRepositories(db)

	var businessExec executor.BusinessExecutor
	businessExec = executor.NewHTTPExecutor(cfg.Services.BusinessExecutorURL, 30*time.Second)
	businessExec = executor.NewIdempotentExecutor(businessExec, rdb, 0)

	var notifier notify.Notifier
	if cfg.Services.MessageServiceURL != "" {
		notifier = notify.NewClient(cfg.Services.MessageServiceURL, 10*time.Second)
	}

	services := service.NewServices(db, repos, businessExec, notifier, rdb, zapLogger)
	handlers := handler.NewHandlers(services)

	// 过期清理（expire_after为0时关闭）
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.Approval.ExpireAfter > 0 {
		go runExpireSweep(sweepCtx, services.Workflow, cfg.Approval, zapLogger)
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// 审核记录唯一索引冲突要映射成gorm.ErrDuplicatedKey
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// seedConfigs 预置碳排放相关的默认审核配置
func seedConfigs(db *gorm.DB, zapLogger *zap.Logger) {
	twoNodeFlow := `[
		{"nodeId": "node_1", "nodeName": "碳排放专员审核", "approverType": "role", "approverValue": "carbon_specialist", "notifyOnCreate": true},
		{"nodeId": "node_2", "nodeName": "系统管理员审核", "approverType": "role", "approverValue": "system_admin", "notifyOnCreate": true}
	]`
	singleNodeFlow := `[
		{"nodeId": "node_1", "nodeName": "系统管理员审核", "approverType": "role", "approverValue": "system_admin", "notifyOnCreate": true}
	]`

	seeds := []struct {
		BusinessType  string
		OperationType string
		Name          string
		Nodes         string
		AutoApprove   bool
	}{
		{"carbon_factor", "create", "碳排放因子新增审核", twoNodeFlow, false},
		{"carbon_factor", "update", "碳排放因子修改审核", twoNodeFlow, false},
		{"carbon_factor", "archive", "碳排放因子归档审核", singleNodeFlow, false},
		{"carbon_baseline", "create", "碳基准值新增审核", twoNodeFlow, false},
		{"carbon_baseline", "update", "碳基准值修改审核", twoNodeFlow, false},
		{"carbon_baseline", "archive", "碳基准值归档审核", singleNodeFlow, false},
	}
	for _, s := range seeds {
		configID := fmt.Sprintf("%s_%s", s.BusinessType, s.OperationType)
		err := db.Exec(`INSERT INTO approval_configs
			(id, config_id, business_type, operation_type, name, nodes, auto_approve, status, created_by, created_at, updated_at)
			VALUES (gen_random_uuid(), ?, ?, ?, ?, ?::jsonb, ?, 'active', 'system', NOW(), NOW())
			ON CONFLICT (config_id) DO NOTHING`,
			configID, s.BusinessType, s.OperationType, s.Name, s.Nodes, s.AutoApprove).Error
		if err != nil {
			zapLogger.Warn("Seed approval config warning", zap.String("config_id", configID), zap.Error(err))
		}
	}
}

// runExpireSweep 周期性将超时未处理的在途申请标记为过期
func runExpireSweep(ctx context.Context, svc *service.WorkflowService, cfg config.ApprovalConfig, zapLogger *zap.Logger) {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if _, err := svc.ExpireStale(sweepCtx, time.Now().Add(-cfg.ExpireAfter)); err != nil {
				zapLogger.Error("Expire sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			// 审核申请
			approvals := authorized.Group("/approvals")
			{
				approvals.POST("", h.Approval.Create)
				approvals.GET("", h.Approval.List)
				approvals.GET("/export", h.Approval.Export)
				approvals.GET("/pending", h.Approval.ListPending)
				approvals.GET("/:requestId", h.Approval.Get)
				approvals.POST("/:requestId/approve", h.Approval.Approve)
				approvals.POST("/:requestId/reject", h.Approval.Reject)
				approvals.POST("/:requestId/return", h.Approval.Return)
				approvals.POST("/:requestId/cancel", h.Approval.Cancel)
			}

			// 审核配置
			configs := authorized.Group("/approval-configs")
			configs.Use(middleware.RequireRole(entity.RoleSystemAdmin))
			{
				configs.GET("", h.Config.List)
				configs.GET("/:configId", h.Config.Get)
			}
		}
	}
}
