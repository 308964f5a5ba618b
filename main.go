package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/handler"
	"github.com/TIANLI0/MaskKit/middleware"
	"github.com/TIANLI0/MaskKit/monitor"
	"github.com/TIANLI0/MaskKit/service"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting MaskKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 加载模型，整个进程只加载一次
	segModel, err := loadModel(ctx, &cfg.Model)
	if err != nil {
		utils.Logger.Fatal("failed to load model", zap.Error(err))
	}
	defer segModel.Close()

	var metrics *monitor.Metrics
	if cfg.Monitor.Enabled {
		metrics = monitor.New()
		go metrics.Run(ctx, cfg.Monitor.SampleInterval)
	}

	opts := []service.Option{service.WithMetrics(metrics)}

	// 初始化Redis
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			redisService.Close()
		} else {
			utils.Logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
			opts = append(opts, service.WithCache(redisService))
			defer redisService.Close()
		}
	}

	segmentService := service.NewSegmentService(&cfg.Segment, segModel, opts...)
	inferHandler := handler.NewInferHandler(&cfg.Upload, segmentService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	if metrics != nil {
		r.Use(middleware.Metrics(metrics))
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
			"model":   segModel.Name(),
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	r.POST("/infer", inferHandler.Infer)
	r.POST("/area", handler.Area)

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/infer", inferHandler.Infer)
		api.POST("/area", handler.Area)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	utils.Logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server forced to shutdown", zap.Error(err))
	}
}

func loadModel(ctx context.Context, cfg *config.ModelConfig) (service.Model, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		m, err := service.NewRemoteModel(cfg.RemoteURL, cfg.RemoteTimeout)
		if err != nil {
			return nil, err
		}
		if err := m.CheckHealth(ctx); err != nil {
			utils.Logger.Warn("remote model not reachable yet", zap.String("url", cfg.RemoteURL), zap.Error(err))
		}
		return m, nil
	default:
		m, err := service.NewYoloSegModel(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
