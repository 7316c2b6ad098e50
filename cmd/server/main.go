package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pimarket/internal/config"
	"pimarket/internal/handler"
	"pimarket/internal/infrastructure/cache"
	"pimarket/internal/infrastructure/database"
	"pimarket/internal/infrastructure/lock"
	"pimarket/internal/infrastructure/mq"
	"pimarket/internal/job"
	"pimarket/internal/payment"
	"pimarket/internal/service"
	"pimarket/pkg/idgen"
	applog "pimarket/pkg/log"

	"github.com/go-redis/redis/v8"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logOpts := []applog.Option{applog.WithLevel(cfg.Log.Level)}
	if cfg.Log.Console {
		logOpts = append(logOpts, applog.WithConsole())
	}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, applog.WithFile(cfg.Log.File))
	}
	applog.Init("pimarket", logOpts...)
	logger := applog.L()

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		logger.Fatal().Err(err).Msg("初始化 ID 生成器失败")
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化 MySQL 失败")
	}

	// 结算锁：多实例部署用 Redis，单实例可以用进程内锁
	var (
		locker      lock.Locker
		redisClient *redis.Client
	)
	switch cfg.Settlement.LockBackend {
	case "redis":
		redisClient, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("初始化 Redis 失败")
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient)
	default:
		locker = lock.NewLocalLocker()
	}

	// 初始化 Kafka
	publisher, err := mq.NewKafkaPublisher(&cfg.Kafka)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化 Kafka 失败")
	}
	defer publisher.Close()

	// 支付通道
	rail, err := payment.NewRail(&cfg.Pi)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化支付通道失败")
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 结算服务和后台队列互相依赖，先建服务再注入队列
	settlement := service.NewSettlementService(db, cfg, rail, locker)
	worker := job.NewSettlementWorker(settlement, cfg)
	settlement.SetDispatcher(worker)
	worker.Start(ctx)

	// 启动后台任务
	reaper := job.NewSettlementReaper(db, settlement, cfg)
	go reaper.Start(ctx)

	outboxSender := job.NewOutboxSender(db, publisher, cfg)
	go outboxSender.Start(ctx)

	// 设置路由
	h := handler.NewHandler(
		settlement,
		service.NewCallbackService(db, settlement, cfg.Pi.WebhookSecret),
		service.NewTransactionQueryService(db),
		service.NewSellerMetricsLedger(db),
	)
	router := handler.SetupRouter(h)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 在 goroutine 中启动服务器
	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("pi_mode", cfg.Pi.Mode).
			Str("lock_backend", cfg.Settlement.LockBackend).
			Msg("服务启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务...")

	// 先停止接收请求，再停后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("服务关闭异常")
	}

	// 处理中的结算做完再退出，队列里剩下的由补偿任务在下次启动后重新投递
	worker.Stop()
	reaper.Stop()
	outboxSender.Stop()
	cancel()

	logger.Info().Msg("服务已关闭")
}
