package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gopher0727/ChatEngine/config"
	"github.com/Gopher0727/ChatEngine/internal/consumer"
	"github.com/Gopher0727/ChatEngine/internal/metrics"
	grpcserver "github.com/Gopher0727/ChatEngine/internal/pkg/grpc"
	"github.com/Gopher0727/ChatEngine/internal/pkg/kafka"
	redisclient "github.com/Gopher0727/ChatEngine/internal/pkg/redis"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
	"github.com/Gopher0727/ChatEngine/internal/routers"
	"github.com/Gopher0727/ChatEngine/internal/services"
	"github.com/Gopher0727/ChatEngine/internal/storage"
	"github.com/Gopher0727/ChatEngine/internal/utils"
	"github.com/Gopher0727/ChatEngine/middleware/jwt"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
	"github.com/Gopher0727/ChatEngine/pkg/ws"
	"github.com/Gopher0727/ChatEngine/utils/ratelimit"
	"github.com/Gopher0727/ChatEngine/utils/snowflake"
)

func main() {
	// 本地开发时可以用 .env 提供 CHAT_ 环境变量
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	l, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer l.Close()

	if err := run(cfg, l); err != nil {
		l.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, l *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化 PostgreSQL
	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	db, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns, cfg.Postgres.LogSQL)
	if err != nil {
		return err
	}

	// 初始化 Redis
	rc, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		return err
	}
	defer rc.Close()

	ids, err := snowflake.NewGenerator(cfg.Snowflake.NodeID)
	if err != nil {
		return err
	}

	// HTTP 请求与副作用使用两个独立的 Worker Pool，副作用不会占满请求队列
	httpPool := utils.NewWorkerPool("http", cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, l.Logger)
	sidePool := utils.NewWorkerPool("side-effects", cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, l.Logger)
	httpPool.Start()
	sidePool.Start()
	defer httpPool.Stop()
	defer sidePool.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, sidePool.Pending)

	hub := ws.NewHub(rc, l)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })

	// Kafka 可用时通知经由 Kafka 投递，否则直接推送到本地 Hub
	var notifier services.Notifier = ws.NewHubNotifier(hub)
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			l.Warn("Kafka 生产者初始化失败，通知降级为直接推送", zap.Error(err))
		} else {
			defer producer.Close()
			notifier = kafka.NewNotifier(producer, cfg.Kafka.Topics.Notification)

			handler := consumer.NewNotificationConsumer(hub, l)
			c, err := kafka.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topics.Notification}, handler.Handle, producer, l)
			if err != nil {
				return err
			}
			g.Go(func() error { return c.Run(ctx) })
		}
	}

	svc := services.New(services.Deps{
		Store:       repositories.NewStore(db),
		Broadcaster: hub,
		Notifier:    notifier,
		Locker:      rc,
		Presence:    rc,
		IDs:         ids,
		Pool:        sidePool,
		Logger:      l,
		Metrics:     m,
		Config:      cfg.Chat,
	})
	tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// 配置并创建 Gin 引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	routers.SetupRoutes(r, routers.Deps{
		Config:   cfg,
		Services: svc,
		Hub:      hub,
		Tokens:   tokens,
		Limiter:  ratelimit.NewWindowLimiter(rc.GetClient(), l.Logger, cfg.RateLimit.FailOpen),
		Pool:     httpPool,
		Metrics:  m,
		Gatherer: reg,
		Logger:   l,
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: r,
	}
	g.Go(func() error {
		l.Info("正在启动 HTTP 服务器", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPC.Enabled {
		gs := grpcserver.NewServer(tokens, l)
		gs.RegisterChatEngine(grpcserver.NewChatEngineService(svc))
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			return err
		}
		g.Go(func() error { return gs.Serve(lis) })
		g.Go(func() error {
			<-ctx.Done()
			gs.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.Info("正在关闭 HTTP 服务器")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
