package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"doctor-booking-api/internal/appointments"
	"doctor-booking-api/internal/avatar"
	"doctor-booking-api/internal/bridge"
	"doctor-booking-api/internal/chat"
	"doctor-booking-api/internal/config"
	"doctor-booking-api/internal/directory"
	"doctor-booking-api/internal/handler"
	"doctor-booking-api/internal/logging"
	"doctor-booking-api/internal/metrics"
	"doctor-booking-api/internal/middleware"
	"doctor-booking-api/internal/queue"
	"doctor-booking-api/internal/rpc"
	"doctor-booking-api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	logger.Info("connected to postgres")
	migrate(ctx, pool, logger)

	gw, closeGateway, err := openGateway(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// chat platform; interfaces stay nil when it is not configured
	var (
		chatClient *chat.Client
		linker     appointments.ChatLinker
		chatUsers  handler.ChatUsers
	)
	if cfg.ChatEnabled() {
		chatClient, err = chat.New(chat.Config{
			AppID:   cfg.ChatAppID,
			Region:  cfg.ChatRegion,
			APIKey:  cfg.ChatAPIKey,
			BaseURL: cfg.ChatBaseURL,
		}, logger.Named("chat"))
		if err != nil {
			return err
		}
		linker, chatUsers = chatClient, chatClient
	} else {
		logger.Warn("chat platform not configured, contact links are skipped")
	}

	opts := []appointments.Option{
		appointments.WithPolicy(cfg.ChatPolicy),
		appointments.WithMetrics(m),
	}
	if cfg.ChatPolicy == appointments.PolicyDeferred {
		q, closeQueue, err := openQueue(cfg, logger)
		if err != nil {
			return err
		}
		defer closeQueue()
		opts = append(opts, appointments.WithQueue(q))

		worker := queue.NewWorker(q, chatClient, cfg.FriendLinkMaxAttempts, m, logger.Named("queue"))
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Error("friend link worker stopped", zap.Error(err))
			}
		}()
	}

	booker, err := appointments.NewBooker(gw, linker, logger.Named("appointments"), opts...)
	if err != nil {
		return err
	}

	var avatars handler.Avatars
	if cfg.AvatarsEnabled() {
		up, err := openAvatars(ctx, cfg, logger)
		if err != nil {
			return err
		}
		avatars = up
	}

	h := handler.New(handler.Deps{
		Accounts:  store.New(pool),
		Gateway:   gw,
		Directory: directory.New(gw, logger.Named("directory")),
		Sync:      appointments.NewSync(gw, logger.Named("appointments")),
		Booker:    booker,
		Chat:      chatUsers,
		Avatars:   avatars,
		Metrics:   m,
		Secret:    cfg.JWTSecret,
		Log:       logger.Named("handler"),
	})

	// grpc server
	rl := middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.Logging(logger, m),
			middleware.RateLimit(rl),
			middleware.Auth(cfg.JWTSecret),
		),
		grpc.ChainStreamInterceptor(
			middleware.LoggingStream(logger, m),
			middleware.AuthStream(cfg.JWTSecret),
		),
	)
	rpc.RegisterBookingServiceServer(srv, h)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		logger.Info("grpc listening", zap.String("port", cfg.GRPCPort))
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc serve failed", zap.Error(err))
		}
	}()

	// http bridge -> forwards browser requests to grpc on localhost
	conn, err := grpc.NewClient("localhost:"+cfg.GRPCPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("bridge dial: %w", err)
	}
	defer conn.Close()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.WebPort,
		Handler:           bridge.New(conn, logger.Named("bridge")).Routes(cfg.CORSOrigins, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http bridge listening", zap.String("port", cfg.WebPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	hs.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// watch streams only end when their clients leave
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		srv.Stop()
	}
	return nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	migration, err := os.ReadFile("db/migrations/001_init.sql")
	if err != nil {
		logger.Warn("migration file not found, skipping", zap.Error(err))
		return
	}
	if _, err := pool.Exec(ctx, string(migration)); err != nil {
		logger.Warn("migration failed", zap.Error(err))
		return
	}
	logger.Info("migration applied")
}

func openQueue(cfg *config.Config, logger *zap.Logger) (*queue.Queue, func(), error) {
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	q, err := queue.New(ch, cfg.FriendLinkQueue, logger.Named("queue"))
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	logger.Info("connected to rabbitmq", zap.String("queue", q.Name()))
	return q, func() {
		_ = q.Close()
		_ = conn.Close()
	}, nil
}

func openAvatars(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*avatar.Uploader, error) {
	mc, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	exists, err := mc.BucketExists(ctx, cfg.AvatarBucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", cfg.AvatarBucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.AvatarBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", cfg.AvatarBucket, err)
		}
	}
	logger.Info("connected to minio", zap.String("bucket", cfg.AvatarBucket))
	return avatar.New(mc, cfg.AvatarBucket, cfg.AvatarURL(), logger.Named("avatar")), nil
}
