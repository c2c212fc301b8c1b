package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proctor-quiz-service/internal/app"
	"proctor-quiz-service/internal/auth"
	"proctor-quiz-service/internal/config"
	"proctor-quiz-service/internal/devicestore"
	"proctor-quiz-service/internal/infra/memory"
	redisinfra "proctor-quiz-service/internal/infra/redis"
	"proctor-quiz-service/internal/infra/sqlite"
	"proctor-quiz-service/internal/quizclient"
	transport "proctor-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the attempt gateway.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the proctored attempt gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	finalPort := resolvePort(portFlag, cfg.Server.Port, "8080")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	kv, closeKV, err := openDeviceKV(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeKV()
	devices := devicestore.NewProvider(kv)

	var sessions app.SessionRepository
	if redisClient != nil {
		store := redisinfra.NewSessionStore(redisClient, redisTTL, logger)
		refreshCtx, stopRefresh := context.WithCancel(ctx)
		defer stopRefresh()
		go store.Run(refreshCtx)
		sessions = store
	} else {
		sessions = memory.NewSessionStore()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	client := quizclient.NewHTTPClient(cfg.QuizAPI.BaseURL, &http.Client{
		Timeout: config.TTLDuration(cfg.QuizAPI.Timeout, quizclient.DefaultTimeout),
	})
	attempts := app.NewAttemptService(sessions, devices, client, metrics, logger, app.Options{
		PersistTimeout: config.TTLDuration(cfg.Quiz.PersistTimeout, 10*time.Second),
	})
	catalog := app.NewCatalog(client, devices, config.TTLDuration(cfg.Quiz.ListingTTL, 5*time.Minute), metrics, logger)
	authSvc := auth.NewService(cfg.Auth.Secret, cfg.Auth.Issuer, config.TTLDuration(cfg.Auth.TokenTTL, 8*time.Hour))

	handler := transport.NewGatewayRouter(transport.GatewayDeps{
		WS: transport.NewWSHandler(attempts, authSvc, logger, transport.WSOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MessageRate:    cfg.Server.MessageRate,
			MessageBurst:   cfg.Server.MessageBurst,
		}),
		Gateway:        transport.NewGatewayHandler(catalog, attempts, client, logger),
		Auth:           authSvc,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        transport.NewHTTPMetrics(registry),
		Gatherer:       registry,
	})

	// No write timeout: websocket connections outlive a single response.
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return serve(ctx, server, logger, "attempt gateway")
}

func openDeviceKV(ctx context.Context, cfg config.Config, redisClient *redis.Client) (devicestore.KV, func(), error) {
	switch strings.ToLower(cfg.DeviceStore.Backend) {
	case "", "memory":
		return memory.NewKV(), func() {}, nil
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("devicestore backend redis requires redis.addr")
		}
		return redisinfra.NewKV(redisClient), func() {}, nil
	case "sqlite":
		dsn := cfg.DeviceStore.Path
		if dsn != "" && !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn + "?mode=rwc&_pragma=busy_timeout(5000)"
		}
		kv, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { _ = kv.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown devicestore backend %q", cfg.DeviceStore.Backend)
	}
}

// serve runs server until SIGINT, SIGTERM or ctx cancellation.
func serve(ctx context.Context, server *http.Server, logger *zap.Logger, name string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting "+name, zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("%s: %w", name, err)
	case <-stop:
		logger.Info("shutting down " + name)
	case <-ctx.Done():
		logger.Info("context canceled, shutting down " + name)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
