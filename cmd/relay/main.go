package main

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/infrastructure/grpc/server"
	"chat-relay/infrastructure/web"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred closes flush badger and bluge.
func run() (int, error) {
	// 1. Configuration & Logger
	// A missing .env is fine, the environment alone may carry the config.
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Storage
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		url := fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint)
		logger.Info("Debug Badger inspector available", "url", url)
		database.StartDebugServer(db, config.DebugPort, endpoint, RecordMapper)
	}

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	chatService := services.NewChatService(
		logger,
		repositories.NewUserRepository(db),
		repositories.NewRoomRepository(db),
		repositories.NewConversationRepository(db, blugeWriter, logger, config.LimitMessages),
	)

	// 3. Relay runtime
	monitor := observability.NewMonitor(logger)

	var serverOpts []web.Option
	serverOpts = append(serverOpts, web.WithMonitor(monitor), web.WithOriginPatterns(config.Origins()...))
	moderator, err := moderation.NewModerator(config.Words(), charReplacement, logger)
	switch {
	case err == nil:
		serverOpts = append(serverOpts, web.WithCensor(moderator))
	case stderrors.Is(err, errors.ErrEmptyWords):
		logger.Info("No censored words configured, moderation disabled")
	default:
		return exitConfig, fmt.Errorf("moderation setup failed: %w", err)
	}

	registry := runtime.NewRegistry(logger, runtime.RegistryConfig{
		DefaultRoom:  domain.RoomName(config.DefaultRoom),
		AnnounceJoin: config.AnnounceJoin,
		BufferSize:   config.RegistryBufferSize,
	})
	queue := workers.NewPersistenceQueue(logger, config.PersistenceQueueSize, monitor)
	healthServer := server.NewHealthServer(logger, registry, config.MetricInterval)

	sup := workers.NewSupervisor(logger).WithRestartDelay(config.RestartInterval)
	sup.Add(registry, healthServer)
	for i := 0; i < config.PersistenceWorkers; i++ {
		sup.Add(workers.NewPersistenceWorker(logger, queue, chatService, config.PersistenceTimeout, monitor))
	}
	sup.Add(workers.NewTelemetryWorker(logger, config.MetricInterval, monitor, registry, queue))

	// The registry outlives the signal so that sessions can still leave their rooms while draining.
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		logger.Info("Starting supervisor...")
		sup.Run(context.Background())
	}()
	defer func() {
		sup.Stop()
		<-supervised
	}()

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	// 5. HTTP & websocket
	sessionConfig := runtime.SessionConfig{
		DefaultRoom:       domain.RoomName(config.DefaultRoom),
		HeartbeatInterval: config.HeartbeatInterval,
		ClientTimeout:     config.ClientTimeout,
		WriteTimeout:      config.WriteTimeout,
		ConnectTimeout:    config.ConnectTimeout,
		OutboundBuffer:    config.OutboundBufferSize,
		RateLimit:         config.RateLimit,
		RateBurst:         config.RateBurst,
	}
	webServer := web.NewServer(ctx, logger, chatService, registry, queue, sessionConfig, serverOpts...)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           webServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 6. gRPC health
	address := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	grpcServer := server.NewServer(logger, healthServer)
	go func() {
		logger.Info("Starting gRPC server", "address", address, "at", time.Now().UTC())
		for serviceName := range grpcServer.GetServiceInfo() {
			logger.Debug("gRPC exposed service", "name", serviceName)
		}
		if err := grpcServer.Serve(listener); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
		stop()
	}

	// 8. Graceful shutdown: stop accepting, let sessions leave their rooms, then stop the workers.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if !webServer.WaitSessions(config.ShutdownTimeout) {
		logger.Warn("Sessions still open after shutdown timeout")
	}
	// Stopping the workers flips the health status to NOT_SERVING before gRPC goes away.
	sup.Stop()
	<-supervised
	grpcServer.GracefulStop()
	logger.Info("Relay stopped", "pending_persistence", queue.Len())

	return code, runErr
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

// RecordMapper feeds the debug inspector with decoded relay records.
func RecordMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	row.Type, row.Detail = repositories.DescribeRecord(key, val)
	return row
}
