package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-core/attachments"
	"chat-core/auth"
	"chat-core/bus"
	"chat-core/delivery"
	"chat-core/mentions"
	"chat-core/repositories"
	"chat-core/runtime/workers"
	"chat-core/services"
	"chat-core/sink"
	"chat-core/transport"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer (database close included)
// executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Repositories, bus, and permanent sinks
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	userRepository := repositories.NewUserRepository(db)

	identities, err := userRepository.ListIdentities()
	if err != nil {
		return fmt.Errorf("loading identities failed: %w", err)
	}
	scanner, err := mentions.NewScanner(identities)
	if err != nil {
		return fmt.Errorf("mention scanner build failed: %w", err)
	}

	eventBus := bus.New(log)
	eventBus.SubscribeAll(sink.NewDiskSink(messageRepository, log))

	// 4. Auth; registrations feed the scanner so new users are mentionable
	// without a restart
	tokens := auth.NewTokenManager(config.AuthTokenSecret, config.AuthTokenDuration)
	authService := services.NewAuthService(userRepository, tokens, scanner)

	// 5. Transport latency model
	var latency delivery.Latency = delivery.Instant{}
	if config.SimulatedLatencyMax > 0 {
		latency = delivery.NewSimulated(config.SimulatedLatencyMax)
	}

	// 6. Supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewHealthWorker(log, config.HealthInterval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sup.Run(ctx)

	// 7. Websocket gateway
	files := attachments.NewStore(config.AttachmentBaseURL)
	gateway := transport.NewGateway(log, authService, eventBus, messageRepository,
		files, scanner, latency, config.TypingIdleTimeout, config.ConnectionBuffer)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: gateway.Handler()}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting websocket gateway", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	// 8. Wait for stop or error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
