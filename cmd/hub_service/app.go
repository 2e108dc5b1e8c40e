package hubservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"location-hub/internal/backend"
	"location-hub/internal/general/config"
	"location-hub/internal/general/logger"
	"location-hub/internal/general/postgres"
	"location-hub/internal/general/rabbitmq"
	"location-hub/internal/general/websocket"
	"location-hub/internal/hub"
	"location-hub/internal/persist"
)

// Run wires the hub together and serves until ctx is cancelled.
func Run(ctx context.Context, configPath string, maxConcurrent int) error {
	// static request ID for startup logs
	log := logger.New("location-hub")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// token cache + backend client for authorized persistence writes
	creds, err := backend.LoadCredentials(cfg.Backend.CredentialsFile)
	if err != nil {
		log.Error(ctx, "credentials_load_failed", "Failed to load signing credentials", err, nil)
		return err
	}
	tokens, err := backend.NewTokenCache(creds, cfg.Backend.TokenURL, log)
	if err != nil {
		log.Error(ctx, "token_cache_init_failed", "Failed to initialize token cache", err, nil)
		return err
	}
	store := backend.NewClient(cfg.Backend.BaseURL, tokens, log)

	// bounded background queue for fire-and-forget persistence
	disp := persist.NewDispatcher(4, 256, log)
	defer disp.Close()

	gateway := persist.NewGateway(disp, store, log)

	// optional event mirror to RabbitMQ
	if cfg.RabbitMQ.Enabled {
		rmq, err := rabbitmq.Connect(ctx, cfg, log)
		if err != nil {
			log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		defer rmq.Close()
		gateway.AttachEventMirror(rabbitmq.NewEventPublisher(rmq))
	}

	// optional location history archive in Postgres
	if cfg.Database.Enabled {
		pool, err := postgres.NewPool(ctx, cfg, log)
		if err != nil {
			log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()
		gateway.AttachArchive(postgres.NewLocationHistoryRepo(pool))
	}

	// core: registry, broadcaster, router, transport
	registry := hub.NewRegistry()
	notify := hub.NewBroadcaster(registry, log)
	router := hub.NewRouter(registry, notify, gateway, log)
	ws := websocket.NewServer(router, registry, log)

	mux := http.NewServeMux()
	ws.RegisterRoutes(mux)

	// global concurrency limiter; blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Location hub started on %s:%d", cfg.Server.Host, cfg.Server.Port),
		map[string]any{"port": cfg.Server.Port, "max_concurrent": maxConcurrent},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.Server.Port})
			return err
		}
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
