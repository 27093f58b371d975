// Command rendezvousd runs the X3DH rendezvous server: it wires the
// configured identity-store and router backends behind the service
// façade, serves them over HTTP, registers with Consul, and shuts down
// gracefully on SIGINT/SIGTERM.
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

	"github.com/redis/go-redis/v9"

	"github.com/dayandersen/brongnal/internal/config"
	"github.com/dayandersen/brongnal/internal/registry"
	"github.com/dayandersen/brongnal/internal/rendezvouslog"
	"github.com/dayandersen/brongnal/internal/router"
	"github.com/dayandersen/brongnal/internal/service"
	"github.com/dayandersen/brongnal/internal/store"
	"github.com/dayandersen/brongnal/internal/transport"
)

func main() {
	cfg := config.Load()
	logger := rendezvouslog.New(fmt.Sprintf("[%s] ", cfg.ServerID))

	logger.Printf("starting rendezvous server: %s", cfg.ServerID)

	identityStore, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize store backend %q: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	msgRouter, closeRouter, err := buildRouter(cfg)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize router backend %q: %v", cfg.RouterBackend, err)
	}
	defer closeRouter()

	svc := service.New(identityStore, msgRouter, logger)
	handlers := transport.New(svc)

	serviceRegistry, err := registry.NewConsulRegistry(cfg.ConsulURL, cfg.ServerID, cfg.ServerPort)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to Consul: %v", err)
	}
	if err := serviceRegistry.Register(); err != nil {
		log.Fatalf("FATAL: failed to register with Consul: %v", err)
	}

	if peers, err := serviceRegistry.GetHealthyServers(); err != nil {
		logger.Printf("warning: failed to query healthy rendezvous peers: %v", err)
	} else {
		logger.Printf("fleet has %d healthy rendezvous server(s) at startup", len(peers))
	}
	go serviceRegistry.WatchServices(func(peers []string) {
		logger.Printf("fleet membership changed: %d healthy rendezvous server(s)", len(peers))
	})

	allowedOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	handler := transport.NewRouter(handlers, allowedOrigins)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Printf("received signal %v, starting graceful shutdown", sig)

	if err := serviceRegistry.Deregister(); err != nil {
		logger.Printf("warning: failed to deregister from Consul: %v", err)
	}

	// Give the load balancer a moment to stop routing new connections here
	// before we stop accepting them, mirroring the teacher's drain delay.
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("warning: server shutdown error: %v", err)
	}

	logger.Printf("server stopped gracefully")
}

func buildStore(cfg *config.Config) (store.IdentityStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendPostgres:
		s, err := store.NewPostgresStore(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendMemory, "":
		return store.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func buildRouter(cfg *config.Config) (router.Router, func(), error) {
	switch cfg.RouterBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, err
		}
		return router.NewRedisRouter(client), func() { _ = client.Close() }, nil
	case config.BackendMemory, "":
		return router.NewMemoryRouter(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown router backend %q", cfg.RouterBackend)
	}
}
