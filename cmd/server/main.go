package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"canvas-relay/internal/api"
	"canvas-relay/internal/cluster"
	"canvas-relay/internal/config"
	"canvas-relay/internal/db"
	"canvas-relay/internal/openai"
	"canvas-relay/internal/repository"
	"canvas-relay/internal/services"
	"canvas-relay/internal/services/collaboration"
	"canvas-relay/internal/telemetry"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

const version = "1.0.0"

/*
STARTUP AND SHUTDOWN ORDER

Start: config → tracing → journal database (optional) → collaboration
core → cluster bridge (optional) → HTTP.

Stop, in one ordered operation: stop accepting HTTP → close every
connection (remaining members get their presence-removed) → drain the
journal → close the bridge → close the database → flush traces.
*/

func main() {
	log.Println("🚀 Starting canvas relay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	jaegerShutdown, err := telemetry.InitJaeger(telemetry.ServiceName, cfg.JaegerEndpoint, version)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}

	// Activity journal (optional)
	var (
		database *db.GormDB
		journal  *services.ActivityJournal
	)
	registryOpts := []collaboration.RegistryOption{
		collaboration.WithAdmissionPolicy(collaboration.CapacityPolicy(cfg.MaxRoomMembers)),
	}
	if cfg.JournalEnabled() {
		database, err = db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		activityRepo := repository.NewActivityRepository(database.DB)
		journal = services.NewActivityJournal(activityRepo, cfg.ActivityWorkers, cfg.ActivityQueueSize, cfg.ActivityRetention)
		journal.Start()
		registryOpts = append(registryOpts, collaboration.WithRoomObserver(journal))
	} else {
		log.Println("  Activity journal disabled (DB_DRIVER not set)")
	}

	// Collaboration core
	registry := collaboration.NewRegistry(registryOpts...)
	relay := collaboration.NewRelay(registry)
	presence := collaboration.NewPresenceTracker(registry, relay, cfg.CursorUpdatesPerSecond)
	documents := collaboration.NewDocumentChannel(registry, relay, cfg.MaxSnapshotBytes)
	chat := collaboration.NewChatChannel(registry, relay)
	gateway := collaboration.NewGateway(registry, relay, presence)
	dispatcher := collaboration.NewDispatcher(gateway, relay, presence, documents, chat)

	wsHandler := collaboration.NewWebSocketHandler(gateway, dispatcher, collaboration.ClientConfig{
		SendQueueSize:     cfg.SendQueueSize,
		PresenceQueueSize: cfg.PresenceQueueSize,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		ReadLimit:         collaboration.SnapshotReadLimit(documents.MaxBytes()),
	})

	// Cluster bridge (optional)
	var bridge *cluster.RedisBridge
	if cfg.RedisURL != "" {
		startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		bridge, err = cluster.NewRedisBridge(startCtx, cfg.RedisURL, relay.DeliverRemote)
		if err == nil {
			err = bridge.Start(startCtx)
		}
		cancel()
		if err != nil {
			log.Fatalf("❌ Failed to start cluster bridge: %v", err)
		}
		relay.SetBridge(bridge)
	}

	handler := api.NewHandler(registry, presence, gateway, wsHandler)
	if journal != nil {
		handler.SetJournal(journal)
	}
	if cfg.OpenAIAPIKey != "" {
		handler.SetDiagramGenerator(services.NewDiagramService(openai.NewClient(cfg.OpenAIAPIKey)))
		log.Println("✓ OpenAI client initialized")
	} else {
		log.Println("  Diagram generation disabled (OPENAI_API_KEY not set)")
	}

	router := api.SetupRoutes(handler)

	// No server-wide write timeout: WebSocket pumps manage their own deadlines.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", cfg.Addr())
		log.Printf("   GET    /ws                         - WebSocket (send a join frame)")
		log.Printf("   GET    /api/health                 - Liveness")
		log.Printf("   GET    /api/stats                  - Rooms, connections, journal queue")
		log.Printf("   GET    /api/rooms                  - Active rooms")
		log.Printf("   GET    /api/rooms/:code            - Room members")
		log.Printf("   GET    /api/rooms/:code/presence   - Cursor snapshot")
		log.Printf("   GET    /api/rooms/:code/activity   - Membership history")
		log.Printf("   POST   /api/generate-diagram       - AI diagram")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"canvas-relay": func(ctx context.Context) error {
				log.Println("🛑 Shutting down server...")
				var errs []error

				if err := server.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
				if err := gateway.CloseAll(ctx); err != nil {
					errs = append(errs, err)
				}
				if journal != nil {
					if err := journal.Shutdown(ctx); err != nil {
						errs = append(errs, err)
					}
				}
				if bridge != nil {
					if err := bridge.Close(); err != nil {
						errs = append(errs, err)
					}
				}
				if database != nil {
					if err := database.Close(); err != nil {
						errs = append(errs, err)
					}
				}
				if err := jaegerShutdown(ctx); err != nil {
					errs = append(errs, err)
				}

				if len(errs) == 0 {
					log.Println("✓ Server shutdown complete")
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Relay exited with code: %d", exitCode)
	os.Exit(exitCode)
}
