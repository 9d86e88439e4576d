// yuno policy-service
//
// Keeps a local cache of the Ontong youth-policy catalogue and serves reads
// live from upstream with a cache fallback.
//   - Cron job re-syncs the whole catalogue every SYNC_INTERVAL_HOURS
//   - REST on PORT, gRPC (PolicyService + health) on GRPC_PORT
//   - Publishes EVENT_POLICIES_SYNCED to Redis when REDIS_URL is set
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yuno/policy-service/internal/app"
	"yuno/policy-service/internal/config"
	"yuno/policy-service/internal/grpcserver"
	"yuno/policy-service/internal/httpapi"
	"yuno/policy-service/internal/scheduler"
	"yuno/policy-service/internal/telemetry"
)

const (
	serviceName = "policy-service"
	version     = "1.0.0"
)

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[policy-service] Config error: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("[policy-service] Logger: %v", err)
	}
	slog.SetDefault(logger.With("service", serviceName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Telemetry ────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTelEndpoint,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatalf("[policy-service] Telemetry: %v", err)
	}

	// ── Store, Redis, pipeline ───────────────────────────────────────────────
	log.Printf("[policy-service] Opening %s store…", cfg.DatabaseDriver)
	a, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		log.Fatalf("[policy-service] %v", err)
	}
	defer a.Close()
	log.Println("[policy-service] Store ready ✓")

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(a.Service, cfg.SyncIntervalHours)
	if err := sched.Start(ctx, cfg.SyncOnStartup); err != nil {
		log.Fatalf("[policy-service] Scheduler: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	var history httpapi.SyncHistory
	if a.History != nil {
		history = a.History
	}
	httpapi.NewHandler(a.Service, history, serviceName, version).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[policy-service] v%s HTTP listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[policy-service] HTTP server error: %v", err)
		}
	}()

	// ── gRPC server ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatalf("[policy-service] gRPC listen: %v", err)
	}
	gs := grpcserver.New(a.Service)
	go func() {
		log.Printf("[policy-service] gRPC listening on :%s", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			log.Printf("[policy-service] gRPC server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[policy-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[policy-service] HTTP shutdown error: %v", err)
	}

	// Cancels an in-flight sync between pages.
	cancel()
	if err := grpcserver.Shutdown(shutdownCtx, gs); err != nil {
		log.Printf("[policy-service] gRPC forced stop: %v", err)
	}
	sched.Stop(shutdownCtx)

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("[policy-service] Telemetry shutdown error: %v", err)
	}
	log.Println("[policy-service] Stopped.")
}
