package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopmaze/invoicecore/internal/auditlog"
	"github.com/shopmaze/invoicecore/internal/config"
	"github.com/shopmaze/invoicecore/internal/eventbus"
	"github.com/shopmaze/invoicecore/internal/gamesink"
	"github.com/shopmaze/invoicecore/internal/invoicestore"
	"github.com/shopmaze/invoicecore/internal/objectstore"
	"github.com/shopmaze/invoicecore/internal/poller"
	"github.com/shopmaze/invoicecore/internal/registry"
	"github.com/shopmaze/invoicecore/internal/session"
	"github.com/shopmaze/invoicecore/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using process environment")
	}

	cfg := config.Get()
	port := cfg.GetPort()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.NewMetrics()

	invoices, err := invoicestore.New(cfg.Invoices.Directory)
	if err != nil {
		log.Fatalf("invoicestore: %v", err)
	}

	objectGateway, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		if cfg.Poller.MaxRetriesFinite() {
			log.Fatalf("objectstore: unreachable at startup and maxRetries=%s is finite: %v", cfg.Poller.MaxRetries, err)
		}
		slog.Warn("objectstore: startup probe failed, polling engine disabled (maxRetries=unlimited)", "error", err)
	}

	reg := registry.New()

	sink := gamesink.NewDispatcher(cfg.GameSink)
	defer sink.Shutdown()

	audit, err := auditlog.NewLog(cfg.Audit.DatabaseURL)
	if err != nil {
		slog.Warn("auditlog: init failed, audit trail disabled", "error", err)
		audit, _ = auditlog.NewLog("")
	}
	defer audit.Close()

	var events eventbus.Emitter
	inMemoryBus := eventbus.NewBus()
	events = inMemoryBus
	if cfg.Events.PubSub.Enabled && cfg.Events.PubSub.ProjectID != "" {
		pubsubBus, err := eventbus.NewPubSubBus(ctx, cfg.Events.PubSub.ProjectID, cfg.Events.PubSub.TopicID)
		if err != nil {
			slog.Warn("eventbus: pubsub init failed, falling back to in-memory", "error", err)
		} else {
			defer pubsubBus.Close()
			events = pubsubBus
		}
	}

	router := session.New(invoices, reg, sink, metrics, session.Config{
		PingInterval:   time.Duration(cfg.Session.PingIntervalSec) * time.Second,
		PongWait:       time.Duration(cfg.Session.PongWaitSec) * time.Second,
		WriteWait:      time.Duration(cfg.Session.WriteWaitSec) * time.Second,
		AllowedOrigins: cfg.Session.AllowedOrigins,
	})

	if objectGateway != nil {
		engine := poller.New(
			objectGateway, invoices, reg,
			router.DeliverInvoiceReady,
			time.Duration(cfg.Poller.IntervalMs)*time.Millisecond,
			metrics, events, audit,
		)
		go engine.Run(ctx)
		defer engine.Stop()
	} else {
		slog.Warn("poller: object store unavailable at startup, polling engine not started")
	}

	mainRouter := mux.NewRouter()

	mainRouter.HandleFunc("/game-control", router.HandleWebSocket)

	mainRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "healthy"
		objectStoreStatus := "unavailable"
		if objectGateway != nil {
			objectStoreStatus = "connected"
		}

		auditStatus := "disabled"
		if cfg.Audit.DatabaseURL != "" {
			if err := audit.Ping(ctx); err != nil {
				auditStatus = "error"
				status = "degraded"
			} else {
				auditStatus = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":      status,
			"service":     "invoice-gateway",
			"objectStore": objectStoreStatus,
			"audit":       auditStatus,
		})
	}).Methods("GET")

	mainRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")

	debugRouter := mux.NewRouter()
	debugRouter.HandleFunc("/internal/expected-invoices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count": reg.Len(),
			"pns":   reg.PNs(),
		})
	}).Methods("GET")

	server := &http.Server{
		Addr:         cfg.Server.Interface + ":" + port,
		Handler:      mainRouter,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	debugServer := &http.Server{
		Addr:    cfg.Server.DebugInterface,
		Handler: debugRouter,
	}
	go func() {
		if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("debug server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("invoice-gateway: shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		debugServer.Shutdown(shutdownCtx)
	}()

	slog.Info("invoice-gateway starting", "port", port, "env", cfg.Server.Env)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed to start: %v", err)
	}

	slog.Info("invoice-gateway stopped")
}
