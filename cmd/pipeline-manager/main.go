// cmd/pipeline-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pipeline-engine/internal/common/config"
	"pipeline-engine/internal/common/database"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/common/observability"
	"pipeline-engine/internal/pipeline/dispatch"
	"pipeline-engine/internal/pipeline/dragdrop"
	"pipeline-engine/internal/pipeline/engine"
	"pipeline-engine/internal/pipeline/mutator"
	"pipeline-engine/internal/pipeline/store"
	"pipeline-engine/internal/remote"
	"pipeline-engine/internal/templates"
)

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	zapLog.Info("Starting pipeline manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

	obs := observability.New("pipeline-manager")
	defer obs.Shutdown()

	var tracing *observability.Tracing
	if cfg.Tracing.Enabled {
		tracing, err = observability.NewTracing("pipeline-manager", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			zapLog.Fatal("tracing init failed", zap.Error(err))
		}
		defer tracing.Shutdown()
	}

	ctx := context.Background()

	// --- Init Redis (template cache) ---
	redisClient, err := database.NewRedis(cfg.Redis)
	if err != nil {
		zapLog.Fatal("redis init failed", zap.Error(err))
	}
	defer redisClient.Close()

	if err := redisClient.Ping(ctx); err != nil {
		// The template cache degrades to direct backend reads without Redis.
		log.WithError(err).Warn("redis unreachable, template cache disabled", nil)
		redisClient = nil
	} else {
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Backend Client ---
	backend := remote.NewClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIToken,
		time.Duration(cfg.Backend.Timeout)*time.Millisecond,
		log,
	)

	templateCache := templates.New(
		redisClient,
		backend,
		time.Duration(cfg.Engine.TemplateCacheTTL)*time.Millisecond,
		log,
	)

	// --- Assemble the Engine ---
	pipelineStore := store.New(log)
	dispatcher := dispatch.New(log)
	mut := mutator.New(pipelineStore, backend, obs, tracing, log)

	eng := engine.New(
		pipelineStore,
		mut,
		backend,
		templateCache,
		dispatcher,
		time.Duration(cfg.Engine.BookingTokenTTLHours)*time.Hour,
		log,
	)

	zapLog.Info("Pipeline engine assembled",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.Bool("tracing", cfg.Tracing.Enabled),
	)

	// --- Board Control Surface ---
	// Minimal local API for the board frontend: load an application into the
	// session, read its current record, and submit drops.
	http.HandleFunc("/applications/load", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			ApplicationID string `json:"applicationId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ApplicationID == "" {
			http.Error(w, "applicationId is required", http.StatusBadRequest)
			return
		}
		app, instances, err := backend.Refresh(r.Context(), body.ApplicationID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		pipelineStore.Load(app, instances)
		w.WriteHeader(http.StatusNoContent)
	})

	http.HandleFunc("/applications/get", func(w http.ResponseWriter, r *http.Request) {
		rec, err := pipelineStore.Get(r.URL.Query().Get("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"application":    rec.App,
			"stageInstances": rec.Instances,
			"columnId":       store.ColumnIDFor(rec.App),
		})
	})

	http.HandleFunc("/drops", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var drop dragdrop.Drop
		if err := json.NewDecoder(r.Body).Decode(&drop); err != nil {
			http.Error(w, "malformed drop", http.StatusBadRequest)
			return
		}
		if err := eng.HandleDrop(r.Context(), drop); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		if cfg.Metrics.Enabled {
			http.Handle("/metrics", promhttp.Handler())
		}
		zapLog.Info("Server listening", zap.String("address", cfg.Metrics.Address))
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			zapLog.Error("Server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received")
	zapLog.Info("Pipeline manager stopped gracefully")
}
