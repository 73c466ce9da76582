package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vibration-sentinel/internal/api"
	"vibration-sentinel/internal/cfg"
	"vibration-sentinel/internal/classifier"
	"vibration-sentinel/internal/history"
	"vibration-sentinel/internal/hub"
	"vibration-sentinel/internal/logbook"
	"vibration-sentinel/internal/metrics"
	"vibration-sentinel/internal/model"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	art, err := model.LoadArtifact(c.ScalerPath, c.ModelPath)
	if err != nil {
		log.Fatal().Err(err).Msg("model artifact load failed")
	}

	book, err := logbook.New(c.LogDir)
	if err != nil {
		log.Fatal().Err(err).Msg("logbook initialization failed")
	}

	archive := initializeArchive(c)
	if archive != nil {
		defer archive.Close()
	}

	pipeline := classifier.New(art)
	broadcast := hub.NewWithBuffer(book, m, c.SubscriberBuffer)

	server := api.NewServer(api.Config{
		Pipeline:      pipeline,
		Book:          book,
		Hub:           broadcast,
		Archive:       archive,
		Metrics:       m,
		DefaultSensor: c.DefaultSensorID,
		HistoryWindow: c.HistoryWindow,
		PingInterval:  c.PingInterval,
	})

	var wg sync.WaitGroup
	startMetricsServer(ctx, c, &wg)
	startAPIServer(ctx, c, server, cancel, &wg)

	waitForShutdown(ctx, cancel, &wg)
}

// initializeArchive opens the bbolt archive if DATA_PATH is configured.
func initializeArchive(c cfg.Settings) *history.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := history.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("archive initialization failed, continuing without /history")
		return nil
	}
	return store
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, c cfg.Settings, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		log.Info().Int("port", c.MetricsPort).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// startAPIServer starts the main HTTP server with the classification endpoints
func startAPIServer(ctx context.Context, c cfg.Settings, s *api.Server, cancel context.CancelFunc, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.ListenPort),
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
			// No WriteTimeout: WebSocket feeds stay open indefinitely.
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown API server")
			}
		}()

		log.Info().Int("port", c.ListenPort).Str("sensor_id", c.DefaultSensorID).Msg("classification server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
