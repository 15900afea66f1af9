package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trafficmon/edge-pipeline/internal/broker"
	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/camera"
	"github.com/trafficmon/edge-pipeline/internal/config"
	"github.com/trafficmon/edge-pipeline/internal/correlator"
	"github.com/trafficmon/edge-pipeline/internal/httpapi"
	"github.com/trafficmon/edge-pipeline/internal/obslog"
	"github.com/trafficmon/edge-pipeline/internal/persister"
	"github.com/trafficmon/edge-pipeline/internal/platform/paths"
	"github.com/trafficmon/edge-pipeline/internal/platform/serial"
	"github.com/trafficmon/edge-pipeline/internal/query"
	"github.com/trafficmon/edge-pipeline/internal/radar"
	"github.com/trafficmon/edge-pipeline/internal/supervisor"
	"github.com/trafficmon/edge-pipeline/internal/weather"
)

// Exit codes per spec.md §6: 0 clean shutdown, 1 unrecoverable startup
// failure, 2 configuration error.
const (
	exitOK             = 0
	exitStartupFailure = 1
	exitConfigError    = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}

	log := obslog.New("server", cfg.LogLevel)

	if err := paths.EnsureDirs(); err != nil {
		log.WithError(err).Error("failed to prepare data directory layout")
		return exitStartupFailure
	}
	cfg.DatabasePath = paths.ResolveDatabasePath(cfg.DatabasePath)
	cfg.ThresholdsFile = paths.ResolveConfigPath(cfg.ThresholdsFile)

	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.WithError(err).Error("failed to connect to redis")
		return exitStartupFailure
	}
	cancel()
	b := bus.New(rdb)

	primaryDB, err := persister.OpenPrimary(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Error("failed to open primary database")
		return exitStartupFailure
	}
	defer primaryDB.Close()
	primaryStore := persister.NewPrimaryStore(primaryDB)

	var secondaryStore *persister.SecondaryStore
	if cfg.PostgresDSN != "" {
		secondaryDB, err := persister.OpenSecondary(cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Warn("failed to open secondary database; continuing without it")
		} else {
			secondaryStore = persister.NewSecondaryStore(secondaryDB)
			schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := secondaryStore.EnsureSchema(schemaCtx); err != nil {
				log.WithError(err).Warn("failed to ensure secondary schema; continuing without it")
				secondaryStore = nil
			}
			schemaCancel()
			defer secondaryDB.Close()
		}
	}

	thresholdWatcher := config.NewThresholdWatcher(cfg.ThresholdsFile, cfg.Thresholds)

	radarPort, err := serial.Open(cfg.RadarUARTPort, cfg.RadarBaudRate)
	if err != nil {
		log.WithError(err).Error("failed to open radar serial port")
		return exitStartupFailure
	}
	reopenRadar := func() (radar.Port, error) {
		return serial.Open(cfg.RadarUARTPort, cfg.RadarBaudRate)
	}
	radarIngestor := radar.New(radarPort, b, thresholdWatcher.Current, obslog.New("radar", cfg.LogLevel), reopenRadar)

	dht22, err := weather.NewDHT22(cfg.DHT22GPIOPin)
	if err != nil {
		log.WithError(err).Error("failed to initialize DHT22 sensor")
		return exitStartupFailure
	}
	weatherIngestor := weather.NewIngestor(dht22, cfg.DHT22UpdateInterval, b, obslog.New("weather", cfg.LogLevel))

	cameraRing := camera.NewRing(100)
	cameraIngestor := camera.NewIngestor(b, cameraRing, obslog.New("camera", cfg.LogLevel))

	corr := correlator.New(b, cameraRing, thresholdWatcher.Current, obslog.New("correlator", cfg.LogLevel))

	pers := persister.New(b, primaryStore, secondaryStore, cfg.RetentionDays, obslog.New("persister", cfg.LogLevel))

	hub := broker.NewHub(b, obslog.New("broker", cfg.LogLevel))

	queryDB, err := sql.Open("sqlite3", "file:"+cfg.DatabasePath+"?mode=ro")
	if err != nil {
		log.WithError(err).Error("failed to open read-only query database")
		return exitStartupFailure
	}
	defer queryDB.Close()
	queryStore := query.New(queryDB, b)
	httpLog := obslog.New("httpapi", cfg.LogLevel)
	router := httpapi.NewRouter(queryStore, hub, httpLog)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler: router,
	}

	sup := supervisor.New(5 * time.Second)
	sup.Register(supervisor.WorkerFunc(thresholdWatcher.Start))
	sup.Register(radarIngestor)
	sup.Register(weatherIngestor)
	sup.Register(cameraIngestor)
	sup.Register(corr)
	sup.Register(pers)
	sup.Register(hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup.Start(ctx)

	go func() {
		log.WithField("addr", httpServer.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}

	if !sup.Shutdown() {
		log.Warn("workers did not all finish within the join timeout")
	}

	return exitOK
}
