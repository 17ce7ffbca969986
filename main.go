package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	"sublarr/api"
	"sublarr/config"
	"sublarr/handlers"
	"sublarr/internal/database"
	"sublarr/services/backup"
	"sublarr/services/events"
	"sublarr/services/jobs"
	"sublarr/services/notify"
	"sublarr/services/pipeline"
	"sublarr/services/probe"
	"sublarr/services/providers"
	"sublarr/services/transcribe"
	"sublarr/services/translation"
	"sublarr/services/wanted"
	"sublarr/utils"
)

const version = "1.0.0"

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("Sublarr starting...")

	configPath := os.Getenv("SUBLARR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// File logging with rotation, mirrored to stdout.
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// First run generates the API key.
	if settings.Auth.APIKey == "" && os.Getenv("SUBLARR_API_KEY") == "" {
		key, err := utils.GenerateAPIKey()
		if err != nil {
			log.Fatalf("failed to generate api key: %v", err)
		}
		settings.Auth.APIKey = key
		if err := cfgManager.Save(settings); err != nil {
			log.Printf("warning: failed to persist api key: %v", err)
		}
		fmt.Printf("Generated API key: %s\n", key)
	}

	resolver := config.NewResolver(cfgManager)

	// Open the store inside the data directory.
	if err := os.MkdirAll(settings.Data.Directory, 0o755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	dbPath := filepath.Join(settings.Data.Directory, "sublarr.db")
	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	store := database.NewStore(db)
	resolver.SetOverrideSource(store.Config)

	apiKey := func() string {
		s, err := resolver.Effective()
		if err != nil {
			return ""
		}
		return s.Auth.APIKey
	}

	// Event bus and its subscribers.
	bus := events.NewBus()
	promRegistry := prometheus.NewRegistry()
	events.NewMetricsCollector(bus, promRegistry)
	wsHub := events.NewWSHub(bus, apiKey)
	events.NewWebhookDispatcher(bus, func() []string {
		s, err := resolver.Effective()
		if err != nil {
			return nil
		}
		return s.Webhooks.URLs
	})

	// Core services.
	probeSvc := probe.NewService(resolver, store.Probe)
	extractor := probe.NewExtractor(resolver)

	providerEngine := providers.NewEngine(resolver, providers.NewRegistry(), store.Health, bus)
	translator := translation.NewEngine(resolver, translation.NewRegistry(), store.Health)

	pipelineSvc := pipeline.NewService(resolver, probeSvc, extractor, providerEngine, translator, store.History, bus)
	pipelineSvc.SetNotifier(notify.NewService(resolver))

	transcriber := transcribe.NewService(resolver, extractor)
	transcriber.Start()
	pipelineSvc.SetTranscriber(transcriber)

	queue := jobs.NewService(resolver, store.Jobs, pipelineSvc, bus)

	scanner := wanted.NewFolderScanner(func() []string {
		s, err := resolver.Effective()
		if err != nil {
			return nil
		}
		return s.Media.Roots
	})
	wantedSvc := wanted.NewService(resolver, scanner, store.Wanted, store.Profiles, probeSvc, pipelineSvc, bus)
	wantedSvc.SetEnqueuer(queue)
	queue.SetWantedSearcher(wantedSvc)

	backupSvc, err := backup.NewService(dbPath, settings.Data.Directory, db)
	if err != nil {
		log.Fatalf("failed to initialise backups: %v", err)
	}

	// HTTP surface.
	r := utils.NewRouter()
	api.Register(r, api.Handlers{
		Translate: handlers.NewTranslateHandler(resolver, queue),
		Wanted:    handlers.NewWantedHandler(wantedSvc, queue),
		Config:    handlers.NewConfigHandler(resolver, store.Config, providerEngine, translator),
		Providers: handlers.NewProvidersHandler(providerEngine),
		Profiles:  handlers.NewProfilesHandler(store.Profiles),
		History:   handlers.NewHistoryHandler(store.History),
		Webhook:   handlers.NewWebhookHandler(wantedSvc),
		Health:    handlers.NewHealthHandler(queue, wantedSvc, providerEngine, wsHub, version),
		WSHub:     wsHub,
		APIKey:    apiKey,
		Registry:  promRegistry,
	})

	rootCtx := context.Background()
	if err := queue.Start(rootCtx); err != nil {
		log.Fatalf("failed to start job queue: %v", err)
	}
	if err := wantedSvc.Start(rootCtx); err != nil {
		log.Fatalf("failed to start reconciler: %v", err)
	}

	// Daily backup rotation.
	backupStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-backupStop:
				return
			case <-ticker.C:
				if err := backupSvc.Run(); err != nil {
					log.Printf("[backup] rotation failed: %v", err)
				}
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // sync translate and websocket hold connections open
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("Server listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(backupStop)
	if err := wantedSvc.Stop(shutdownCtx); err != nil {
		log.Printf("reconciler shutdown error: %v", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Printf("queue shutdown error: %v", err)
	}
	transcriber.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := db.Checkpoint(); err != nil {
		log.Printf("wal checkpoint error: %v", err)
	}
	log.Println("shutdown complete")
}
