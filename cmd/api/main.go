package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"attest/api/internal/app"
	"attest/api/internal/archive"
	"attest/api/internal/config"
	"attest/api/internal/docsession"
	"attest/api/internal/platform"
	"attest/api/internal/publish"
	"attest/api/internal/qsearch"
	"attest/api/internal/render"
	"attest/api/internal/storage"
	"attest/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	platformClient := platform.NewClient(cfg.PlatformURL)

	blobs, err := storage.New(storage.Config{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.MinioPublicURL,
	})
	if err != nil {
		log.Fatalf("object storage setup failed: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatalf("object storage bucket check failed: %v", err)
	}

	deps := app.Deps{
		Platform:       platformClient,
		Blobs:          blobs,
		Publisher:      publish.New(blobs, platformClient, nil),
		Renderer:       render.New(nil),
		Search:         qsearch.New(cfg.MeiliURL, cfg.MeiliMasterKey),
		DebounceWindow: cfg.DebounceWindow,
	}
	defer deps.Search.Close()

	if strings.TrimSpace(cfg.RedisURL) != "" {
		docs, err := docsession.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer docs.Close()
		deps.Documents = docs
	} else {
		log.Printf("WARNING: no Redis configured, generated-document lists disabled")
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		deps.DB = db
		deps.KYC = store.NewKYCStore(db)
	} else {
		log.Printf("WARNING: no database configured, KYC endpoints disabled")
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		log.Fatalf("failed to create archive dir: %v", err)
	}
	deps.Archive = archive.New(cfg.ArchiveDir, nil)

	service := app.NewService(deps)
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Attest API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
