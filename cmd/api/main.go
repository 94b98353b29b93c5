package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"tangle/api/internal/app"
	"tangle/api/internal/auth"
	"tangle/api/internal/blob"
	"tangle/api/internal/config"
	"tangle/api/internal/enrich"
	"tangle/api/internal/identity"
	"tangle/api/internal/search"
	"tangle/api/internal/store"
)

func main() {
	_ = godotenv.Load(".env")
	issueFor := flag.String("issue-token", "", "print a bearer token for this feed id and exit")
	flag.Parse()

	cfg := config.Load()

	if *issueFor != "" {
		token, err := auth.IssueViewerToken([]byte(cfg.JWTSecret), *issueFor, cfg.TokenTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.Workers*5)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var profileCache *identity.RedisCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for the shared profile cache")
		profileCache, err = identity.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer profileCache.Close()
	}
	directory := identity.NewDirectory(identity.NewCache(dataStore, profileCache, cfg.ProfileTTL), cfg.BlobURLPrefix)

	var blobs enrich.Blobs
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioBlobs, err := blob.NewMinio(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("blob storage setup failed: %v", err)
		}
		blobs = minioBlobs
	} else {
		log.Printf("MINIO_ENDPOINT not set, blog bodies will be omitted")
	}

	if cfg.Viewer == "" {
		log.Printf("WARNING: TANGLE_VIEWER_ID not set, anonymous requests see no follows")
	}

	service := app.New(cfg, dataStore, directory, blobs, searchService)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CacheRebuildSpec, service.InvalidateIdentity); err != nil {
		log.Fatalf("invalid TANGLE_CACHE_REBUILD_SPEC %q: %v", cfg.CacheRebuildSpec, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Tangle API listening on %s", cfg.Addr)
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
