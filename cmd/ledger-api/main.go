package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialysis-ledger/common/database"
	"dialysis-ledger/common/logger"
	rediscommon "dialysis-ledger/common/redis"
	"dialysis-ledger/internal/blob"
	"dialysis-ledger/internal/config"
	httpapi "dialysis-ledger/internal/http"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"
	"dialysis-ledger/internal/service"
	"dialysis-ledger/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "ledger-api")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres backs identity and, unless another record store is chosen, exchanges.
	var db *sql.DB
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(ctx, &cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for ledger-api")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory", zap.Error(err))
		}
	}

	var (
		records  repository.ExchangeStore
		users    repository.UsersRepository
		patients repository.PatientsRepository
	)
	if db != nil {
		ids := repository.NewPostgresIdentityRepository(db)
		users, patients = ids, ids
	} else {
		ids := repository.NewMemoryIdentityRepository()
		users, patients = ids, ids
	}
	switch {
	case cfg.RecordStore == "rest" && cfg.REST.BaseURL != "":
		records = repository.NewRESTExchangeStore(cfg.REST.BaseURL, cfg.REST.APIKey,
			time.Duration(cfg.REST.Timeout)*time.Second, log)
		log.Info("Using hosted record store", zap.String("base_url", cfg.REST.BaseURL))
	case cfg.RecordStore == "postgres" && db != nil:
		records = repository.NewPostgresExchangeStore(db)
	default:
		records = repository.NewMemoryExchangeStore()
		log.Warn("Using in-memory record store; records are lost on restart")
	}

	// Redis carries the KV cache and the change stream; without it both degrade locally.
	var (
		kv     store.KV
		events notify.Publisher = notify.NopPublisher{}
	)
	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err == nil {
		kv = store.NewRedisKV(redisClient)
		events = notify.NewStreamPublisher(redisClient, cfg.Change.Stream, cfg.Change.MaxLen)
	} else {
		log.Warn("Redis unavailable, using in-process cache and no change stream", zap.Error(err))
		kv = store.NewMemoryKV()
	}

	var blobs blob.Storage
	var gridfs *blob.GridFSStorage
	if cfg.Blob.Backend == "gridfs" {
		if g, err := blob.NewGridFSStorage(ctx, &cfg.Mongo, cfg.Blob.PublicBaseURL); err == nil {
			gridfs = g
			blobs = g
		} else {
			log.Warn("GridFS unavailable, keeping images in memory", zap.Error(err))
		}
	}
	if blobs == nil {
		blobs = blob.NewMemoryStorage(cfg.Blob.PublicBaseURL)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if db != nil {
			log.Fatal("JWT_SECRET is required when records are persisted")
		}
		secret = randomSecret()
		log.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}
	clock := service.NewClock(cfg.Location())
	tokens, err := service.NewTokenIssuer(secret, cfg.TokenTTL(), cfg.Auth.Issuer, clock)
	if err != nil {
		log.Fatal("Failed to create token issuer", zap.Error(err))
	}

	maxImageBytes := int64(cfg.Blob.MaxUploadMB) << 20
	dashboard := service.NewDashboardService(records, patients, kv, cfg.DashboardCacheTTL(), clock, log)
	router := httpapi.NewRouter(httpapi.Deps{
		Identity: service.NewIdentityService(users, patients, kv, tokens, cfg.PatientCacheTTL(), log),
		PD: service.NewPDService(records, blobs, events, dashboard, clock, service.PDServiceOptions{
			MaxImageSide:  cfg.Blob.MaxSide,
			MaxImageBytes: maxImageBytes,
		}, log),
		HD:            service.NewHDService(records, events, dashboard, clock, log),
		Dashboard:     dashboard,
		History:       service.NewHistoryService(records, patients, clock, log),
		Trends:        service.NewTrendService(records, patients, clock, log),
		Blobs:         blobs,
		MaxImageBytes: maxImageBytes,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		Logger:        log,
	})

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("HTTP server stopped", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if gridfs != nil {
		_ = gridfs.Close(shutdownCtx)
	}
	_ = rediscommon.Close(redisClient)
	_ = database.Close(db)
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("Failed to generate secret: %v", err))
	}
	return hex.EncodeToString(b)
}
