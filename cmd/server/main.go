package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/board-sync/internal/api"
	"github.com/npezzotti/board-sync/internal/authz"
	"github.com/npezzotti/board-sync/internal/config"
	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/presence"
	"github.com/npezzotti/board-sync/internal/server"
	"github.com/npezzotti/board-sync/internal/stats"
	"github.com/npezzotti/board-sync/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	memoryDSN         = "memory"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	redisURL       string
	keyPrefix      string
	signingKey     string
	allowedOrigins stringSliceFlag
	serviceIds     stringSliceFlag
	scanInterval   time.Duration
	runMigrations  bool
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", `database connection string, or "memory" for an in-process store`)
	flag.StringVar(&redisURL, "redis-url", "redis://localhost:6379/0", "redis URL for presence liveness keys")
	flag.StringVar(&keyPrefix, "key-prefix", "board-sync", "prefix for redis keys")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Var(&serviceIds, "service-ids", "comma-separated user ids that bypass authorization")
	flag.DurationVar(&scanInterval, "scan-interval", presence.DefaultScanInterval, "how often to reconcile presence")
	flag.BoolVar(&runMigrations, "migrate", false, "apply database migrations on startup")
	flag.Parse()

	logger := log.New(os.Stderr, "[board-sync] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisURL, keyPrefix, signingKey, allowedOrigins, scanInterval, serviceIds)
	if err != nil {
		logger.Fatal("config:", err)
	}

	store, err := openStore(logger, cfg)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis url:", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, "board-sync")
	statsUpdater.Run()
	defer statsUpdater.Stop()

	gate := authz.NewGate(logger, store.Collection(types.UsersCollection),
		authz.WithServiceIdentities(cfg.ServiceIdentities...),
		authz.WithStats(statsUpdater),
	)
	gate.Protect(authz.DefaultProtected(store)...)

	trackerOpts := []presence.Option{
		presence.WithScanInterval(cfg.ScanInterval),
		presence.WithStats(statsUpdater),
	}
	if len(cfg.ServiceIdentities) > 0 {
		trackerOpts = append(trackerOpts, presence.WithActor(cfg.ServiceIdentities[0]))
	}
	tracker := presence.NewTracker(logger, rdb, store.Collection(types.PresenceCollection), cfg.KeyPrefix, trackerOpts...)

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	defer stopTracker()
	go tracker.Run(trackerCtx)

	router := server.NewRouter(logger, gate, server.DefaultResources(store),
		server.WithRoomMembers(store.Collection(types.RoomMembersCollection)))

	syncServer := server.NewSyncServer(logger, router, tracker, statsUpdater)
	go syncServer.Run()

	srv := api.NewApp(mux, logger, syncServer, store, rdb, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down sync server...")
	if err := syncServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("sync server shutdown:", err)
	}

	stopTracker()
	logger.Println("shutdown complete")
}

func openStore(logger *log.Logger, cfg *config.Config) (database.Store, error) {
	if cfg.DatabaseDSN == memoryDSN {
		logger.Println("using in-memory store")
		return database.NewMemoryStore(logger), nil
	}

	if runMigrations {
		if err := database.Migrate(cfg.DatabaseDSN); err != nil {
			return nil, err
		}
		logger.Println("migrations applied")
	}

	store, err := database.NewPgStore(logger, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return store, nil
}
