package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/orhaniscoding/vlanctl/internal/api"
	"github.com/orhaniscoding/vlanctl/internal/audit"
	"github.com/orhaniscoding/vlanctl/internal/cache"
	"github.com/orhaniscoding/vlanctl/internal/config"
	"github.com/orhaniscoding/vlanctl/internal/database"
	"github.com/orhaniscoding/vlanctl/internal/engine"
	"github.com/orhaniscoding/vlanctl/internal/idempotency"
	"github.com/orhaniscoding/vlanctl/internal/ipamgw"
	"github.com/orhaniscoding/vlanctl/internal/logger"
	"github.com/orhaniscoding/vlanctl/internal/metrics"
	"github.com/orhaniscoding/vlanctl/internal/store"
	"github.com/orhaniscoding/vlanctl/internal/validate"
)

var (
	version = "dev"
	commit  = "none"
	date    = "2026-07-29"
	builtBy = "orhaniscoding"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	asyncAudit := flag.Bool("audit-async", true, "enable async audit buffering")
	auditQueue := flag.Int("audit-queue", 1024, "audit async queue size")
	auditWorkers := flag.Int("audit-workers", 1, "audit async worker count")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vlanctld %s (commit %s, build %s) built by %s\n", version, commit, date, builtBy)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	metrics.Register()

	cfg, err := config.LoadFromFileOrEnv(config.DefaultConfigPath())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Setup(logger.Config{
		Environment: cfg.Server.Environment,
		Level:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogPath:     getEnvOrDefault("LOG_PATH", ""),
		MaxSize:     100,
		MaxBackups:  5,
		MaxAge:      28,
		Compress:    true,
	})
	log := logger.Get()

	gw := ipamgw.New(cfg.IPAM, log)
	refCache := cache.New()
	cache.WarmStart(ctx, refCache, gw, cfg.Sites.TenantName, log)

	segStore := store.New(gw, refCache, cfg.Sites.TenantName, log)
	validator := validate.New(cfg.Sites.Sites, cfg.Sites.SitePrefixes, segStore.VRFExists, segStore.SegmentsInVRF)
	allocEngine := engine.New(segStore, validator, log)

	idemRepo := newIdempotencyRepo(ctx, cfg, log)

	aud := buildAuditor(cfg, *asyncAudit, *auditQueue, *auditWorkers, log)

	handlers := api.NewHandlers(allocEngine, segStore, validator, idemRepo, aud)
	router := api.NewRouter(handlers, cfg)

	startHTTPServer(ctx, cfg, router)
}

// newIdempotencyRepo wires Redis when enabled, falling back to the
// in-process map otherwise.
func newIdempotencyRepo(ctx context.Context, cfg *config.Config, log *slog.Logger) idempotency.Repository {
	if !cfg.Redis.Enabled {
		return idempotency.NewInMemoryRepository()
	}
	client, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-memory idempotency store", "error", err)
		return idempotency.NewInMemoryRepository()
	}
	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()
	return idempotency.NewRedisRepository(client, "vlanctl:idempotency:")
}

// buildAuditor assembles the configured audit sink chain for the segment
// allocator's lease/lifecycle trail: stdout alone, or stdout fanned out
// alongside the durable SQLite sink when one is configured, wrapped with
// the metrics counter and, unless disabled, an async buffer so audit
// persistence never blocks the allocate/release request path.
func buildAuditor(cfg *config.Config, async bool, queueSize, workers int, log *slog.Logger) audit.Auditor {
	stdout := audit.NewStdoutAuditor()
	var base audit.Auditor = stdout

	if dsn := strings.TrimSpace(cfg.Audit.SQLiteDSN); dsn != "" {
		var opts []audit.SqliteOption
		if secrets := decodeHashSecrets(cfg.Audit.HashSecrets); len(secrets) > 0 {
			opts = append(opts, audit.WithSqliteHashingSecrets(secrets))
		}
		sqliteAud, err := audit.NewSqliteAuditor(dsn, opts...)
		if err != nil {
			log.Warn("audit sqlite sink unavailable, falling back to stdout", "error", err)
		} else {
			// Fan out to both: stdout gives operators a live tail of
			// allocate/release activity, SQLite gives the durable,
			// hash-chained trail.
			base = audit.NewMultiAuditor(stdout, sqliteAud)
		}
	}

	aud := audit.WrapWithMetrics(base, metrics.IncAudit)

	if async {
		aud = audit.NewAsyncAuditor(aud, audit.WithQueueSize(queueSize), audit.WithWorkers(workers))
	}
	return aud
}

func decodeHashSecrets(raw string) [][]byte {
	var out [][]byte
	for _, part := range strings.Split(raw, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if b, err := base64.RawURLEncoding.DecodeString(s); err == nil && len(b) > 0 {
			out = append(out, b)
			continue
		}
		if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.Signal(15)}
}

func startHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) {
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		fmt.Println("shutdown signal received, draining HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			fmt.Printf("error during graceful shutdown: %v\n", err)
		}
	}()

	fmt.Printf("vlanctld starting on %s...\n", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Printf("server failed to start: %v\n", err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := strconv.Quote(os.Getenv(key)); v != `""` {
		return os.Getenv(key)
	}
	return defaultValue
}
