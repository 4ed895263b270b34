package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videodate-platform/internal/audit"
	"videodate-platform/internal/auth"
	"videodate-platform/internal/calls"
	"videodate-platform/internal/chat"
	"videodate-platform/internal/config"
	"videodate-platform/internal/db"
	"videodate-platform/internal/entitlements"
	"videodate-platform/internal/httpapi"
	"videodate-platform/internal/members"
	"videodate-platform/internal/membership"
	"videodate-platform/internal/payments"
	"videodate-platform/internal/pricing"
	"videodate-platform/internal/video"
	"videodate-platform/pkg/logger"
	"videodate-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const usage = "usage: api [serve | migrate [up|status]]"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
		err = serve(rootCtx, stop, cfg, log)
	case "migrate":
		err = migrate(rootCtx, cfg, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error(cmd+" failed", "err", err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg config.Config, args []string) error {
	conn, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer conn.Close()

	sub := "up"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "up":
		return db.Migrate(ctx, conn)
	case "status":
		return db.Status(ctx, conn)
	default:
		return errors.New(usage)
	}
}

func serve(rootCtx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	conn, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer conn.Close()

	// Redis only backs the ring limiter, which fails open; start without it.
	var ring calls.RingLimiter
	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Warn("redis unavailable, ring limiter disabled", "err", err)
	} else {
		defer rdb.Close()
		l, err := utils.NewFixedWindowLimiter(rdb, "ring:", cfg.Calls.RingLimit, cfg.Calls.RingWindow)
		if err != nil {
			return fmt.Errorf("ring limiter init: %w", err)
		}
		ring = l
	}

	rooms, err := newRooms(cfg.Video)
	if err != nil {
		return fmt.Errorf("video init: %w", err)
	}

	svc := buildServices(conn, cfg, rooms, ring)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		db:            conn,
		authMW:        auth.RequireAccessToken(authManager),
		memberMW:      membership.RequireTier(svc.directory, membership.TierFree),
		limiter:       httpapi.NewUserRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, 10*time.Minute),
		handlers:      httpapi.Handlers{Calls: svc.calls, Ledger: svc.ledger},
		payments:      svc.payments,
		webhookSecret: cfg.Payments.WebhookSecret,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "video_provider", rooms.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRooms uses the hosted provider when VIDEO_API_URL is set and local rooms otherwise.
func newRooms(cfg config.VideoConfig) (video.Provider, error) {
	signer, err := video.NewTokenSigner(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	if cfg.APIURL == "" {
		return video.NewMemoryProvider("http://localhost/rooms", signer), nil
	}
	hosted, err := video.NewHostedProvider(cfg.APIURL, cfg.APIKey, signer)
	if err != nil {
		return nil, err
	}
	return hosted, nil
}

type services struct {
	directory *members.PostgresDirectory
	payments  *payments.Service
	ledger    *entitlements.Service
	calls     *calls.Service
}

func buildServices(conn *sql.DB, cfg config.Config, rooms video.Provider, ring calls.RingLimiter) services {
	catalog := membership.DefaultCatalog()
	free := catalog[membership.TierFree]
	free.TrialDays = cfg.Calls.FreeTrialDays
	catalog[membership.TierFree] = free

	dir := members.NewPostgresDirectory(conn)
	prices := pricing.NewService(pricing.NewConfiguredRepo(cfg), cfg.Ledger.RewardDiscountPct)
	pay := payments.NewService(payments.NewPostgresRepo(conn), cfg.Payments.Currency)
	trail := audit.NewService(audit.NewPostgresRepo(conn))

	ledger := entitlements.NewService(entitlements.Deps{
		Repo:            entitlements.NewPostgresRepo(conn),
		Directory:       dir,
		Catalog:         catalog,
		Pricing:         prices,
		Payments:        pay,
		Audit:           trail,
		Location:        cfg.App.Location,
		RewardThreshold: cfg.Ledger.RewardPartnerThreshold,
	})
	callSvc := calls.NewService(calls.Deps{
		Repo:        calls.NewPostgresRepo(conn),
		Directory:   dir,
		Catalog:     catalog,
		Ledger:      ledger,
		Rooms:       rooms,
		Payments:    pay,
		Pricing:     prices,
		Notices:     chat.NewPostgresPoster(conn),
		RingLimiter: ring,
		Audit:       trail,
		Config:      cfg.Calls,
		Location:    cfg.App.Location,
	})
	return services{directory: dir, payments: pay, ledger: ledger, calls: callSvc}
}
