package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/James-May-Coding/myrail-network/internal/api"
	"github.com/James-May-Coding/myrail-network/internal/auth"
	"github.com/James-May-Coding/myrail-network/internal/community"
	"github.com/James-May-Coding/myrail-network/internal/config"
	"github.com/James-May-Coding/myrail-network/internal/identity"
	"github.com/James-May-Coding/myrail-network/internal/metrics"
	"github.com/James-May-Coding/myrail-network/internal/ratelimit"
	"github.com/James-May-Coding/myrail-network/internal/realtime"
	"github.com/James-May-Coding/myrail-network/internal/train"
	"github.com/James-May-Coding/myrail-network/internal/user"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MyRail server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (int32, int32, int32) {
		st := pool.Stat()
		return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
	})

	hub := realtime.NewHub(cfg.Realtime.SendBuffer)
	hub.SetMetrics(m)

	userStore := user.NewStore(pool, cfg.Session.TTL)
	communityStore := community.NewStore(pool)
	communityService := community.NewService(communityStore, hub)
	trainStore := train.NewStore(pool)
	trainService := train.NewService(trainStore, communityService, hub)

	identityClient := identity.NewClient(cfg.Discord.ClientID, cfg.Discord.ClientSecret, cfg.Discord.RedirectURI)
	stateSigner := auth.NewStateSigner(cfg.Session.StateSecret)
	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	// Hourly sweep of expired sessions.
	c := cron.New()
	_, err = c.AddFunc("@hourly", func() {
		n, err := userStore.CleanExpiredSessions(context.Background())
		if err != nil {
			slog.Error("session cleanup failed", "error", err)
			return
		}
		if n > 0 {
			m.SessionsPurgedTotal.Add(float64(n))
			slog.Info("expired sessions purged", "count", n)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	router := api.NewRouter(api.RouterDeps{
		Sessions:    user.NewAuthAdapter(userStore),
		CookieName:  cfg.Session.CookieName,
		SessionTTL:  cfg.Session.TTL,
		Identity:    identityClient,
		States:      stateSigner,
		Users:       userStore,
		Communities: communityService,
		Trains:      trainService,
		Hub:         hub,
		Limiter:     limiter,
		Metrics:     m,
		DB:          pool,
		PoolStats: func() metrics.PoolStats {
			st := pool.Stat()
			return metrics.PoolStats{
				TotalConns:    st.TotalConns(),
				IdleConns:     st.IdleConns(),
				AcquiredConns: st.AcquiredConns(),
			}
		},
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hub.Shutdown(shutdownCtx)

	return srv.Shutdown(shutdownCtx)
}
