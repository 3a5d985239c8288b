package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"vigil/internal/alerts"
	"vigil/internal/auth"
	"vigil/internal/config"
	"vigil/internal/db"
	"vigil/internal/notifier"
	"vigil/internal/prom"
	"vigil/internal/retention"
	"vigil/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db     *db.Repository
	prom   *prom.Client
	notify *notifier.Telegram

	alerts    *alerts.Engine
	retention *retention.Service
	web       *web.Server

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		return nil, err
	}
	repo := db.NewRepository(sqldb)

	promClient, err := prom.NewClient(cfg.PrometheusURL, cfg.PrometheusTimeout, logger.With("module", "prom"))
	if err != nil {
		return nil, err
	}
	n := notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	authManager := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)

	if err := seedAdmin(context.Background(), repo, cfg, logger); err != nil {
		return nil, err
	}

	w := web.NewServer(repo, promClient, authManager, logger, cfg.WSMetricsInterval)
	app := &App{
		cfg:       cfg,
		log:       logger,
		db:        repo,
		prom:      promClient,
		notify:    n,
		alerts:    alerts.NewEngine(repo, promClient, n, logger.With("module", "alerts"), cfg.AlertConcurrency),
		retention: retention.NewService(repo, cfg.RetentionDays, logger.With("module", "retention")),
		web:       w,
	}
	app.httpSrv = &http.Server{Addr: cfg.Addr, Handler: w.Routes()}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("http server failed", "err", err)
		}
	}()

	alertTicker := time.NewTicker(a.cfg.AlertCheckInterval)
	retentionTicker := time.NewTicker(6 * time.Hour)
	defer alertTicker.Stop()
	defer retentionTicker.Stop()

	// Immediate first run
	a.alerts.Sweep(ctx)
	a.retention.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = a.httpSrv.Shutdown(context.Background())
			return a.db.DB().Close()
		case <-alertTicker.C:
			a.alerts.Sweep(ctx)
		case <-retentionTicker.C:
			a.retention.Run(ctx)
		}
	}
}

// seedAdmin creates the initial admin account when the users table is empty,
// so a fresh deployment can log in without a side-channel script.
func seedAdmin(ctx context.Context, repo *db.Repository, cfg config.Config, logger *slog.Logger) error {
	n, err := repo.CountUsers(ctx)
	if err != nil || n > 0 {
		return err
	}
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Warn("no users exist and no admin credentials configured; API logins will fail")
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if _, err := repo.CreateUser(ctx, cfg.AdminEmail, hash, true); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	logger.Info("seeded admin user", "email", cfg.AdminEmail)
	return nil
}
