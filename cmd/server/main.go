package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/api"
	"github.com/kvolkov/hhnotify/internal/app"
	"github.com/kvolkov/hhnotify/internal/classify"
	"github.com/kvolkov/hhnotify/internal/database"
	"github.com/kvolkov/hhnotify/internal/handlers"
	"github.com/kvolkov/hhnotify/internal/hh"
	"github.com/kvolkov/hhnotify/internal/pipeline"
	"github.com/kvolkov/hhnotify/internal/services"
	"github.com/kvolkov/hhnotify/internal/telegram"
	"github.com/kvolkov/hhnotify/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("hhnotify-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	userSvc, err := services.NewUserService(db)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}
	notificationSvc, err := services.NewNotificationService(db)
	if err != nil {
		return fmt.Errorf("initialise notification service: %w", err)
	}
	requestLogSvc, err := services.NewRequestLogService(db)
	if err != nil {
		return fmt.Errorf("initialise request log service: %w", err)
	}
	eventLogSvc, err := services.NewEventLogService(db)
	if err != nil {
		return fmt.Errorf("initialise event log service: %w", err)
	}

	classifier := classify.New(cfg.Classifier.PhraseSets)

	hhClient, err := hh.NewClient(hh.Config{
		ClientID:     cfg.HH.ClientID,
		ClientSecret: cfg.HH.ClientSecret,
		UserAgent:    cfg.HH.UserAgent,
		RedirectURL:  cfg.Server.RedirectURL(),
		APIBaseURL:   cfg.HH.APIBaseURL,
		OAuthBaseURL: cfg.HH.OAuthBaseURL,
		Timeout:      cfg.HH.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise hh client: %w", err)
	}

	bot, err := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  cfg.Telegram.PollTimeout,
		AuthStartURL: strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/hh/auth/start",
	}, userSvc, requestLogSvc)
	if err != nil {
		return fmt.Errorf("initialise telegram bot: %w", err)
	}

	deliveryWorker, err := pipeline.NewDeliveryWorker(notificationSvc, bot,
		pipeline.WithDeliveryInterval(cfg.Pipeline.DeliveryInterval),
	)
	if err != nil {
		return fmt.Errorf("initialise delivery worker: %w", err)
	}

	poller, err := pipeline.NewPoller(userSvc, notificationSvc, hhClient, classifier,
		pipeline.WithPollInterval(cfg.Pipeline.PollInterval),
	)
	if err != nil {
		return fmt.Errorf("initialise poller: %w", err)
	}

	webhookHandler, err := handlers.NewWebhookHandler(db, eventLogSvc, classifier)
	if err != nil {
		return fmt.Errorf("initialise webhook handler: %w", err)
	}
	oauthHandler, err := handlers.NewOAuthHandler(userSvc, eventLogSvc, hhClient, cfg.Server.WebhookURL())
	if err != nil {
		return fmt.Errorf("initialise oauth handler: %w", err)
	}

	bot.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := bot.Stop(stopCtx); err != nil {
			log.Warn("telegram shutdown incomplete", zap.Error(err))
		}
	}()

	if err := deliveryWorker.Start(); err != nil {
		return fmt.Errorf("start delivery worker: %w", err)
	}
	defer func() {
		<-deliveryWorker.Stop().Done()
	}()

	if err := poller.Start(); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	defer func() {
		<-poller.Stop().Done()
	}()

	router := api.NewRouter(cfg, db, webhookHandler, oauthHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))),
	)
	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
