package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parley-im/parley/internal/api"
	"github.com/parley-im/parley/internal/auth"
	"github.com/parley-im/parley/internal/chat"
	"github.com/parley-im/parley/internal/config"
	"github.com/parley-im/parley/internal/fanout"
	"github.com/parley-im/parley/internal/hub"
	"github.com/parley-im/parley/internal/unread"
	"github.com/parley-im/parley/store/conversation"
	"github.com/parley-im/parley/store/message"
	"github.com/parley-im/parley/store/user"

	_ "github.com/lib/pq"
)

var configPath = flag.String("config", "configs/config.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("error closing db", "error", err)
		}
	}()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		// Don't refuse to start; the database may still be coming up.
		logger.Warn("database unreachable", "error", err)
	} else {
		logger.Info("connected to database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	userStore := user.NewSQLStore(db)
	conversationStore := conversation.NewSQLStore(db)
	messageStore := message.NewSQLStore(db)

	authenticator := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Validity)
	sessions := hub.New(logger, cfg.Hub.SessionQueueSize)
	counter := unread.NewCounter(rdb, conversationStore, messageStore, logger)
	notifier := fanout.New(sessions, counter, logger)
	defer notifier.Shutdown()

	service := chat.NewService(conversationStore, messageStore, counter, notifier, logger)
	server := api.NewServer(service, userStore, authenticator, authenticator, sessions, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Routes(),
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
