package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	server "github.com/signetd/signet/internal"
	"github.com/signetd/signet/internal/broker"
	"github.com/signetd/signet/internal/config"
	"github.com/signetd/signet/internal/eventbus"
	"github.com/signetd/signet/internal/gateway"
	"github.com/signetd/signet/internal/keyring"
	profilerepo "github.com/signetd/signet/internal/profile/repositoryimpl"
	"github.com/signetd/signet/internal/prompt"
	"github.com/signetd/signet/internal/pushnotification"
	pushsubrepo "github.com/signetd/signet/internal/pushsubscription/repositoryimpl"
	"github.com/signetd/signet/internal/signer"
	"github.com/signetd/signet/internal/website"
	websiterepo "github.com/signetd/signet/internal/website/repositoryimpl"
	"github.com/signetd/signet/pkg/clog"
	"github.com/signetd/signet/pkg/storage"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	websiteRepo := websiterepo.NewYAMLRepository(store)
	profileRepo := profilerepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	// Setup key handling and signing
	keys := keyring.New(profileRepo)
	if err := keys.Load(context.Background()); err != nil {
		slog.Warn("failed to load signing key", "error", err)
	}
	signService := signer.New(keys, profileRepo)

	// Setup push notification
	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := pushnotification.NewSender(vapidEnv, pushSubRepo)
	notifier := pushnotification.NewNotifier(profileRepo, pushSender)
	pushDispatcher := pushnotification.NewDispatcher(bus, pushSender)

	// Setup broker
	sites := website.NewStore(websiteRepo)
	surface := prompt.NewBusSurface(bus)
	brk := broker.New(sites, keys, signService, surface, notifier, bus)

	gw := gateway.NewServer(brk, websiteRepo, profileRepo, pushSubRepo, bus, vapidEnv)
	srv := server.NewServer(env, gw)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go pushDispatcher.Start(ctx)

	if ls, ok := store.(*storage.LocalStorage); ok {
		profilePath := filepath.Join(ls.BasePath(), profilerepo.ProfilePath)
		go func() {
			if err := keys.Watch(ctx, profilePath); err != nil && ctx.Err() == nil {
				slog.Warn("profile watcher stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give suspended requests and open streams time to unwind after their
	// contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
