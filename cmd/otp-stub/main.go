// cmd/otp-stub/main.go
//
// Local verification backend for development. Codes are written to the
// log instead of being sent by SMS.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/borrowease-verify/internal/config"
	"github.com/kingrea/borrowease-verify/internal/logging"
	"github.com/kingrea/borrowease-verify/internal/stubserver"
)

func main() {
	homeDir := flag.String("home", "", "config directory (defaults to $BORROWEASE_HOME or ~/.borrowease)")
	flag.Parse()

	_ = godotenv.Load()

	home := *homeDir
	if home == "" {
		var err error
		home, err = config.ResolveHome()
		if err != nil {
			die("resolve home: %v", err)
		}
	}
	if err := config.InitHomeDir(home); err != nil {
		die("init %s: %v", home, err)
	}
	cfg, err := config.NewConfig(home)
	if err != nil {
		die("load config: %v", err)
	}

	logger, err := logging.New(cfg.StubLogPath(), os.Stderr)
	if err != nil {
		die("open log: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := stubserver.SettingsFromConfig(cfg)
	opts := []stubserver.Option{stubserver.WithLogger(logger.Logger)}
	if settings.Store == "redis" {
		client, err := stubserver.DialRedis(ctx, settings.RedisAddr)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		opts = append(opts, stubserver.WithStore(stubserver.NewRedisStore(client, nil)))
	}

	srv := stubserver.NewServer(settings, opts...)
	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start stub server")
	}
	logger.WithFields(logrus.Fields{
		"base_url": srv.BaseURL(),
		"store":    settings.Store,
	}).Info("Stub verification API ready")

	<-ctx.Done()
	logger.Info("Shutting down stub server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Stub server forced to shutdown")
	}
	logger.Info("Stub server exited")
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "otp-stub: "+format+"\n", args...)
	os.Exit(1)
}
