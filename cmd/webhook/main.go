package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/peergate/peergate/pkg/approval"
	"github.com/peergate/peergate/pkg/audit"
	"github.com/peergate/peergate/pkg/checks"
	"github.com/peergate/peergate/pkg/dispatch"
	"github.com/peergate/peergate/pkg/ledger"
	"github.com/peergate/peergate/pkg/logrusutil"
	"github.com/peergate/peergate/pkg/options"
	"github.com/peergate/peergate/pkg/scmprovider"
	"github.com/peergate/peergate/pkg/store"
	"github.com/peergate/peergate/pkg/webhook"
)

func main() {
	logrusutil.ComponentInit("webhook")

	opts, err := options.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load options.")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to redis.")
	}

	st, err := store.NewRedisStore(rdb)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create store.")
	}

	factory := &scmprovider.ClientFactory{
		Kind:          opts.GitKind,
		ServerURL:     opts.GitServer,
		Bot:           opts.BotName,
		MaxRetryDelay: opts.MaxRetryDelay,
	}

	engine := approval.NewEngine(
		factory,
		ledger.New(st),
		st,
		audit.NewRedisSink(rdb, opts.AuditStream),
		opts.StatusContext,
	)
	dispatcher := dispatch.New(checks.NewRegistry(engine), st, factory)

	controller, err := webhook.NewController(dispatcher, opts.GitKind, opts.GitServer, opts.HMACToken, opts.WebhookPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create webhook controller.")
	}

	server := &http.Server{
		Addr:    opts.ListenAddr,
		Handler: controller.Mux(),
	}

	go func() {
		logrus.WithField("addr", opts.ListenAddr).Info("Listening for webhooks.")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Webhook server failed.")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logrus.Info("Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Failed to shut down server cleanly.")
	}
	controller.Wait()
}
