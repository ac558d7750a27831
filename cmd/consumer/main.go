// Command consumer writes an audit log of link changes and click flushes
// published by resolver instances over Redis streams.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do"
	"github.com/serroba/shortlink/internal/container"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/messaging"
	"go.uber.org/zap"
)

func main() {
	opts := &container.Options{
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}

	injector := do.New()
	do.ProvideValue(injector, opts)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)

	logger := do.MustInvoke[*zap.Logger](injector)
	client := do.MustInvoke[*container.RedisClient](injector)

	// A shared group so that several audit consumers split the work.
	sub, err := container.NewRedisSubscriber(client.Client, getEnv("CONSUMER_GROUP", "audit"), logger)
	if err != nil {
		logger.Fatal("failed to create subscriber", zap.Error(err))
	}

	group := messaging.NewConsumerGroup(sub, logger)
	group.Add(messaging.NewConsumer(sub, events.TopicLinkChanged, events.LinkAuditHandler(logger), logger))
	group.Add(messaging.NewConsumer(sub, events.TopicClicksFlushed, events.ClickAuditHandler(logger), logger))

	ctx, cancel := context.WithCancel(context.Background())

	if err := group.Start(ctx); err != nil {
		logger.Fatal("failed to start consumer group", zap.Error(err))
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	if err := group.Shutdown(); err != nil {
		logger.Error("consumer shutdown error", zap.Error(err))
	}

	if err := injector.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return defaultValue
}
