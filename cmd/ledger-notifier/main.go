package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dialysis-ledger/common/logger"
	"dialysis-ledger/common/mqtt"
	rediscommon "dialysis-ledger/common/redis"
	"dialysis-ledger/internal/config"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"
	"dialysis-ledger/internal/service"
	"dialysis-ledger/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "ledger-notifier")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// As a change handler the dashboard service only deletes cache keys, so it needs no record store.
	dashboard := service.NewDashboardService(
		repository.NewMemoryExchangeStore(),
		repository.NewMemoryIdentityRepository(),
		store.NewRedisKV(redisClient),
		cfg.DashboardCacheTTL(),
		service.NewClock(cfg.Location()),
		log,
	)

	handlers := notify.Handlers{dashboard}
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(&cfg.MQTT.MQTTConfig, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		}
		defer mqttClient.Disconnect()
		handlers = append(handlers, notify.NewMQTTFanout(mqttClient, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, log))
	}

	consumer := notify.NewConsumer(
		redisClient,
		handlers,
		log,
		cfg.Change.Stream,
		cfg.Change.ConsumerGroup,
		cfg.Change.ConsumerName,
		int64(cfg.Change.BatchSize),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		log.Fatal("Consumer error", zap.Error(err))
	}

	log.Info("Ledger notifier stopped")
}
