package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/inkdeck/inkdeck/api"
	"github.com/inkdeck/inkdeck/cache/redis"
	"github.com/inkdeck/inkdeck/config"
	"github.com/inkdeck/inkdeck/mq/sqsmq"
	"github.com/inkdeck/inkdeck/store/dynamo"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pageStore, err := dynamo.NewDynamoPageStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	thumbnailQueue, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.ThumbnailQueue)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	pageCache, err := redis.NewRedisPageCache(ctx, cfg.DevMode, cfg.RedisEndpoint)
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	syncAPI := api.NewSyncAPI(pageStore, pageCache, thumbnailQueue, cfg.JWTSecret, shutdownCtx)

	mux := http.NewServeMux()
	syncAPI.RegisterRoutes(mux, cfg.AllowedOrigin)

	log.Printf("Starting sync server on host port: %s\n", cfg.HostPort)
	log.Fatal(http.ListenAndServe(":"+cfg.HostPort, mux))
}
