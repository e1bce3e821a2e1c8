package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/tandt717/aishin-visa-bot/internal/aifilter"
	"github.com/tandt717/aishin-visa-bot/internal/collector"
	"github.com/tandt717/aishin-visa-bot/internal/config"
	"github.com/tandt717/aishin-visa-bot/internal/pipeline"
	"github.com/tandt717/aishin-visa-bot/internal/processor"
	"github.com/tandt717/aishin-visa-bot/internal/storage"
)

// 只执行一轮采集入库就退出的命令行入口，适合外部 cron 或手动触发
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	store := storage.NewStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.RedisAddr)

	// 注册采集器（与 cmd/api 保持一致）
	fetchers := []collector.Fetcher{
		&collector.MHLWFetcher{},
		&collector.ISAFetcher{},
		&collector.OTITFetcher{},
	}

	pipe := pipeline.New(
		fetchers,
		processor.NewNormalizer(),
		aifilter.New(cfg.GeminiAPIKey, cfg.GeminiModel),
		store,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	res := pipe.Run(ctx)
	log.Printf("collect finished: fetched=%d filtered=%d stored=%d", res.Fetched, res.Filtered, res.Stored)
}
