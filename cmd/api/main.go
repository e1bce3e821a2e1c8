package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/tandt717/aishin-visa-bot/internal/aifilter"
	"github.com/tandt717/aishin-visa-bot/internal/api"
	"github.com/tandt717/aishin-visa-bot/internal/collector"
	"github.com/tandt717/aishin-visa-bot/internal/config"
	"github.com/tandt717/aishin-visa-bot/internal/pipeline"
	"github.com/tandt717/aishin-visa-bot/internal/processor"
	"github.com/tandt717/aishin-visa-bot/internal/scheduler"
	"github.com/tandt717/aishin-visa-bot/internal/storage"
)

func main() {
	// 本地开发从 .env 读配置，线上直接注入环境变量
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// 配置不全也照常起服务，接口层会给出明确的 500，平台上好排查
		log.Printf("warn: %v", err)
	}

	store := storage.NewStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.RedisAddr)

	// 注册采集器：注册顺序即候选编号顺序，筛选的 index 映射依赖它
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

	// 进程内定时采集是可选的：没配 CRON_SPEC 就只靠外部打 /api/fetch
	if cfg.CronSpec != "" {
		s, err := scheduler.New(cfg.CronSpec, pipe)
		if err != nil {
			log.Fatalf("init scheduler failed: %v", err)
		}
		s.Start()
	}

	r := gin.Default()
	apiServer := api.NewServer(cfg, store, pipe)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.Printf("starting api server at %s ...", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}
