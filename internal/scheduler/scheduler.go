package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tandt717/aishin-visa-bot/internal/pipeline"
)

// jobTimeout 单轮批次的总时限：三个来源并发抓取 + 一次模型调用 + 一次落库
const jobTimeout = 3 * time.Minute

// Scheduler 按 cron 表达式定期跑采集批次
// 部署在常驻进程里时用；Serverless 场景直接打 /api/fetch 即可，不启用这里
type Scheduler struct {
	cron *cron.Cron
	pipe *pipeline.Pipeline
	spec string
}

func New(spec string, pipe *pipeline.Pipeline) (*Scheduler, error) {
	c := cron.New()

	s := &Scheduler{
		cron: c,
		pipe: pipe,
		spec: spec,
	}

	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("scheduler started, spec=%q", s.spec)

	// 延迟执行首轮采集，避免与启动期的首批请求争抢资源
	const startupDelay = 15 * time.Second
	time.AfterFunc(startupDelay, func() {
		go s.runOnce()
	})
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.pipe.Run(ctx)
}
