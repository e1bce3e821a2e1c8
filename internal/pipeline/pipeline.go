package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/tandt717/aishin-visa-bot/internal/aifilter"
	"github.com/tandt717/aishin-visa-bot/internal/collector"
	"github.com/tandt717/aishin-visa-bot/internal/processor"
	"github.com/tandt717/aishin-visa-bot/internal/storage"
)

// Result 一轮采集批次的汇总计数，原样回给触发方
type Result struct {
	Fetched  int `json:"fetched"`
	Filtered int `json:"filtered"`
	Stored   int `json:"stored"`
}

// Pipeline 串起一轮完整批次：并发抓取 → 清洗 → 相关性筛选 → 落库
type Pipeline struct {
	fetchers   []collector.Fetcher
	normalizer *processor.Normalizer
	filter     *aifilter.Filter
	store      *storage.Store
}

func New(fetchers []collector.Fetcher, n *processor.Normalizer, f *aifilter.Filter, store *storage.Store) *Pipeline {
	return &Pipeline{
		fetchers:   fetchers,
		normalizer: n,
		filter:     f,
		store:      store,
	}
}

// Run 执行一轮批次并返回计数
// 单个来源失败按空贡献吸收，筛选层自带退化，落库失败吸收为 stored=0，
// 整轮永远跑到底，不把局部故障放大成整批失败
func (p *Pipeline) Run(ctx context.Context) Result {
	log.Println("start collect job...")

	// 每个来源写自己的槽位，最后按注册顺序拼接
	// 筛选结果用 index 映射回候选，顺序必须与并发调度无关
	lists := make([][]collector.RawItem, len(p.fetchers))

	var wg sync.WaitGroup
	for i, f := range p.fetchers {
		slot, fetcher := i, f
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fetcher.Name()
			log.Printf("fetch from %s...", name)
			items, err := fetcher.Fetch(ctx)
			if err != nil {
				log.Printf("fetch %s error: %v", name, err)
				return
			}
			if len(items) == 0 {
				log.Printf("fetch %s got 0 items", name)
				return
			}
			lists[slot] = items
		}()
	}
	wg.Wait()

	var raw []collector.RawItem
	for _, l := range lists {
		raw = append(raw, l...)
	}

	candidates := p.normalizer.Normalize(raw)
	if len(candidates) == 0 {
		log.Println("collect job done, no items fetched")
		return Result{}
	}

	filtered := p.filter.Filter(ctx, candidates)

	stored, err := p.store.InsertArticles(ctx, filtered)
	if err != nil {
		log.Printf("save batch error: %v", err)
		stored = 0
	}

	res := Result{Fetched: len(candidates), Filtered: len(filtered), Stored: stored}
	log.Printf("collect job done, fetched=%d filtered=%d stored=%d", res.Fetched, res.Filtered, res.Stored)
	return res
}
