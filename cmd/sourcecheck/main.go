package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tandt717/aishin-visa-bot/internal/collector"
)

// 诊断工具：逐源抓取并打印抽取结果，官方页面改版后用它确认抽取器是否漂移
// 用法: sourcecheck [-source mhlw|isa|otit|all]
func main() {
	source := flag.String("source", "all", "检查的来源: mhlw / isa / otit / all")
	flag.Parse()

	all := []collector.Fetcher{
		&collector.MHLWFetcher{},
		&collector.ISAFetcher{},
		&collector.OTITFetcher{},
	}

	var fetchers []collector.Fetcher
	for _, f := range all {
		if *source == "all" || strings.HasPrefix(f.Name(), *source) {
			fetchers = append(fetchers, f)
		}
	}
	if len(fetchers) == 0 {
		fmt.Fprintf(os.Stderr, "unknown source %q\n", *source)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed := false
	for _, f := range fetchers {
		items, err := f.Fetch(ctx)
		if err != nil {
			fmt.Printf("%s: fetch error: %v\n", f.Name(), err)
			failed = true
			continue
		}

		fmt.Printf("%s: %d items\n", f.Name(), len(items))
		for i, it := range items {
			// 日期能规范化就打规范化结果，不能就打页面原文，便于核对
			fmt.Printf("  %2d. %-10s  %s\n      %s\n", i+1, collector.DisplayDate(it.RawDate), it.Title, it.Link)
		}
	}

	if failed {
		os.Exit(1)
	}
}
