package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 各来源的标识，同时也是存储层 source 列与读取 API source 参数的取值
const (
	SourceMHLW = "mhlw" // 厚生労働省 新着情報
	SourceISA  = "isa"  // 出入国在留管理庁 新着情報
	SourceOTIT = "otit" // 外国人技能実習機構 お知らせ
)

// RawItem 抽取器产出的单条原始条目，未做清洗
type RawItem struct {
	Title   string // 原始标题文本
	Link    string // 绝对 URL
	RawDate string // 页面上的日期原文，可能为空
	Source  string // Source* 常量之一
}

// Fetcher 抽象每一个信息源
// 官方站点的页面结构差别很大，抓取与抽取策略按源各自实现
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]RawItem, error)
}

const (
	// fetchTimeout 单次抓取的超时上限
	fetchTimeout = 10 * time.Second
	// maxBodyBytes 响应体读取上限，防止异常页面撑爆内存
	maxBodyBytes = 2 << 20
	// userAgent 部分官方站点对空 UA 不友好，带上可识别的自定义 UA
	userAgent = "AishinVisaBot/1.0 (+https://github.com/tandt717/aishin-visa-bot)"
)

// fetchBody 发起一次 GET 并读回文本，非 200 视为失败，不做重试
func fetchBody(ctx context.Context, rawURL string) (string, error) {
	client := &http.Client{Timeout: fetchTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "ja,en;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
