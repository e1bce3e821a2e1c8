package collector

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/url"
	"regexp"
	"strings"
)

const (
	// isaNewsURL 入管庁（出入国在留管理庁）新着情報一覧
	isaNewsURL  = "https://www.moj.go.jp/isa/news/index.html"
	isaMaxItems = 20

	// 标题长度界限：太短的是"一覧""PDF"这类导航词，太长的是整段正文
	linkTitleMinRunes = 6
	linkTitleMaxRunes = 150

	// 发布日期从锚点前方的正文里找，窗口取固定长度
	dateWindowRunes = 160
	dateWindowBytes = 640
)

// ISAFetcher 抓取入管庁新着情報一覧
// 页面没有 feed，直接在 HTML 文本上做锚点扫描，容忍结构漂移
type ISAFetcher struct {
	URL string // 为空时使用官方地址
}

func (f *ISAFetcher) Name() string {
	return "isa_news"
}

func (f *ISAFetcher) Fetch(ctx context.Context) ([]RawItem, error) {
	log.Println("fetch ISA news page...")

	pageURL := f.URL
	if pageURL == "" {
		pageURL = isaNewsURL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("isa news: parse url: %w", err)
	}

	body, err := fetchBody(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("isa news: %w", err)
	}

	items := ExtractNewsLinks(body, linkPolicy{
		base:     base,
		source:   SourceISA,
		maxItems: isaMaxItems,
		include:  isaIncludePath,
	})
	log.Printf("fetch ISA news done, %d items", len(items))
	return items, nil
}

// isaIncludePath 只收 /isa/ 下的具体页面，站内其他栏目和栏目根都是导航
func isaIncludePath(path string) bool {
	return strings.Contains(path, "/isa/") && !strings.HasSuffix(path, "/isa/")
}

// linkPolicy HTML 链接扫描的按源参数：站点不同，收录判定不同
type linkPolicy struct {
	base     *url.URL
	source   string
	maxItems int
	include  func(path string) bool
}

var (
	anchorPattern = regexp.MustCompile(`(?is)<a\s[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// ExtractNewsLinks 在原始 HTML 上扫描 <a> 标签抽出新着条目
// 导航、页脚等噪声靠标题长度与路径判定排除，页面结构变化时宁可漏抓不误抓
// 日期取锚点前方固定窗口内最近的日期形态，找不到就留空
func ExtractNewsLinks(body string, p linkPolicy) []RawItem {
	items := make([]RawItem, 0, p.maxItems)
	seen := make(map[string]bool)
	selfURL := p.base.String()

	for _, m := range anchorPattern.FindAllStringSubmatchIndex(body, -1) {
		if len(items) >= p.maxItems {
			break
		}

		href := strings.TrimSpace(html.UnescapeString(body[m[2]:m[3]]))
		inner := body[m[4]:m[5]]

		title := collapseSpace(html.UnescapeString(stripTags(inner)))
		runes := len([]rune(title))
		if runes < linkTitleMinRunes || runes > linkTitleMaxRunes {
			continue
		}

		link := absolutizeLink(p.base, href)
		if link == "" || link == selfURL || seen[link] {
			continue
		}
		u, err := url.Parse(link)
		if err != nil || !p.include(u.Path) {
			continue
		}

		seen[link] = true
		items = append(items, RawItem{
			Title:   title,
			Link:    link,
			RawDate: precedingDate(body, m[0]),
			Source:  p.source,
		})
	}
	return items
}

// precedingDate 从锚点起始位置向前取一段正文（剥掉标签），在里面找日期
func precedingDate(body string, anchorStart int) string {
	start := anchorStart - dateWindowBytes
	if start < 0 {
		start = 0
	}
	window := stripTags(body[start:anchorStart])
	if rs := []rune(window); len(rs) > dateWindowRunes {
		window = string(rs[len(rs)-dateWindowRunes:])
	}
	return FindDate(window)
}

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, " ")
}

// collapseSpace 多行锚点与嵌套标签会留下成串空白，折叠成单个空格
func collapseSpace(s string) string {
	return spacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
}

// absolutizeLink 把相对链接归一化为绝对 URL
// 锚点、javascript:、mailto: 这类非页面链接返回空串
func absolutizeLink(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "", "http", "https":
	default:
		return ""
	}
	abs := base.ResolveReference(u)
	abs.Fragment = ""
	return abs.String()
}
