package collector

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/gocolly/colly/v2"
)

const (
	// otitNewsURL 外国人技能実習機構（OTIT）お知らせ一覧
	otitNewsURL  = "https://www.otit.go.jp/news/"
	otitMaxItems = 20
)

// OTITFetcher 抓取 OTIT お知らせ一覧
// 这个站点列表结构相对规整，用 colly 走 DOM 解析，日期从同一行要素的文本里拾取
type OTITFetcher struct {
	URL string // 为空时使用官方地址
}

func (f *OTITFetcher) Name() string {
	return "otit_news"
}

func (f *OTITFetcher) Fetch(ctx context.Context) ([]RawItem, error) {
	log.Println("fetch OTIT news page...")

	pageURL := f.URL
	if pageURL == "" {
		pageURL = otitNewsURL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("otit news: parse url: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
	)
	c.SetRequestTimeout(fetchTimeout)

	items := make([]RawItem, 0, otitMaxItems)
	seen := make(map[string]bool)

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(items) >= otitMaxItems {
			return
		}

		title := collapseSpace(e.Text)
		runes := len([]rune(title))
		if runes < linkTitleMinRunes || runes > linkTitleMaxRunes {
			return
		}

		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || link == pageURL || seen[link] {
			return
		}
		u, err := url.Parse(link)
		if err != nil || u.Host != base.Host || !otitIncludePath(u.Path) {
			return
		}

		// 发布日期通常写在同一行要素里，锚点自身文本没有就向上看一层
		rawDate := FindDate(e.DOM.Parent().Text())
		if rawDate == "" {
			rawDate = FindDate(e.DOM.Parent().Parent().Text())
		}

		seen[link] = true
		items = append(items, RawItem{
			Title:   title,
			Link:    link,
			RawDate: rawDate,
			Source:  SourceOTIT,
		})
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("otit news: %w", err)
	}

	log.Printf("fetch OTIT news done, %d items", len(items))
	return items, nil
}

// otitIncludePath 只收 /news/ 下的具体公告，一覧根目录本身不算
func otitIncludePath(path string) bool {
	return strings.HasPrefix(path, "/news/") && path != "/news/"
}
