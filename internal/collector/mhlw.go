package collector

import (
	"context"
	"fmt"
	"html"
	"log"
	"regexp"
	"strings"
)

const (
	// mhlwFeedURL 厚労省新着情報的官方 RSS（RDF 格式）
	mhlwFeedURL  = "https://www.mhlw.go.jp/stf/news.rdf"
	mhlwMaxItems = 25
	// feedTitleMaxRunes 超长"标题"基本是页面模板漏进来的正文，直接跳过
	feedTitleMaxRunes = 200
)

// MHLWFetcher 抓取厚生労働省の新着情報フィード
type MHLWFetcher struct {
	URL string // 为空时使用官方地址
}

func (f *MHLWFetcher) Name() string {
	return "mhlw_feed"
}

func (f *MHLWFetcher) Fetch(ctx context.Context) ([]RawItem, error) {
	log.Println("fetch MHLW feed...")

	feedURL := f.URL
	if feedURL == "" {
		feedURL = mhlwFeedURL
	}

	body, err := fetchBody(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("mhlw feed: %w", err)
	}

	items := ParseFeedItems(body)
	log.Printf("fetch MHLW feed done, %d items", len(items))
	return items, nil
}

var (
	feedItemPattern = regexp.MustCompile(`(?s)<item[\s>].*?</item>`)
	// 官方 RSS 偶有未转义字符，不走完整 XML 解析，按标签宽松截取
	feedTitlePattern   = regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`)
	feedLinkPattern    = regexp.MustCompile(`(?s)<link[^>]*>(.*?)</link>`)
	feedDatePattern    = regexp.MustCompile(`(?s)<dc:date[^>]*>(.*?)</dc:date>`)
	feedPubDatePattern = regexp.MustCompile(`(?s)<pubDate[^>]*>(.*?)</pubDate>`)
)

// ParseFeedItems 从 RSS/RDF 文本中逐条截取 item 并抽出标题、链接、日期
// 缺标题的条目跳过，单条异常不影响其余条目，完全没有 item 时返回空列表
func ParseFeedItems(body string) []RawItem {
	records := feedItemPattern.FindAllString(body, -1)

	items := make([]RawItem, 0, len(records))
	seen := make(map[string]bool)
	for _, rec := range records {
		if len(items) >= mhlwMaxItems {
			break
		}

		title := cleanFeedField(matchGroup(feedTitlePattern, rec))
		if title == "" || len([]rune(title)) > feedTitleMaxRunes {
			continue
		}

		link := cleanFeedField(matchGroup(feedLinkPattern, rec))
		if link != "" && seen[link] {
			continue
		}

		rawDate := cleanFeedField(matchGroup(feedDatePattern, rec))
		if rawDate == "" {
			rawDate = cleanFeedField(matchGroup(feedPubDatePattern, rec))
		}

		if link != "" {
			seen[link] = true
		}
		items = append(items, RawItem{
			Title:   title,
			Link:    link,
			RawDate: rawDate,
			Source:  SourceMHLW,
		})
	}
	return items
}

func matchGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// cleanFeedField 去掉 CDATA 包装、HTML 实体与首尾空白
func cleanFeedField(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<![CDATA[")
	s = strings.TrimSuffix(s, "]]>")
	return strings.TrimSpace(html.UnescapeString(s))
}
