package processor

import (
	"strings"
	"unicode/utf8"

	"github.com/tandt717/aishin-visa-bot/internal/collector"
)

// Article 标准化后的单条候选，交给筛选层与存储层的统一结构
type Article struct {
	Title  string `json:"title"`
	Link   string `json:"link"`
	Date   string `json:"date"` // YYYY-MM-DD，规范化失败时为空串
	Source string `json:"source"`
}

// 标题长度界限：更短的是残缺抽取，更长的是整段正文误入
const (
	titleMinRunes = 4
	titleMaxRunes = 200
)

// Normalizer 做最基础的数据清洗与按链接去重
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize 清洗原始条目：标题修剪与长度约束、日期规范化、链接去重
// 不满足约束的条目直接丢弃，来源本就嘈杂，单条异常不应影响整批
func (n *Normalizer) Normalize(items []collector.RawItem) []Article {
	out := make([]Article, 0, len(items))
	seen := make(map[string]struct{})

	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		runes := utf8.RuneCountInString(title)
		if runes < titleMinRunes || runes > titleMaxRunes {
			continue
		}

		if it.Link != "" {
			if _, ok := seen[it.Link]; ok {
				continue
			}
			seen[it.Link] = struct{}{}
		}

		out = append(out, Article{
			Title:  title,
			Link:   it.Link,
			Date:   collector.NormalizeDate(it.RawDate),
			Source: it.Source,
		})
	}

	return out
}
