package aifilter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"

	"github.com/tandt717/aishin-visa-bot/internal/collector"
	"github.com/tandt717/aishin-visa-bot/internal/processor"
)

// 筛选结果的重要度档位
const (
	RelevanceHigh   = "high"
	RelevanceMedium = "medium"
)

// DefaultCategory 模型没给出或给出未知分类时的兜底
const DefaultCategory = "その他"

// Categories 固定的分类清单，提示词与校验共用
var Categories = []string{"在留資格", "技能実習", "特定技能", "労務・安全", "助成金", "その他"}

const (
	// fallbackMaxItems 筛选退化时保留的候选条数上限
	fallbackMaxItems = 15
	// geminiTemperature 筛选要的是稳定判断，不要发散
	geminiTemperature = 0.1
)

// FilteredArticle 筛选后的最终落库结构
// ai_filtered=false 表示这批结果是退化兜底，没有经过模型判断
type FilteredArticle struct {
	processor.Article
	Summary    string `json:"summary,omitempty"`
	Relevance  string `json:"relevance"`
	Category   string `json:"category"`
	AIFiltered bool   `json:"ai_filtered"`
}

// Filter 调用生成式模型做相关性筛选
// 任何失败（网络、配额、响应不可解析）都退化为"未筛选前缀 + 默认元数据"，绝不让整批流水线失败
type Filter struct {
	APIKey string
	Model  string

	// Generate 可注入的生成调用，测试用；为 nil 时走 Gemini
	Generate func(ctx context.Context, prompt string) (string, error)
}

func New(apiKey, model string) *Filter {
	return &Filter{APIKey: apiKey, Model: model}
}

// Filter 对标准化后的候选做相关性筛选，返回带元数据的结果
// 入参为空时直接返回空，不发起模型调用
func (f *Filter) Filter(ctx context.Context, items []processor.Article) []FilteredArticle {
	if len(items) == 0 {
		return nil
	}

	selected, err := f.filterWithModel(ctx, items)
	if err != nil {
		log.Printf("ai filter failed, fall back to unfiltered prefix: %v", err)
		return fallbackArticles(items)
	}
	log.Printf("ai filter done: %d of %d selected", len(selected), len(items))
	return selected
}

// selection 模型应答里的单个选择项
// index 用指针区分"没给"与 0，缺 index 或缺标题的条目按排除处理
type selection struct {
	Index     *int   `json:"index"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Relevance string `json:"relevance"`
	Category  string `json:"category"`
}

func (f *Filter) filterWithModel(ctx context.Context, items []processor.Article) ([]FilteredArticle, error) {
	gen := f.Generate
	if gen == nil {
		gen = f.generateGemini
	}

	text, err := gen(ctx, buildPrompt(items))
	if err != nil {
		return nil, err
	}

	arr := extractJSONArray(text)
	if arr == "" {
		return nil, fmt.Errorf("no JSON array in model response")
	}

	var sels []selection
	if err := json.Unmarshal([]byte(arr), &sels); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	out := make([]FilteredArticle, 0, len(sels))
	for _, s := range sels {
		if s.Index == nil || strings.TrimSpace(s.Title) == "" {
			continue
		}
		i := *s.Index
		// 越界索引是模型幻觉，静默丢弃
		if i < 0 || i >= len(items) {
			continue
		}

		relevance := s.Relevance
		if relevance != RelevanceHigh {
			relevance = RelevanceMedium
		}
		category := s.Category
		if !validCategory(category) {
			category = DefaultCategory
		}

		out = append(out, FilteredArticle{
			Article:    items[i],
			Summary:    strings.TrimSpace(s.Summary),
			Relevance:  relevance,
			Category:   category,
			AIFiltered: true,
		})
	}
	return out, nil
}

// generateGemini 单次文本生成调用，低温度
func (f *Filter) generateGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  f.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create gemini client: %w", err)
	}

	temperature := float32(geminiTemperature)
	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}, Role: "user"},
	}
	resp, err := client.Models.GenerateContent(ctx, f.Model, contents, &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// fallbackArticles 筛选失败时的退化结果：取前若干条并标记未经模型筛选
// 宁可多存几条待人工甄别，也不能让当天的新着整批丢失
func fallbackArticles(items []processor.Article) []FilteredArticle {
	n := len(items)
	if n > fallbackMaxItems {
		n = fallbackMaxItems
	}

	out := make([]FilteredArticle, 0, n)
	for _, it := range items[:n] {
		out = append(out, FilteredArticle{
			Article:    it,
			Relevance:  RelevanceMedium,
			Category:   DefaultCategory,
			AIFiltered: false,
		})
	}
	return out
}

// extractJSONArray 截取第一个 '[' 到最后一个 ']' 的片段
// 模型时常把 JSON 包进说明文字或 markdown 代码块里，不能按纯 JSON 解
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}

func validCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// buildPrompt 拼提示词：筛选标准与输出格式在前，候选列表带编号跟在后面
func buildPrompt(items []processor.Article) string {
	var b strings.Builder
	b.WriteString(instructionPrompt)
	for i, it := range items {
		if it.Date != "" {
			fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", i, sourceLabel(it.Source), it.Title, it.Date)
		} else {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i, sourceLabel(it.Source), it.Title)
		}
	}
	return b.String()
}

const instructionPrompt = `あなたは外国人労働者を雇用する企業の労務担当者向けに、官公庁の新着情報を選別するアシスタントです。
以下のニュース一覧から、外国人雇用（技能実習、特定技能、在留資格、入管手続、労務管理、助成金など）に関係する項目だけを選んでください。

選定基準:
- 在留資格・ビザ・入管手続の制度変更や運用変更
- 技能実習制度・特定技能制度・育成就労制度に関する告知
- 外国人労働者の労務管理、安全衛生、賃金に関する通知
- 雇用関係の助成金・支援策
- 単なるイベント告知、統計の定期公表、調達・採用情報は除外

出力は JSON 配列のみとし、説明文は付けないでください。各要素の形式:
{"index": 候補番号, "title": "元のタイトル", "summary": "50字以内の日本語要約", "relevance": "high" または "medium", "category": "在留資格" / "技能実習" / "特定技能" / "労務・安全" / "助成金" / "その他"}

候補一覧:
`

// sourceLabel 提示词里用的来源短名
func sourceLabel(source string) string {
	switch source {
	case collector.SourceMHLW:
		return "厚労省"
	case collector.SourceISA:
		return "入管庁"
	case collector.SourceOTIT:
		return "OTIT"
	default:
		return source
	}
}
