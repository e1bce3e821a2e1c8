package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tandt717/aishin-visa-bot/internal/aifilter"
)

// StoredArticle 读回来的持久化记录，id 与 created_at 由存储侧生成
type StoredArticle struct {
	ID int64 `json:"id"`
	aifilter.FilteredArticle
	CreatedAt string `json:"created_at"`
}

// NewsPage 读取 API 一次响应所需的全部数据，整页作为缓存单元
type NewsPage struct {
	Articles    []StoredArticle `json:"articles"`
	TotalCount  int             `json:"totalCount"`
	LastUpdated *string         `json:"lastUpdated"`
}

const (
	articlesTable = "articles"
	// conflictKey 去重的自然键：同一来源下链接唯一
	conflictKey = "source,link"

	storeTimeout      = 10 * time.Second
	maxStoreRespBytes = 1 << 20
	maxErrDetailBytes = 4096

	// pageCacheTTL 读侧页面缓存
	// 官方新着一天更新不了几次，一分钟内的重复请求直接吃缓存
	pageCacheTTL = time.Minute
)

// Store 通过 PostgREST 风格的 REST 端点读写文章表
// 数据库本体托管在外部（Supabase），这里只是 HTTP 客户端加一层 Redis 读缓存
type Store struct {
	baseURL string
	apiKey  string
	client  *http.Client
	Redis   *redis.Client
}

// NewStore 构造存储客户端
// redisAddr 为空时不启用缓存；Redis 连不上只降级告警，不影响主链路
func NewStore(baseURL, apiKey, redisAddr string) *Store {
	s := &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: storeTimeout},
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("warn: redis ping failed: %v", err)
		}
		s.Redis = rdb
	}

	return s
}

func (s *Store) restURL(query string) string {
	return s.baseURL + "/rest/v1/" + articlesTable + "?" + query
}

// newRequest 统一带上服务密钥，读写都走同一对头
func (s *Store) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	return req, nil
}

// InsertArticles 批量写入筛选后的文章，返回提交条数
// 与既有记录按 (source, link) 冲突的行由存储侧静默跳过，重复抓取不报错
// 空列表直接返回 0，不发请求
func (s *Store) InsertArticles(ctx context.Context, articles []aifilter.FilteredArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(articles)
	if err != nil {
		return 0, fmt.Errorf("marshal articles: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, s.restURL("on_conflict="+conflictKey), bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=ignore-duplicates,return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("insert articles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("insert articles: status %d: %s", resp.StatusCode, readErrDetail(resp.Body))
	}

	// 写入后不做缓存失效，靠短 TTL 自然过期，读侧最多滞后一分钟
	return len(articles), nil
}

// FetchNewsPage 取一页文章以及总数、最近入库时间
// 文章查询失败直接报错；总数与最近时间是辅助信息，失败时记告警并用兜底值
func (s *Store) FetchNewsPage(ctx context.Context, source string, limit int) (*NewsPage, error) {
	cacheKey := fmt.Sprintf("news:page:%s:%d", source, limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached NewsPage
			if err := json.Unmarshal(bs, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	filter := ""
	if source != "" && source != "all" {
		filter = "&source=eq." + url.QueryEscape(source)
	}

	articles, err := s.listArticles(ctx, filter, limit)
	if err != nil {
		return nil, err
	}

	total, err := s.countArticles(ctx, filter)
	if err != nil {
		log.Printf("warn: count articles failed: %v", err)
		total = len(articles)
	}

	lastUpdated, err := s.latestCreatedAt(ctx, filter)
	if err != nil {
		log.Printf("warn: latest created_at failed: %v", err)
		lastUpdated = nil
	}

	page := &NewsPage{Articles: articles, TotalCount: total, LastUpdated: lastUpdated}

	if s.Redis != nil && len(articles) > 0 {
		if bs, err := json.Marshal(page); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, pageCacheTTL).Err()
		}
	}

	return page, nil
}

func (s *Store) listArticles(ctx context.Context, filter string, limit int) ([]StoredArticle, error) {
	query := fmt.Sprintf("select=*&order=created_at.desc&limit=%d%s", limit, filter)
	req, err := s.newRequest(ctx, http.MethodGet, s.restURL(query), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list articles: status %d: %s", resp.StatusCode, readErrDetail(resp.Body))
	}

	var articles []StoredArticle
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStoreRespBytes)).Decode(&articles); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	if articles == nil {
		articles = []StoredArticle{}
	}
	return articles, nil
}

// countArticles 零宽 Range 查询：只要 Content-Range 头里的总数，不取行数据
func (s *Store) countArticles(ctx context.Context, filter string) (int, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.restURL("select=id"+filter), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Prefer", "count=exact")
	req.Header.Set("Range-Unit", "items")
	req.Header.Set("Range", "0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxStoreRespBytes))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("count articles: status %d", resp.StatusCode)
	}

	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

// parseContentRangeTotal 解析 "0-0/137"、"*/0" 这类 Content-Range 值的总数部分
func parseContentRangeTotal(cr string) (int, error) {
	idx := strings.LastIndex(cr, "/")
	if idx == -1 {
		return 0, fmt.Errorf("unexpected Content-Range %q", cr)
	}
	totalPart := cr[idx+1:]
	if totalPart == "*" {
		return 0, fmt.Errorf("Content-Range %q carries no exact count", cr)
	}
	total, err := strconv.Atoi(totalPart)
	if err != nil {
		return 0, fmt.Errorf("parse Content-Range %q: %w", cr, err)
	}
	return total, nil
}

// latestCreatedAt 最近一条入库时间，表为空时返回 nil
func (s *Store) latestCreatedAt(ctx context.Context, filter string) (*string, error) {
	query := "select=created_at&order=created_at.desc&limit=1" + filter
	req, err := s.newRequest(ctx, http.MethodGet, s.restURL(query), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("latest created_at: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("latest created_at: status %d", resp.StatusCode)
	}

	var rows []struct {
		CreatedAt string `json:"created_at"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStoreRespBytes)).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if len(rows) == 0 || rows[0].CreatedAt == "" {
		return nil, nil
	}
	return &rows[0].CreatedAt, nil
}

func readErrDetail(r io.Reader) string {
	detail, _ := io.ReadAll(io.LimitReader(r, maxErrDetailBytes))
	return strings.TrimSpace(string(detail))
}
