package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tandt717/aishin-visa-bot/internal/aifilter"
	"github.com/tandt717/aishin-visa-bot/internal/collector"
	"github.com/tandt717/aishin-visa-bot/internal/config"
	"github.com/tandt717/aishin-visa-bot/internal/pipeline"
	"github.com/tandt717/aishin-visa-bot/internal/processor"
	"github.com/tandt717/aishin-visa-bot/internal/storage"
)

func completeConfig() *config.Config {
	return &config.Config{
		SupabaseURL:  "https://example.supabase.co",
		SupabaseKey:  "service-key",
		GeminiAPIKey: "gemini-key",
	}
}

func newTestRouter(cfg *config.Config, store *storage.Store, pipe *pipeline.Pipeline) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewServer(cfg, store, pipe).RegisterRoutes(r)
	return r
}

func doRequest(r *gin.Engine, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v\n%s", err, w.Body.String())
	}
	return body
}

// newReadStoreServer 只伺候读查询的桩存储
func newReadStoreServer(t *testing.T, listQuery *string) *storage.Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("select") {
		case "*":
			if listQuery != nil {
				*listQuery = r.URL.RawQuery
			}
			if r.URL.Query().Get("source") == "eq.ghost" {
				fmt.Fprint(w, "[]")
				return
			}
			fmt.Fprint(w, `[
  {"id": 2, "title": "特定技能制度の運用要領を改正しました", "link": "https://example.go.jp/1", "date": "2024-03-05", "source": "isa", "summary": "運用要領の改正。", "relevance": "high", "category": "特定技能", "ai_filtered": true, "created_at": "2024-03-05T12:00:00+00:00"},
  {"id": 1, "title": "技能実習生の安全衛生に関する通知", "link": "https://example.go.jp/2", "date": "", "source": "otit", "summary": null, "relevance": "medium", "category": "労務・安全", "ai_filtered": true, "created_at": "2024-03-04T09:00:00+00:00"}
]`)
		case "id":
			if r.URL.Query().Get("source") == "eq.ghost" {
				w.Header().Set("Content-Range", "*/0")
			} else {
				w.Header().Set("Content-Range", "0-0/137")
			}
			fmt.Fprint(w, "[]")
		default:
			if r.URL.Query().Get("source") == "eq.ghost" {
				fmt.Fprint(w, "[]")
				return
			}
			fmt.Fprint(w, `[{"created_at": "2024-03-05T12:00:00+00:00"}]`)
		}
	}))
	t.Cleanup(srv.Close)
	return storage.NewStore(srv.URL, "service-key", "")
}

func TestListNews(t *testing.T) {
	var listQuery string
	store := newReadStoreServer(t, &listQuery)
	r := newTestRouter(completeConfig(), store, nil)

	w := doRequest(r, http.MethodGet, "/api/news?source=isa", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != newsCacheControl {
		t.Errorf("Cache-Control = %q", got)
	}

	body := decodeBody(t, w)
	articles, ok := body["articles"].([]any)
	if !ok || len(articles) != 2 {
		t.Fatalf("articles wrong: %v", body["articles"])
	}
	if body["totalCount"] != float64(137) {
		t.Errorf("totalCount = %v", body["totalCount"])
	}
	if body["lastUpdated"] != "2024-03-05T12:00:00+00:00" {
		t.Errorf("lastUpdated = %v", body["lastUpdated"])
	}
	if body["summary"] != "保存済み137件のうち2件を表示中（重要度「高」1件）。" {
		t.Errorf("summary = %v", body["summary"])
	}

	// 默认 limit=50，来源过滤传给了存储层
	if !strings.Contains(listQuery, "limit=50") || !strings.Contains(listQuery, "source=eq.isa") {
		t.Errorf("store query = %q", listQuery)
	}
}

func TestListNewsLimitClamp(t *testing.T) {
	var listQuery string
	store := newReadStoreServer(t, &listQuery)
	r := newTestRouter(completeConfig(), store, nil)

	// 超过上限的 limit 压到 100
	if w := doRequest(r, http.MethodGet, "/api/news?limit=500", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(listQuery, "limit=100") {
		t.Errorf("limit=500 should clamp to 100: %q", listQuery)
	}

	// 非法 limit 回落默认值
	if w := doRequest(r, http.MethodGet, "/api/news?limit=abc", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(listQuery, "limit=50") {
		t.Errorf("limit=abc should fall back to 50: %q", listQuery)
	}

	if w := doRequest(r, http.MethodGet, "/api/news?limit=-3", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(listQuery, "limit=50") {
		t.Errorf("limit=-3 should fall back to 50: %q", listQuery)
	}
}

func TestListNewsUnknownSource(t *testing.T) {
	store := newReadStoreServer(t, nil)
	r := newTestRouter(completeConfig(), store, nil)

	// 未知来源不报错，返回空列表
	w := doRequest(r, http.MethodGet, "/api/news?source=ghost", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	body := decodeBody(t, w)
	articles, ok := body["articles"].([]any)
	if !ok {
		t.Fatalf("articles should be an empty array, got %v", body["articles"])
	}
	if len(articles) != 0 {
		t.Fatalf("articles should be empty: %v", articles)
	}
	if body["totalCount"] != float64(0) {
		t.Errorf("totalCount = %v", body["totalCount"])
	}
	if body["lastUpdated"] != nil {
		t.Errorf("lastUpdated = %v", body["lastUpdated"])
	}
	if body["summary"] != "保存されたニュースはまだありません。" {
		t.Errorf("summary = %v", body["summary"])
	}
}

func TestListNewsMethodNotAllowed(t *testing.T) {
	store := newReadStoreServer(t, nil)
	r := newTestRouter(completeConfig(), store, nil)

	w := doRequest(r, http.MethodPost, "/api/news", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/news status = %d, want 405", w.Code)
	}
}

func TestListNewsConfigMissing(t *testing.T) {
	store := newReadStoreServer(t, nil)
	r := newTestRouter(&config.Config{}, store, nil)

	w := doRequest(r, http.MethodGet, "/api/news", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "config_missing" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestListNewsStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	store := storage.NewStore(srv.URL, "service-key", "")
	r := newTestRouter(completeConfig(), store, nil)

	w := doRequest(r, http.MethodGet, "/api/news", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "internal_error" {
		t.Errorf("code = %v", body["code"])
	}
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestFetchAuth(t *testing.T) {
	// 配置缺必需项：通过鉴权的请求会落到 500，被拒的是 401，两种码正好区分两条路径
	cfg := &config.Config{CronSecret: "topsecret"}
	r := newTestRouter(cfg, nil, nil)

	cases := []struct {
		name   string
		method string
		header http.Header
		want   int
	}{
		{"POST 不带凭证直接放行", http.MethodPost, nil, http.StatusInternalServerError},
		{"GET 带对的 Bearer 放行", http.MethodGet, bearer("topsecret"), http.StatusInternalServerError},
		{"GET 带错的 Bearer 拒绝", http.MethodGet, bearer("wrong"), http.StatusUnauthorized},
		{"GET 不带头拒绝", http.MethodGet, nil, http.StatusUnauthorized},
	}
	for _, c := range cases {
		if w := doRequest(r, c.method, "/api/fetch", c.header); w.Code != c.want {
			t.Errorf("%s: status = %d, want %d", c.name, w.Code, c.want)
		}
	}

	// 未配置 CRON_SECRET 时不校验，GET 也放行（落到配置缺失的 500）
	rOpen := newTestRouter(&config.Config{}, nil, nil)
	if w := doRequest(rOpen, http.MethodGet, "/api/fetch", nil); w.Code == http.StatusUnauthorized {
		t.Errorf("no secret configured: got 401, want pass-through")
	}
}

func TestFetchAndStore(t *testing.T) {
	srcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><li>2024年3月5日 <a href="/isa/news/notice_1.html">特定技能制度の運用要領の改正について</a></li></body></html>`)
	}))
	t.Cleanup(srcSrv.Close)

	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(storeSrv.Close)

	filter := aifilter.New("", "test-model")
	filter.Generate = func(ctx context.Context, prompt string) (string, error) {
		return `[{"index": 0, "title": "特定技能制度の運用要領の改正について", "summary": "改正の告知。", "relevance": "high", "category": "特定技能"}]`, nil
	}

	fetchers := []collector.Fetcher{&collector.ISAFetcher{URL: srcSrv.URL + "/isa/news/index.html"}}
	pipe := pipeline.New(fetchers, processor.NewNormalizer(), filter, storage.NewStore(storeSrv.URL, "service-key", ""))

	r := newTestRouter(completeConfig(), nil, pipe)

	w := doRequest(r, http.MethodPost, "/api/fetch", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["fetched"] != float64(1) || body["filtered"] != float64(1) || body["stored"] != float64(1) {
		t.Fatalf("counts wrong: %v", body)
	}
	if body["message"] != "Fetch and store completed" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestFetchAndStoreNoItems(t *testing.T) {
	emptySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body></body></html>")
	}))
	t.Cleanup(emptySrv.Close)

	filter := aifilter.New("", "test-model")
	filter.Generate = func(ctx context.Context, prompt string) (string, error) {
		t.Error("filter should not run")
		return "[]", nil
	}

	fetchers := []collector.Fetcher{&collector.ISAFetcher{URL: emptySrv.URL + "/isa/news/index.html"}}
	pipe := pipeline.New(fetchers, processor.NewNormalizer(), filter, storage.NewStore("http://127.0.0.1:1", "k", ""))

	r := newTestRouter(completeConfig(), nil, pipe)

	w := doRequest(r, http.MethodPost, "/api/fetch", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["message"] != "No items fetched" {
		t.Errorf("message = %v", body["message"])
	}
	if body["fetched"] != float64(0) || body["stored"] != float64(0) {
		t.Errorf("counts should be zero: %v", body)
	}
}
