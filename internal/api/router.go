package api

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tandt717/aishin-visa-bot/internal/aifilter"
	"github.com/tandt717/aishin-visa-bot/internal/config"
	"github.com/tandt717/aishin-visa-bot/internal/pipeline"
	"github.com/tandt717/aishin-visa-bot/internal/storage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100

	// 读接口允许浏览器与 CDN 缓存一分钟，过期后五分钟内可先用旧值再回源
	newsCacheControl = "public, max-age=60, stale-while-revalidate=300"
)

type Server struct {
	cfg   *config.Config
	store *storage.Store
	pipe  *pipeline.Pipeline
}

func NewServer(cfg *config.Config, store *storage.Store, pipe *pipeline.Pipeline) *Server {
	return &Server{cfg: cfg, store: store, pipe: pipe}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	// 只注册了 GET 的路径收到其他方法时要回 405 而不是 404
	r.HandleMethodNotAllowed = true

	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.GET("/news", s.listNews)
		// 定时触发方（外部 cron、平台调度器）用什么方法的都有，全收
		api.Any("/fetch", s.fetchAndStore)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listNews 读取已存文章：?source=mhlw|isa|otit|all&limit=N
func (s *Server) listNews(c *gin.Context) {
	if err := s.cfg.Validate(); err != nil {
		log.Printf("config error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "config_missing",
			"message": "server configuration missing",
		})
		return
	}

	source := c.DefaultQuery("source", "all")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	page, err := s.store.FetchNewsPage(c.Request.Context(), source, limit)
	if err != nil {
		log.Printf("fetch news page error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.Header("Cache-Control", newsCacheControl)
	c.JSON(http.StatusOK, gin.H{
		"articles":    page.Articles,
		"summary":     buildSummary(page),
		"totalCount":  page.TotalCount,
		"lastUpdated": page.LastUpdated,
	})
}

// fetchAndStore 触发一轮采集批次并回报计数
func (s *Server) fetchAndStore(c *gin.Context) {
	if !s.fetchAuthorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "unauthorized",
		})
		return
	}

	if err := s.cfg.Validate(); err != nil {
		log.Printf("config error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "config_missing",
			"message": "server configuration missing",
		})
		return
	}

	res := s.pipe.Run(c.Request.Context())

	if res.Fetched == 0 {
		c.JSON(http.StatusOK, gin.H{
			"message":  "No items fetched",
			"fetched":  0,
			"filtered": 0,
			"stored":   0,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Fetch and store completed",
		"fetched":  res.Fetched,
		"filtered": res.Filtered,
		"stored":   res.Stored,
	})
}

// fetchAuthorized /api/fetch 的放行规则：
// POST 直接放行（平台内部触发只能发 POST，且不带自定义头）；
// 其余方法在配置了 CRON_SECRET 时要求 Bearer 一致，未配置时全放行
func (s *Server) fetchAuthorized(c *gin.Context) bool {
	if c.Request.Method == http.MethodPost {
		return true
	}
	secret := s.cfg.CronSecret
	if secret == "" {
		return true
	}

	const prefix = "Bearer "
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := strings.TrimPrefix(auth, prefix)
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// buildSummary 给前端的一行日文概要
func buildSummary(page *storage.NewsPage) string {
	if page.TotalCount == 0 {
		return "保存されたニュースはまだありません。"
	}

	high := 0
	for _, a := range page.Articles {
		if a.Relevance == aifilter.RelevanceHigh {
			high++
		}
	}
	return fmt.Sprintf("保存済み%d件のうち%d件を表示中（重要度「高」%d件）。", page.TotalCount, len(page.Articles), high)
}
