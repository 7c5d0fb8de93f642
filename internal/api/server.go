package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dealhunter/internal/api/auth"
	"dealhunter/internal/api/middleware"
	"dealhunter/internal/config"
	"dealhunter/internal/dealfinder"
	"dealhunter/internal/model"
	"dealhunter/internal/pkg/dedup"
	"dealhunter/internal/pkg/metrics"
	"dealhunter/internal/pkg/notify"
	"dealhunter/internal/pkg/ratelimit"
	"dealhunter/internal/scheduler"
	"dealhunter/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProductStore API 层需要的数据库操作。
type ProductStore interface {
	Ping(ctx context.Context) error
	CreateProduct(ctx context.Context, product *model.Product) error
	CountProducts(ctx context.Context, userID uint) (int64, error)
	ListProducts(ctx context.Context, userID uint) ([]model.Product, error)
	GetProduct(ctx context.Context, userID uint, productID uint) (*model.Product, error)
	SetAlertEnabled(ctx context.Context, userID uint, productID uint, enabled bool) error
	DeleteProduct(ctx context.Context, userID uint, productID uint) error
	AddPriceRecord(ctx context.Context, record *model.PriceRecord) error
	ListPriceHistory(ctx context.Context, productID uint, limit int) ([]model.PriceRecord, error)
	ListUnreadAlerts(ctx context.Context, userID uint) ([]store.AlertWithProduct, error)
	MarkAlertRead(ctx context.Context, userID uint, alertID uint) error
}

// Deduper 重复追踪请求去重。
type Deduper interface {
	IsDuplicate(ctx context.Context, userID uint, productName string) (bool, error)
	Delete(ctx context.Context, userID uint, productName string) error
}

// Limiter 交互式搜索共用的外部 API 限流。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Server HTTP API 服务。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	store   ProductStore
	db      *gorm.DB
	rdb     *redis.Client
	finder  dealfinder.Finder
	deduper Deduper
	limiter Limiter
	sched   *scheduler.Scheduler
	auth    *auth.Handler
}

// NewServer 组装全部依赖并注册路由。
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(cfg.SQLite.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unreachable at startup", slog.String("error", err.Error()))
	}

	finder := dealfinder.NewClient(cfg.OpenAI, logger)
	limiter := ratelimit.NewRedisRateLimiter(rdb, logger, "dealhunter:ratelimit:llm", cfg.App.RateLimit, cfg.App.RateBurst)
	deduper := dedup.NewDeduper(rdb, logger, dedupWindow(cfg))

	var notifier notify.Notifier = notify.NewEmailNotifier(cfg.Email, logger)

	sched := scheduler.New(st, finder, limiter, notifier, logger, scheduler.Options{
		Interval:  cfg.App.PollInterval,
		CallDelay: cfg.App.CallDelay,
		MaxDeals:  cfg.App.MaxDealsPerSearch,
	})

	metrics.InitMetrics(1)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		db:      st.DB(),
		rdb:     rdb,
		finder:  finder,
		deduper: deduper,
		limiter: limiter,
		sched:   sched,
		auth:    auth.NewHandler(st.DB(), cfg.Security.JWTSecret, logger),
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	if s.cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(s.logger))

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/login", s.auth.Login)
		v1.POST("/login/guest", s.auth.GuestLogin)
		v1.POST("/logout", s.auth.Logout)

		authed := v1.Group("")
		authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
		{
			authed.POST("/search", s.handleSearch)
			authed.POST("/products", s.handleCreateProduct)
			authed.GET("/products", s.handleListProducts)
			authed.PATCH("/products/:id/alerts", s.handleToggleAlerts)
			authed.DELETE("/products/:id", s.handleDeleteProduct)
			authed.GET("/products/:id/history", s.handlePriceHistory)
			authed.GET("/alerts", s.handleListAlerts)
			authed.POST("/alerts/:id/read", s.handleMarkAlertRead)
		}
	}

	s.router = router
}

// Router 返回 http.Handler，main 和测试共用。
func (s *Server) Router() http.Handler {
	return s.router
}

// Scheduler 返回后台轮询器。
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.sched
}

// DB 返回底层数据库连接，初始化演示数据用。
func (s *Server) DB() *gorm.DB {
	return s.db
}

// Close 释放连接。
func (s *Server) Close() error {
	return s.rdb.Close()
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func dedupWindow(cfg *config.Config) time.Duration {
	return time.Duration(cfg.App.DedupWindow) * time.Second
}
