package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dealhunter/internal/api/middleware"
	"dealhunter/internal/dealfinder"
	"dealhunter/internal/model"
	"dealhunter/internal/store"

	"github.com/gin-gonic/gin"
)

const defaultHistoryLimit = 50

// cachedSearch 最近一次搜索结果，创建商品时用来填充初始价格记录。
type cachedSearch struct {
	ProductName string            `json:"product_name"`
	Deals       []dealfinder.Deal `json:"deals"`
}

func searchCacheKey(userID uint) string {
	return fmt.Sprintf("dealhunter:search:last:%d", userID)
}

func getUserID(c *gin.Context) uint {
	if v, ok := c.Get(middleware.ContextUserID); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

type searchRequest struct {
	ProductName   string `json:"product_name" binding:"required"`
	MaxResults    int    `json:"max_results"`
	IncludeTiming bool   `json:"include_timing"`
}

// handleSearch 交互式折扣搜索。
func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_name is required"})
		return
	}
	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > s.cfg.App.MaxDealsPerSearch {
		maxResults = s.cfg.App.MaxDealsPerSearch
	}

	ctx := c.Request.Context()
	userID := getUserID(c)

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "search rate limit exceeded"})
			return
		}
	}

	deals, err := s.finder.FindDeals(ctx, req.ProductName, maxResults)
	if err != nil {
		s.logger.Error("deal search failed",
			slog.String("product", req.ProductName),
			slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "deal search failed"})
		return
	}

	s.cacheSearch(c, userID, req.ProductName, deals)

	resp := gin.H{
		"product_name": req.ProductName,
		"deals":        deals,
	}

	// 时机分析是附加信息，失败时省略而不是让搜索整体失败
	if req.IncludeTiming && len(deals) > 0 {
		advice, err := s.finder.RecommendTiming(ctx, req.ProductName, deals)
		if err != nil {
			s.logger.Warn("timing analysis failed",
				slog.String("product", req.ProductName),
				slog.String("error", err.Error()))
		} else {
			resp["timing"] = advice
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) cacheSearch(c *gin.Context, userID uint, productName string, deals []dealfinder.Deal) {
	payload, err := json.Marshal(cachedSearch{ProductName: productName, Deals: deals})
	if err != nil {
		return
	}
	err = s.rdb.Set(c.Request.Context(), searchCacheKey(userID), payload, s.cfg.App.SearchCacheTTL).Err()
	if err != nil {
		s.logger.Warn("cache search result failed", slog.String("error", err.Error()))
	}
}

type createProductRequest struct {
	Name        string  `json:"name" binding:"required"`
	TargetPrice float64 `json:"target_price" binding:"required,gt=0"`
}

// handleCreateProduct 开始追踪一个商品。
func (s *Server) handleCreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and positive target_price are required"})
		return
	}

	ctx := c.Request.Context()
	userID := getUserID(c)

	count, err := s.store.CountProducts(ctx, userID)
	if err != nil {
		s.logger.Error("count products failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if count >= int64(s.cfg.App.MaxProductsPerUser) {
		c.JSON(http.StatusForbidden, gin.H{"error": "tracked product limit reached"})
		return
	}

	if s.deduper != nil {
		dup, _ := s.deduper.IsDuplicate(ctx, userID, req.Name)
		if dup {
			c.JSON(http.StatusOK, gin.H{"status": "skipped_duplicate"})
			return
		}
	}

	product := &model.Product{
		UserID:       userID,
		Name:         req.Name,
		TargetPrice:  req.TargetPrice,
		AlertEnabled: true,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		s.logger.Error("create product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.seedInitialRecords(c, userID, product)

	c.JSON(http.StatusCreated, gin.H{"id": product.ID, "status": "tracking"})
}

// seedInitialRecords 用最近一次搜索结果填充初始价格记录。
//
// 搜索缓存缺失或商品名不匹配时静默跳过，下个轮询周期会补上数据。
func (s *Server) seedInitialRecords(c *gin.Context, userID uint, product *model.Product) {
	ctx := c.Request.Context()

	payload, err := s.rdb.Get(ctx, searchCacheKey(userID)).Bytes()
	if err != nil {
		return
	}

	var cached cachedSearch
	if err := json.Unmarshal(payload, &cached); err != nil {
		return
	}
	if cached.ProductName != product.Name || len(cached.Deals) == 0 {
		return
	}

	now := time.Now()
	for _, deal := range cached.Deals {
		record := &model.PriceRecord{
			ProductID:       product.ID,
			Retailer:        deal.Retailer,
			Price:           deal.Price,
			OriginalPrice:   deal.OriginalPrice,
			DiscountPercent: deal.DiscountPercent,
			URL:             deal.URL,
			Availability:    deal.Availability,
			DealQuality:     deal.Quality,
			CheckedAt:       now,
		}
		if err := s.store.AddPriceRecord(ctx, record); err != nil {
			s.logger.Warn("seed initial price record failed",
				slog.Uint64("product_id", uint64(product.ID)),
				slog.String("error", err.Error()))
			return
		}
	}
}

// handleListProducts 列出用户追踪的商品。
func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.store.ListProducts(c.Request.Context(), getUserID(c))
	if err != nil {
		s.logger.Error("list products failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

type toggleAlertsRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// handleToggleAlerts 切换商品的提醒开关。
func (s *Server) handleToggleAlerts(c *gin.Context) {
	productID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req toggleAlertsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	err := s.store.SetAlertEnabled(c.Request.Context(), getUserID(c), productID, *req.Enabled)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		s.logger.Error("toggle alerts failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "enabled": *req.Enabled})
}

// handleDeleteProduct 停止追踪商品，连带删除历史和提醒。
func (s *Server) handleDeleteProduct(c *gin.Context) {
	productID, ok := parseIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	userID := getUserID(c)

	product, err := s.store.GetProduct(ctx, userID, productID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		s.logger.Error("get product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := s.store.DeleteProduct(ctx, userID, productID); err != nil {
		s.logger.Error("delete product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// 清掉去重标记，允许立即重新追踪
	if s.deduper != nil {
		if err := s.deduper.Delete(ctx, userID, product.Name); err != nil {
			s.logger.Warn("clear dedup mark failed", slog.String("error", err.Error()))
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handlePriceHistory 返回商品的价格历史。
func (s *Server) handlePriceHistory(c *gin.Context) {
	productID, ok := parseIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	userID := getUserID(c)

	if _, err := s.store.GetProduct(ctx, userID, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		s.logger.Error("get product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.store.ListPriceHistory(ctx, productID, limit)
	if err != nil {
		s.logger.Error("list price history failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// handleListAlerts 返回用户所有未读提醒。
func (s *Server) handleListAlerts(c *gin.Context) {
	alerts, err := s.store.ListUnreadAlerts(c.Request.Context(), getUserID(c))
	if err != nil {
		s.logger.Error("list alerts failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// handleMarkAlertRead 将提醒标记为已读。
func (s *Server) handleMarkAlertRead(c *gin.Context) {
	alertID, ok := parseIDParam(c)
	if !ok {
		return
	}

	err := s.store.MarkAlertRead(c.Request.Context(), getUserID(c), alertID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		s.logger.Error("mark alert read failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
