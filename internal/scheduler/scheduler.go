package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dealhunter/internal/dealfinder"
	"dealhunter/internal/model"
	"dealhunter/internal/pkg/metrics"
	"dealhunter/internal/pkg/notify"
	"dealhunter/internal/pkg/queue"
)

// ProductStore 调度器需要的数据库操作。
type ProductStore interface {
	ListAllProducts(ctx context.Context) ([]model.Product, error)
	AddPriceRecord(ctx context.Context, record *model.PriceRecord) error
	CreateAlert(ctx context.Context, alert *model.Alert) error
	GetUserEmail(ctx context.Context, userID uint) (string, error)
}

// Limiter 外部 API 调用限流。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Options 调度器配置。
type Options struct {
	Interval  time.Duration // 轮询间隔
	CallDelay time.Duration // 相邻商品之间的延迟
	MaxDeals  int           // 每个商品查询的最大折扣数
}

// Scheduler 周期性检查所有被追踪商品的价格。
//
// 每个 tick 把一轮完整检查作为一个任务投入单 worker 队列。
// 上一轮没跑完时新 tick 被丢弃，轮询永不重叠也不补偿错过的周期。
type Scheduler struct {
	store    ProductStore
	finder   dealfinder.Finder
	limiter  Limiter
	notifier notify.Notifier
	logger   *slog.Logger
	opts     Options
	queue    *queue.Queue
}

// New 创建调度器。
func New(store ProductStore, finder dealfinder.Finder, limiter Limiter, notifier notify.Notifier, logger *slog.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Hour
	}
	if opts.MaxDeals <= 0 {
		opts.MaxDeals = 5
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Scheduler{
		store:    store,
		finder:   finder,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		queue:    queue.NewQueue(logger, 1, 1),
	}
}

// Run 启动轮询循环，阻塞直到 ctx 被取消。
//
// 启动后立即执行第一轮检查，之后按固定间隔触发。
func (s *Scheduler) Run(ctx context.Context) {
	s.queue.Start(ctx)
	defer s.queue.Shutdown()

	s.logger.Info("scheduler started",
		slog.String("interval", s.opts.Interval.String()),
		slog.String("call_delay", s.opts.CallDelay.String()))

	s.enqueueCycle(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.enqueueCycle(ctx)
		}
	}
}

func (s *Scheduler) enqueueCycle(ctx context.Context) {
	ok := s.queue.Enqueue(func(jobCtx context.Context) error {
		return s.CheckAll(jobCtx)
	})
	if !ok {
		s.logger.Warn("previous check cycle still running, skip this tick")
	}
}

// CheckAll 对所有被追踪的商品执行一轮价格检查。
//
// 单个商品失败只记录日志，不影响本轮其余商品。
func (s *Scheduler) CheckAll(ctx context.Context) error {
	start := time.Now()

	products, err := s.store.ListAllProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products for check cycle: %w", err)
	}

	s.logger.Info("check cycle started", slog.Int("products", len(products)))

	checked := 0
	failed := 0
	for i := range products {
		if ctx.Err() != nil {
			s.logger.Info("check cycle interrupted",
				slog.Int("checked", checked),
				slog.Int("remaining", len(products)-i))
			return ctx.Err()
		}

		if err := s.checkProduct(ctx, &products[i]); err != nil {
			failed++
			metrics.ProductChecksTotal.WithLabelValues("error").Inc()
			s.logger.Error("product check failed",
				slog.Uint64("product_id", uint64(products[i].ID)),
				slog.String("product", products[i].Name),
				slog.String("error", err.Error()))
		} else {
			checked++
			metrics.ProductChecksTotal.WithLabelValues("success").Inc()
		}

		// 相邻商品之间强制间隔，避免外部 API 过载
		if i < len(products)-1 && s.opts.CallDelay > 0 {
			if err := sleepCtx(ctx, s.opts.CallDelay); err != nil {
				return err
			}
		}
	}

	metrics.PollCyclesTotal.Inc()
	s.logger.Info("check cycle completed",
		slog.Int("checked", checked),
		slog.Int("failed", failed),
		slog.String("duration", time.Since(start).String()))
	return nil
}

// checkProduct 检查单个商品：查折扣、记历史、按需生成提醒。
func (s *Scheduler) checkProduct(ctx context.Context, product *model.Product) error {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire rate limit token: %w", err)
		}
	}

	deals, err := s.finder.FindDeals(ctx, product.Name, s.opts.MaxDeals)
	if err != nil {
		return fmt.Errorf("find deals: %w", err)
	}
	if len(deals) == 0 {
		s.logger.Debug("no deals found", slog.String("product", product.Name))
		return nil
	}

	now := time.Now()
	for _, deal := range deals {
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
			return fmt.Errorf("record price: %w", err)
		}
	}

	if !product.AlertEnabled {
		return nil
	}

	best := bestDeal(deals)
	if best.Price <= product.TargetPrice {
		message := fmt.Sprintf("🎉 Price Alert! %s is now $%.2f at %s (Target: $%.2f)",
			product.Name, best.Price, best.Retailer, product.TargetPrice)
		if err := s.raiseAlert(ctx, product, model.AlertKindPrice, message); err != nil {
			return err
		}
	}

	advice, err := s.finder.RecommendTiming(ctx, product.Name, deals)
	if err != nil {
		// 时机建议是附加功能，失败不影响价格检查本身
		s.logger.Warn("timing recommendation failed",
			slog.String("product", product.Name),
			slog.String("error", err.Error()))
		return nil
	}

	if advice.Recommendation == "wait" && advice.Confidence == "high" {
		message := fmt.Sprintf("⏰ Timing Alert! Consider waiting to buy %s: %s (expected discount %s, risk %s)",
			product.Name, advice.Reasoning, advice.ExpectedDiscount, advice.RiskLevel)
		if err := s.raiseAlert(ctx, product, model.AlertKindTiming, message); err != nil {
			return err
		}
	}

	return nil
}

func (s *Scheduler) raiseAlert(ctx context.Context, product *model.Product, kind string, message string) error {
	alert := &model.Alert{
		ProductID: product.ID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(kind).Inc()
	s.logger.Info("alert created",
		slog.Uint64("product_id", uint64(product.ID)),
		slog.String("kind", kind))

	email, err := s.store.GetUserEmail(ctx, product.UserID)
	if err != nil {
		s.logger.Warn("lookup user email failed",
			slog.Uint64("user_id", uint64(product.UserID)),
			slog.String("error", err.Error()))
		return nil
	}
	if err := s.notifier.Send(ctx, alert, product, email); err != nil {
		// 投递失败不影响提醒本身，提醒已落库
		s.logger.Warn("alert notification failed",
			slog.Uint64("alert_id", uint64(alert.ID)),
			slog.String("error", err.Error()))
	}
	return nil
}

// bestDeal 返回价格最低的折扣。
func bestDeal(deals []dealfinder.Deal) dealfinder.Deal {
	best := deals[0]
	for _, d := range deals[1:] {
		if d.Price < best.Price {
			best = d
		}
	}
	return best
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
