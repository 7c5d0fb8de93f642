package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 轮询与 LLM 调用相关指标。
//
// 指标在包初始化时创建，InitMetrics 负责注册到默认 Registry。
// 测试可以安全地多次调用 InitMetrics。
var (
	// PollCyclesTotal 完成的轮询周期总数。
	PollCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealhunter_poll_cycles_total",
		Help: "Total number of completed price check cycles.",
	})

	// ProductChecksTotal 按结果分类的单商品检查次数。
	ProductChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhunter_product_checks_total",
		Help: "Total number of per-product price checks by status.",
	}, []string{"status"})

	// DealsFetchedTotal 从查询服务获取的折扣条目总数。
	DealsFetchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealhunter_deals_fetched_total",
		Help: "Total number of deals returned by the deal query service.",
	})

	// AlertsCreatedTotal 按类型分类的提醒生成数。
	AlertsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhunter_alerts_created_total",
		Help: "Total number of alerts created by kind.",
	}, []string{"kind"})

	// LLMRequestDuration LLM 请求耗时（按操作分类）。
	LLMRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dealhunter_llm_request_duration_seconds",
		Help:    "Duration of deal query service requests.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"operation", "status"})

	// RateLimitWaitDuration 限流等待耗时。
	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dealhunter_ratelimit_wait_duration_seconds",
		Help:    "Time spent waiting for a rate limit token.",
		Buckets: prometheus.DefBuckets,
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealhunter_ratelimit_timeouts_total",
		Help: "Total number of rate limit acquisitions that timed out.",
	})

	// SchedulerWorkers 调度器 worker 数量。
	SchedulerWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dealhunter_scheduler_workers",
		Help: "Configured scheduler worker pool size.",
	})

	registerOnce sync.Once
)

// InitMetrics 注册所有指标并记录 worker 池大小。
//
// 重复调用是幂等的（测试中多个用例都会调用）。
func InitMetrics(workers int) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PollCyclesTotal,
			ProductChecksTotal,
			DealsFetchedTotal,
			AlertsCreatedTotal,
			LLMRequestDuration,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
			SchedulerWorkers,
		)
	})
	SchedulerWorkers.Set(float64(workers))
}
