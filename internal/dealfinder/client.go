package dealfinder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dealhunter/internal/config"
	"dealhunter/internal/pkg/metrics"

	openai "github.com/sashabaranov/go-openai"
)

// Deal 表示一条折扣记录。
type Deal struct {
	Retailer        string  `json:"retailer"`
	Price           float64 `json:"price"`
	OriginalPrice   float64 `json:"original_price"`
	DiscountPercent float64 `json:"discount_percentage"`
	URL             string  `json:"url"`
	Availability    string  `json:"availability"`
	Quality         string  `json:"deal_quality"`
}

// TimingAdvice 表示购买时机建议。
type TimingAdvice struct {
	Recommendation   string `json:"recommendation"`       // "wait" / "buy_now"
	Confidence       string `json:"confidence"`           // "high" / "medium" / "low"
	Reasoning        string `json:"reasoning"`            // 建议理由
	ExpectedDiscount string `json:"expected_bf_discount"` // 预期的大促折扣幅度
	RiskLevel        string `json:"risk_level"`           // 等待的缺货风险
}

// Finder 折扣查询接口。调度器和 API 层都依赖它，便于测试替换。
type Finder interface {
	// FindDeals 查询指定商品当前的折扣。查询成功但没有折扣时
	// 返回空切片和 nil 错误；传输或解析失败时返回 nil 和错误。
	FindDeals(ctx context.Context, productName string, maxResults int) ([]Deal, error)

	// RecommendTiming 根据当前观测到的价格给出购买时机建议。
	RecommendTiming(ctx context.Context, productName string, deals []Deal) (*TimingAdvice, error)
}

// Client 基于 OpenAI Chat Completions 的折扣查询实现。
//
// 模型没有真实的商品数据，这里让它扮演 deal aggregator 的角色，
// 按固定 JSON 结构返回模拟的折扣信息。适用于演示场景。
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewClient 创建折扣查询客户端。
func NewClient(cfg config.OpenAIConfig, logger *slog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}
}

const dealsPromptTemplate = `You are a shopping deal aggregator. Find current deals for: %s

Generate a realistic JSON response with up to %d deals in this exact format:
{
  "deals": [
    {
      "retailer": "Amazon",
      "price": 299.99,
      "original_price": 399.99,
      "discount_percentage": 25,
      "url": "https://example.com/deal",
      "availability": "In Stock",
      "deal_quality": "Excellent"
    }
  ]
}

Rules:
- price must be a positive number in USD
- availability is "In Stock" or "Limited Stock"
- deal_quality is "Excellent", "Good" or "Fair"
- respond with JSON only, no extra commentary`

const timingPromptTemplate = `You are a shopping timing advisor. A user is tracking "%s" and the current best prices are:
%s

Based on typical retail discount patterns (especially Black Friday and holiday sales), respond with JSON only in this exact format:
{
  "recommendation": "wait",
  "confidence": "high",
  "reasoning": "short explanation",
  "expected_bf_discount": "30-40%%",
  "risk_level": "low"
}

Rules:
- recommendation is "wait" or "buy_now"
- confidence is "high", "medium" or "low"
- risk_level describes the stock-out risk of waiting`

// FindDeals 向 LLM 查询指定商品的折扣信息。
func (c *Client) FindDeals(ctx context.Context, productName string, maxResults int) ([]Deal, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	prompt := fmt.Sprintf(dealsPromptTemplate, productName, maxResults)

	raw, err := c.complete(ctx, "find_deals", prompt)
	if err != nil {
		return nil, fmt.Errorf("find deals for %q: %w", productName, err)
	}

	deals, err := parseDeals(raw)
	if err != nil {
		c.logger.Warn("deal response parse failed",
			slog.String("product", productName),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("parse deals for %q: %w", productName, err)
	}

	if len(deals) > maxResults {
		deals = deals[:maxResults]
	}

	metrics.DealsFetchedTotal.Add(float64(len(deals)))
	c.logger.Debug("deals fetched",
		slog.String("product", productName),
		slog.Int("count", len(deals)))
	return deals, nil
}

// RecommendTiming 请求购买时机建议。
func (c *Client) RecommendTiming(ctx context.Context, productName string, deals []Deal) (*TimingAdvice, error) {
	prompt := fmt.Sprintf(timingPromptTemplate, productName, formatPriceSummary(deals))

	raw, err := c.complete(ctx, "recommend_timing", prompt)
	if err != nil {
		return nil, fmt.Errorf("recommend timing for %q: %w", productName, err)
	}

	advice, err := parseTimingAdvice(raw)
	if err != nil {
		return nil, fmt.Errorf("parse timing advice for %q: %w", productName, err)
	}
	return advice, nil
}

// complete 执行一次 chat completion 并返回原始文本。
func (c *Client) complete(ctx context.Context, operation string, prompt string) (string, error) {
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())

	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func formatPriceSummary(deals []Deal) string {
	if len(deals) == 0 {
		return "(no current price data)"
	}
	summary := ""
	for _, d := range deals {
		summary += fmt.Sprintf("- %s: $%.2f\n", d.Retailer, d.Price)
	}
	return summary
}
