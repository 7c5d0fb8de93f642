package dealfinder

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripCodeFence 去掉模型偶尔附加的 markdown 代码围栏。
//
// 形如 "```json\n{...}\n```" 或 "```\n{...}\n```"。
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// 第一行可能是语言标记（"json"），丢掉
		first := strings.TrimSpace(s[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseDeals 解析折扣查询响应。
//
// 价格非正或零售商为空的条目会被过滤掉，模型偶尔会生成这种脏数据。
func parseDeals(raw string) ([]Deal, error) {
	cleaned := stripCodeFence(raw)

	var payload struct {
		Deals []Deal `json:"deals"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal deals payload: %w", err)
	}

	deals := make([]Deal, 0, len(payload.Deals))
	for _, d := range payload.Deals {
		if d.Price <= 0 || strings.TrimSpace(d.Retailer) == "" {
			continue
		}
		deals = append(deals, d)
	}
	return deals, nil
}

// parseTimingAdvice 解析购买时机建议响应。
func parseTimingAdvice(raw string) (*TimingAdvice, error) {
	cleaned := stripCodeFence(raw)

	advice := &TimingAdvice{}
	if err := json.Unmarshal([]byte(cleaned), advice); err != nil {
		return nil, fmt.Errorf("unmarshal timing payload: %w", err)
	}
	if advice.Recommendation == "" {
		return nil, fmt.Errorf("timing payload missing recommendation")
	}
	return advice, nil
}
