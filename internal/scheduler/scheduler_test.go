package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"dealhunter/internal/dealfinder"
	"dealhunter/internal/model"
)

type mockStore struct {
	mu       sync.Mutex
	products []model.Product
	records  []model.PriceRecord
	alerts   []model.Alert
	emails   map[uint]string
}

func (m *mockStore) ListAllProducts(ctx context.Context) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Product(nil), m.products...), nil
}

func (m *mockStore) AddPriceRecord(ctx context.Context, record *model.PriceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *record)
	return nil
}

func (m *mockStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.ID = uint(len(m.alerts) + 1)
	m.alerts = append(m.alerts, *alert)
	return nil
}

func (m *mockStore) GetUserEmail(ctx context.Context, userID uint) (string, error) {
	if m.emails == nil {
		return "", errors.New("no email")
	}
	return m.emails[userID], nil
}

type mockFinder struct {
	deals     map[string][]dealfinder.Deal
	dealErr   map[string]error
	advice    *dealfinder.TimingAdvice
	adviceErr error
}

func (m *mockFinder) FindDeals(ctx context.Context, productName string, maxResults int) ([]dealfinder.Deal, error) {
	if err, ok := m.dealErr[productName]; ok {
		return nil, err
	}
	return m.deals[productName], nil
}

func (m *mockFinder) RecommendTiming(ctx context.Context, productName string, deals []dealfinder.Deal) (*dealfinder.TimingAdvice, error) {
	if m.adviceErr != nil {
		return nil, m.adviceErr
	}
	if m.advice == nil {
		return &dealfinder.TimingAdvice{Recommendation: "buy_now", Confidence: "low"}, nil
	}
	return m.advice, nil
}

func newTestScheduler(store ProductStore, finder dealfinder.Finder) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, finder, nil, nil, logger, Options{MaxDeals: 5})
}

func TestScheduler_PriceAlertOnTargetHit(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "OLED TV", TargetPrice: 900, AlertEnabled: true},
		},
	}
	finder := &mockFinder{
		deals: map[string][]dealfinder.Deal{
			"OLED TV": {
				{Retailer: "Amazon", Price: 950},
				{Retailer: "Best Buy", Price: 880},
			},
		},
	}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if len(store.records) != 2 {
		t.Fatalf("expected 2 price records, got %d", len(store.records))
	}

	if len(store.alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(store.alerts))
	}
	alert := store.alerts[0]
	if alert.Kind != model.AlertKindPrice {
		t.Errorf("expected price alert, got %q", alert.Kind)
	}
	if !strings.Contains(alert.Message, "Best Buy") || !strings.Contains(alert.Message, "880.00") {
		t.Errorf("alert should reference the cheapest deal, got %q", alert.Message)
	}
}

func TestScheduler_NoAlertAbovePrice(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "OLED TV", TargetPrice: 900, AlertEnabled: true},
		},
	}
	finder := &mockFinder{
		deals: map[string][]dealfinder.Deal{
			"OLED TV": {{Retailer: "Amazon", Price: 950}},
		},
	}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if len(store.alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(store.alerts))
	}
	if len(store.records) != 1 {
		t.Fatalf("price history should still be recorded, got %d records", len(store.records))
	}
}

func TestScheduler_AlertsDisabled(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "Headphones", TargetPrice: 200, AlertEnabled: false},
		},
	}
	finder := &mockFinder{
		deals: map[string][]dealfinder.Deal{
			"Headphones": {{Retailer: "Amazon", Price: 1}},
		},
		advice: &dealfinder.TimingAdvice{Recommendation: "wait", Confidence: "high"},
	}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if len(store.alerts) != 0 {
		t.Fatalf("expected no alerts when disabled, got %d", len(store.alerts))
	}
	if len(store.records) != 1 {
		t.Fatalf("history should be recorded even when alerts are off, got %d", len(store.records))
	}
}

func TestScheduler_TimingAlert(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "Laptop", TargetPrice: 500, AlertEnabled: true},
		},
	}
	finder := &mockFinder{
		deals: map[string][]dealfinder.Deal{
			"Laptop": {{Retailer: "Amazon", Price: 999}},
		},
		advice: &dealfinder.TimingAdvice{
			Recommendation:   "wait",
			Confidence:       "high",
			Reasoning:        "Black Friday is close",
			ExpectedDiscount: "30-40%",
			RiskLevel:        "low",
		},
	}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if len(store.alerts) != 1 {
		t.Fatalf("expected 1 timing alert, got %d", len(store.alerts))
	}
	if store.alerts[0].Kind != model.AlertKindTiming {
		t.Errorf("expected timing alert, got %q", store.alerts[0].Kind)
	}
}

func TestScheduler_NoTimingAlertOnLowConfidence(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "Laptop", TargetPrice: 500, AlertEnabled: true},
		},
	}
	finder := &mockFinder{
		deals: map[string][]dealfinder.Deal{
			"Laptop": {{Retailer: "Amazon", Price: 999}},
		},
		advice: &dealfinder.TimingAdvice{Recommendation: "wait", Confidence: "medium"},
	}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if len(store.alerts) != 0 {
		t.Fatalf("expected no alerts for medium confidence, got %d", len(store.alerts))
	}
}

func TestScheduler_TimingFailureDoesNotBlockCycle(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "Laptop", TargetPrice: 2000, AlertEnabled: true},
		},
	}
	finder := &mockFinder{
		deals: map[string][]dealfinder.Deal{
			"Laptop": {{Retailer: "Amazon", Price: 999}},
		},
		adviceErr: errors.New("llm unavailable"),
	}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll should tolerate timing failure: %v", err)
	}

	// 价格提醒依然生成（999 <= 2000）
	if len(store.alerts) != 1 || store.alerts[0].Kind != model.AlertKindPrice {
		t.Fatalf("expected 1 price alert, got %+v", store.alerts)
	}
}

func TestScheduler_FailureIsolation(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "Broken", TargetPrice: 100, AlertEnabled: true},
			{ID: 2, UserID: 1, Name: "Working", TargetPrice: 100, AlertEnabled: true},
		},
	}
	finder := &mockFinder{
		deals: map[string][]dealfinder.Deal{
			"Working": {{Retailer: "Amazon", Price: 80}},
		},
		dealErr: map[string]error{
			"Broken": errors.New("upstream timeout"),
		},
	}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll should continue past per-product failures: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 record from the working product, got %d", len(store.records))
	}
	if len(store.alerts) != 1 {
		t.Fatalf("expected 1 alert from the working product, got %d", len(store.alerts))
	}
	if store.alerts[0].ProductID != 2 {
		t.Errorf("alert should belong to product 2, got %d", store.alerts[0].ProductID)
	}
}

func TestScheduler_EmptyDealsIsNotAnError(t *testing.T) {
	store := &mockStore{
		products: []model.Product{
			{ID: 1, UserID: 1, Name: "Obscure Gadget", TargetPrice: 10, AlertEnabled: true},
		},
	}
	finder := &mockFinder{deals: map[string][]dealfinder.Deal{}}

	s := newTestScheduler(store, finder)
	if err := s.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if len(store.records) != 0 || len(store.alerts) != 0 {
		t.Fatalf("expected nothing recorded, got %d records %d alerts", len(store.records), len(store.alerts))
	}
}
