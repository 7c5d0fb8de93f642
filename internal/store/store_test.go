package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"dealhunter/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewWithDB(db, logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s
}

func createTestUser(t *testing.T, s *Store, email string) *model.User {
	t.Helper()
	user := &model.User{Email: email, Password: "x", Role: "guest"}
	if err := s.db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestStore_CreateAndListProducts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "a@example.com")

	first := &model.Product{UserID: user.ID, Name: "Sony WH-1000XM5", TargetPrice: 299, AlertEnabled: true}
	if err := s.CreateProduct(ctx, first); err != nil {
		t.Fatalf("create product: %v", err)
	}
	second := &model.Product{UserID: user.ID, Name: "Kindle Paperwhite", TargetPrice: 99, AlertEnabled: true}
	second.CreatedAt = time.Now().Add(time.Minute)
	if err := s.CreateProduct(ctx, second); err != nil {
		t.Fatalf("create product: %v", err)
	}

	products, err := s.ListProducts(ctx, user.ID)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].Name != "Kindle Paperwhite" {
		t.Errorf("expected newest first, got %q", products[0].Name)
	}

	count, err := s.CountProducts(ctx, user.ID)
	if err != nil {
		t.Fatalf("count products: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestStore_UserScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	product := &model.Product{UserID: alice.ID, Name: "AirPods Pro", TargetPrice: 179}
	if err := s.CreateProduct(ctx, product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	if _, err := s.GetProduct(ctx, bob.ID, product.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user's product, got %v", err)
	}
	if err := s.SetAlertEnabled(ctx, bob.ID, product.ID, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on toggle, got %v", err)
	}
	if err := s.DeleteProduct(ctx, bob.ID, product.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}

	got, err := s.GetProduct(ctx, alice.ID, product.ID)
	if err != nil {
		t.Fatalf("owner get product: %v", err)
	}
	if got.Name != "AirPods Pro" {
		t.Errorf("unexpected product %+v", got)
	}
}

func TestStore_SetAlertEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "a@example.com")

	product := &model.Product{UserID: user.ID, Name: "Switch", TargetPrice: 250, AlertEnabled: true}
	if err := s.CreateProduct(ctx, product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	if err := s.SetAlertEnabled(ctx, user.ID, product.ID, false); err != nil {
		t.Fatalf("set alert enabled: %v", err)
	}

	got, err := s.GetProduct(ctx, user.ID, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.AlertEnabled {
		t.Error("expected alert to be disabled")
	}
}

func TestStore_DeleteProductCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "a@example.com")

	product := &model.Product{UserID: user.ID, Name: "Monitor", TargetPrice: 300}
	if err := s.CreateProduct(ctx, product); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if err := s.AddPriceRecord(ctx, &model.PriceRecord{ProductID: product.ID, Retailer: "Amazon", Price: 280}); err != nil {
		t.Fatalf("add record: %v", err)
	}
	if err := s.CreateAlert(ctx, &model.Alert{ProductID: product.ID, Kind: model.AlertKindPrice, Message: "m"}); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	if err := s.DeleteProduct(ctx, user.ID, product.ID); err != nil {
		t.Fatalf("delete product: %v", err)
	}

	var records int64
	s.db.Model(&model.PriceRecord{}).Where("product_id = ?", product.ID).Count(&records)
	if records != 0 {
		t.Errorf("expected 0 price records after delete, got %d", records)
	}
	var alerts int64
	s.db.Model(&model.Alert{}).Where("product_id = ?", product.ID).Count(&alerts)
	if alerts != 0 {
		t.Errorf("expected 0 alerts after delete, got %d", alerts)
	}
}

func TestStore_PriceHistoryOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "a@example.com")

	product := &model.Product{UserID: user.ID, Name: "TV", TargetPrice: 500}
	if err := s.CreateProduct(ctx, product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	prices := []float64{520, 510, 480}
	for i, p := range prices {
		record := &model.PriceRecord{
			ProductID: product.ID,
			Retailer:  "Amazon",
			Price:     p,
			CheckedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AddPriceRecord(ctx, record); err != nil {
			t.Fatalf("add record %d: %v", i, err)
		}
	}

	history, err := s.ListPriceHistory(ctx, product.ID, 2)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 records, got %d", len(history))
	}
	if history[0].Price != 480 {
		t.Errorf("expected newest record first, got price %.2f", history[0].Price)
	}
}

func TestStore_UnreadAlertsAndMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "a@example.com")
	other := createTestUser(t, s, "b@example.com")

	product := &model.Product{UserID: user.ID, Name: "Camera", TargetPrice: 700}
	if err := s.CreateProduct(ctx, product); err != nil {
		t.Fatalf("create product: %v", err)
	}
	alert := &model.Alert{ProductID: product.ID, Kind: model.AlertKindPrice, Message: "price dropped"}
	if err := s.CreateAlert(ctx, alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	unread, err := s.ListUnreadAlerts(ctx, user.ID)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread alert, got %d", len(unread))
	}
	if unread[0].ProductName != "Camera" {
		t.Errorf("expected product_name Camera, got %q", unread[0].ProductName)
	}

	// 其他用户看不到这条提醒，也不能标记它
	otherUnread, err := s.ListUnreadAlerts(ctx, other.ID)
	if err != nil {
		t.Fatalf("list unread for other: %v", err)
	}
	if len(otherUnread) != 0 {
		t.Fatalf("expected 0 unread alerts for other user, got %d", len(otherUnread))
	}
	if err := s.MarkAlertRead(ctx, other.ID, alert.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}

	if err := s.MarkAlertRead(ctx, user.ID, alert.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// 幂等：重复标记不报错
	if err := s.MarkAlertRead(ctx, user.ID, alert.ID); err != nil {
		t.Fatalf("mark read twice: %v", err)
	}

	unread, err = s.ListUnreadAlerts(ctx, user.ID)
	if err != nil {
		t.Fatalf("list unread after read: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected 0 unread alerts, got %d", len(unread))
	}
}

func TestStore_ListAllProducts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	for _, p := range []*model.Product{
		{UserID: alice.ID, Name: "A", TargetPrice: 1},
		{UserID: bob.ID, Name: "B", TargetPrice: 2},
	} {
		if err := s.CreateProduct(ctx, p); err != nil {
			t.Fatalf("create product: %v", err)
		}
	}

	all, err := s.ListAllProducts(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 products across users, got %d", len(all))
	}
}

func TestStore_GetUserEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "demo@example.com")

	email, err := s.GetUserEmail(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user email: %v", err)
	}
	if email != "demo@example.com" {
		t.Errorf("unexpected email %q", email)
	}

	if _, err := s.GetUserEmail(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
