package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dealhunter/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound 请求的记录不存在或不属于该用户。
var ErrNotFound = errors.New("record not found")

// Store 封装所有数据库访问。
//
// 所有面向用户的读写都带 userID 过滤，一个用户无法看到或操作
// 另一个用户的商品和提醒。
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open 打开 SQLite 数据库并执行 AutoMigrate。
//
// 数据库文件所在目录不存在时自动创建。
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithDB 用已有连接创建 Store 并执行迁移，测试用。
func NewWithDB(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.PriceRecord{},
		&model.Alert{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB 返回底层连接，健康检查和初始化数据用。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping 检查数据库连接是否可用。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// CreateProduct 添加一个被追踪的商品。
func (s *Store) CreateProduct(ctx context.Context, product *model.Product) error {
	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// CountProducts 返回用户当前追踪的商品数。
func (s *Store) CountProducts(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return count, nil
}

// ListProducts 返回用户追踪的商品，按创建时间倒序。
func (s *Store) ListProducts(ctx context.Context, userID uint) ([]model.Product, error) {
	var products []model.Product
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// GetProduct 返回用户的某个商品，不存在或不属于该用户时返回 ErrNotFound。
func (s *Store) GetProduct(ctx context.Context, userID uint, productID uint) (*model.Product, error) {
	var product model.Product
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", productID, userID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &product, nil
}

// SetAlertEnabled 切换商品的降价提醒开关。
func (s *Store) SetAlertEnabled(ctx context.Context, userID uint, productID uint, enabled bool) error {
	result := s.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND user_id = ?", productID, userID).
		Update("alert_enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("set alert enabled: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProduct 删除商品及其全部价格历史和提醒。
func (s *Store) DeleteProduct(ctx context.Context, userID uint, productID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product model.Product
		err := tx.Where("id = ? AND user_id = ?", productID, userID).First(&product).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find product: %w", err)
		}

		if err := tx.Where("product_id = ?", productID).Delete(&model.PriceRecord{}).Error; err != nil {
			return fmt.Errorf("delete price records: %w", err)
		}
		if err := tx.Where("product_id = ?", productID).Delete(&model.Alert{}).Error; err != nil {
			return fmt.Errorf("delete alerts: %w", err)
		}
		if err := tx.Delete(&product).Error; err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return nil
	})
}

// AddPriceRecord 追加一条价格观测。
func (s *Store) AddPriceRecord(ctx context.Context, record *model.PriceRecord) error {
	if record.CheckedAt.IsZero() {
		record.CheckedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("add price record: %w", err)
	}
	return nil
}

// ListPriceHistory 返回商品的价格历史，按观测时间倒序。limit <= 0 时不限制。
func (s *Store) ListPriceHistory(ctx context.Context, productID uint, limit int) ([]model.PriceRecord, error) {
	query := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("checked_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []model.PriceRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	return records, nil
}

// CreateAlert 生成一条提醒。
func (s *Store) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// AlertWithProduct 提醒加上所属商品名，提醒列表展示用。
type AlertWithProduct struct {
	model.Alert
	ProductName string `json:"product_name"`
}

// ListUnreadAlerts 返回用户所有未读提醒，按生成时间倒序。
func (s *Store) ListUnreadAlerts(ctx context.Context, userID uint) ([]AlertWithProduct, error) {
	var alerts []AlertWithProduct
	err := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Select("alerts.*, products.name AS product_name").
		Joins("JOIN products ON products.id = alerts.product_id").
		Where("products.user_id = ? AND alerts.read = ?", userID, false).
		Order("alerts.created_at DESC").
		Scan(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("list unread alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertRead 将提醒标记为已读。重复标记是幂等的。
func (s *Store) MarkAlertRead(ctx context.Context, userID uint, alertID uint) error {
	result := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("alerts.id = ? AND product_id IN (?)",
			alertID,
			s.db.Model(&model.Product{}).Select("id").Where("user_id = ?", userID)).
		Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("mark alert read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 可能是已读（幂等）也可能不存在，区分一下
		var count int64
		err := s.db.WithContext(ctx).
			Model(&model.Alert{}).
			Joins("JOIN products ON products.id = alerts.product_id").
			Where("alerts.id = ? AND products.user_id = ?", alertID, userID).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check alert: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// ListAllProducts 返回所有用户的全部商品，轮询器使用。
func (s *Store) ListAllProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("list all products: %w", err)
	}
	return products, nil
}

// GetUserEmail 返回用户邮箱，邮件通知用。
func (s *Store) GetUserEmail(ctx context.Context, userID uint) (string, error) {
	var user model.User
	err := s.db.WithContext(ctx).Select("email").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user email: %w", err)
	}
	return user.Email, nil
}
