package api

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dealhunter/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedDemoData 创建演示管理员账号。
//
// 密码从 DEMO_ADMIN_PASSWORD 读取，未设置时跳过。已存在的账号不重复创建。
func SeedDemoData(db *gorm.DB, logger *slog.Logger) error {
	password := os.Getenv("DEMO_ADMIN_PASSWORD")
	if password == "" {
		logger.Info("DEMO_ADMIN_PASSWORD not set, skip demo admin seed")
		return nil
	}

	const email = "admin@dealhunter.local"

	var existing model.User
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("check demo admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	user := model.User{
		Email:    email,
		Password: string(hash),
		Role:     "admin",
	}
	if err := db.Create(&user).Error; err != nil {
		return fmt.Errorf("create demo admin: %w", err)
	}

	logger.Info("demo admin created", slog.String("email", email))
	return nil
}
