package model

import "time"

// User 表示系统用户。
//
// 演示部署只有一个 guest 身份，但所有存储与服务调用都显式携带 UserID，
// 以便将来扩展为多用户。
type User struct {
	ID        uint      `gorm:"primaryKey"`                     // 用户 ID
	Email     string    `gorm:"type:varchar(191);uniqueIndex"`  // 邮箱（唯一）
	Password  string    `gorm:"not null"`                       // bcrypt 哈希
	Role      string    `gorm:"type:varchar(16);default:guest"` // 角色: admin / guest
	CreatedAt time.Time // 创建时间

	Products []Product `gorm:"foreignKey:UserID"`
}
