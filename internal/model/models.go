package model

import (
	"time"
)

// Alert 类型常量。
const (
	AlertKindPrice  = "price_alert"  // 价格跌破目标价
	AlertKindTiming = "timing_alert" // 购买时机建议
)

// Product 表示一个被追踪的商品。
//
// 它记录了用户设定的商品名称与目标价格，以及是否开启降价提醒。
// 除 AlertEnabled 外字段创建后不再变更；删除仅由用户显式触发。
type Product struct {
	ID        uint      `gorm:"primaryKey"` // 商品唯一标识
	CreatedAt time.Time // 开始追踪的时间

	UserID       uint    `gorm:"not null;index"`    // 所属用户 ID
	User         User    `gorm:"foreignKey:UserID"` // 所属用户
	Name         string  `gorm:"not null"`          // 商品名称（搜索关键词）
	TargetPrice  float64 `gorm:"not null"`          // 目标价格（美元）
	AlertEnabled bool    `gorm:"default:true"`      // 是否开启降价提醒

	Records []PriceRecord `gorm:"foreignKey:ProductID"` // 价格观测历史
	Alerts  []Alert       `gorm:"foreignKey:ProductID"` // 已生成的提醒
}

// PriceRecord 表示一次价格观测（append-only）。
//
// 每个轮询周期中，查询服务返回的每条 retailer/price 记录各写入一行。
// 同一周期内重复的 retailer/price 组合是合法的，不做唯一约束。
type PriceRecord struct {
	ID        uint      `gorm:"primaryKey"` // 记录 ID
	ProductID uint      `gorm:"not null;index"` // 关联的商品 ID
	Retailer  string    // 零售商名称
	Price     float64   // 观测到的价格
	OriginalPrice   float64 // 折扣前原价
	DiscountPercent float64 // 折扣百分比
	URL          string    // 商品页面链接
	Availability string    // 库存状态 ("In Stock" / "Limited Stock")
	DealQuality  string    // 折扣质量 ("Excellent" / "Good" / "Fair")
	CheckedAt    time.Time `gorm:"index"` // 观测时间
}

// Alert 表示一条已生成的提醒。
//
// 除 Read 标记外 append-only；Read 由展示层置位，重复置位幂等。
type Alert struct {
	ID        uint      `gorm:"primaryKey"` // 提醒 ID
	ProductID uint      `gorm:"not null;index"` // 关联的商品 ID
	Kind      string    `gorm:"type:varchar(32);not null"` // 提醒类型: price_alert / timing_alert
	Message   string    // 提醒内容
	Read      bool      `gorm:"default:false"` // 是否已读
	CreatedAt time.Time // 生成时间
}
