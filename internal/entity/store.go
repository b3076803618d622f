package entity

import "time"

// Store 店铺实体
// Domain 唯一，入站 Webhook 通过 X-Shop-Domain 反查店铺。
type Store struct {
	ID     uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	Name   string `gorm:"column:name;type:varchar(128);not null"`
	Domain string `gorm:"column:domain;type:varchar(255);not null;uniqueIndex:uk_domain"`

	// 店铺凭证（出站同步用，核心流程不消费）
	AccessToken string `gorm:"column:access_token;type:varchar(255)"`

	Active bool `gorm:"column:active;not null;default:true"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (Store) TableName() string {
	return "stores"
}
