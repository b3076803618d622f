package repo

import (
	"errors"

	"gorm.io/gorm"

	"shopsync/internal/entity"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ErrStockNotZero 条件删除时库存已不为 0（并发补货）
var ErrStockNotZero = errors.New("variant stock is not zero")

// AutoMigrate 建表（worker 启动与测试用）
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.Store{},
		&entity.Variant{},
		&entity.VariantStoreMapping{},
	)
}

// translate 统一转换 gorm 的未找到错误
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
