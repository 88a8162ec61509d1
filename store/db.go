package store

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"arbiter/models"
)

// Open 建立 gorm 連線，schemaName 不為空時所有資料表都會加上 schema 前綴
func Open(dialector gorm.Dialector, schemaName string) (*gorm.DB, error) {
	const op = "Open"
	namingStrategy := schema.NamingStrategy{}
	if schemaName != "" {
		namingStrategy.TablePrefix = schemaName + "."
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NamingStrategy: namingStrategy,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}
	return db, nil
}

// Migrate 建立或更新資料表與索引
func Migrate(db *gorm.DB) error {
	const op = "Migrate"
	if err := db.AutoMigrate(&models.User{}, &models.Auction{}, &models.Bid{}); err != nil {
		return fmt.Errorf("%s: failed to migrate: %w", op, err)
	}
	return nil
}
