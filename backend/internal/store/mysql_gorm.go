package store

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// User 用户表，鉴权协作方用
type User struct {
	ID           uint64 `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64"`
	PasswordHash []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentSnapshot 快照历史表，每次落盘顺带留档
type DocumentSnapshot struct {
	ID        uint64 `gorm:"primaryKey"`
	Document  string `gorm:"uniqueIndex:idx_document_seq;size:255"`
	Seq       uint64 `gorm:"uniqueIndex:idx_document_seq"`
	Content   []byte
	CreatedAt time.Time
}

var mysqlDB *gorm.DB

// InitMySQL 打开连接并迁移表结构
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&User{}, &DocumentSnapshot{}); err != nil {
		return nil, err
	}
	mysqlDB = db
	return db, nil
}
