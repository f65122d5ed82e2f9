package model

import (
	"time"
)

// BaseModel 通用主键与时间戳
// 注意：不带 DeletedAt，连接与销售记录都是物理删除
type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
