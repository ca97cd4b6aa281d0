package gormkv

import (
	"time"

	"gorm.io/datatypes"
)

// Record mirrors the kv_records table: one stored path with its JSON value.
type Record struct {
	Path      string         `gorm:"primaryKey;size:512"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (Record) TableName() string { return "kv_records" }
