package models

import (
	"time"
)

// CacheAction names an invalidation performed through the cache API
type CacheAction string

const (
	ActionClearAll     CacheAction = "clear_all"
	ActionClearExpired CacheAction = "clear_expired"
	ActionClearPattern CacheAction = "clear_pattern"
	ActionClearTags    CacheAction = "clear_tags"
	ActionClearKey     CacheAction = "clear_key"
)

// CacheAudit records one invalidation request and what it removed
type CacheAudit struct {
	ID            string      `json:"id" gorm:"primaryKey"`
	Action        CacheAction `json:"action" gorm:"not null;index"`
	Target        string      `json:"target"`
	AffectedItems int         `json:"affected_items"`
	UserID        string      `json:"user_id" gorm:"column:user_id;index"`
	CreatedAt     time.Time   `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for CacheAudit Model
func (CacheAudit) TableName() string {
	return "cache_audits"
}
