// Package models contains the database model definitions.
package models

import (
	"time"
)

// ConfigRevision records one attempt to load a mapping document.
// Table: config_revisions
type ConfigRevision struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Source    string    `gorm:"column:source" json:"source"`
	Hash      string    `gorm:"column:hash;index" json:"hash,omitempty"`
	RuleCount int       `gorm:"column:rule_count" json:"ruleCount"`
	Accepted  bool      `gorm:"column:accepted;index" json:"accepted"`
	Error     *string   `gorm:"column:error" json:"error,omitempty"`
	LoadedAt  time.Time `gorm:"column:loaded_at;index" json:"loadedAt"`
}

func (ConfigRevision) TableName() string { return "config_revisions" }
