package database

import (
	"time"

	"gorm.io/datatypes"
)

// Bug represents a record in the public.bugs table, one per persisted artifact
type Bug struct {
	ID         int               `gorm:"primaryKey;column:id"`
	Project    string            `gorm:"column:project;not null;uniqueIndex:idx_bug_artifact"`
	Target     string            `gorm:"column:target;not null;uniqueIndex:idx_bug_artifact"`
	Kind       string            `gorm:"column:kind;not null"`
	SHA1       string            `gorm:"column:sha1;not null;uniqueIndex:idx_bug_artifact"`
	Path       string            `gorm:"column:path;not null"`
	Size       int64             `gorm:"column:size"`
	Sanitizers string            `gorm:"column:sanitizers"`
	CreatedAt  time.Time         `gorm:"column:created_at;default:now()"`
	Outcome    datatypes.JSONMap `gorm:"column:outcome;type:jsonb"`
}
