package database

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inserts multiple bug records into the database, ignoring artifacts that are already recorded
func AddBugs(ctx context.Context, db *gorm.DB, bugs []*Bug) error {
	if len(bugs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(bugs).Error
}

// NewBug creates a new Bug object with the provided parameters
func NewBug(
	project string,
	target string,
	kind string,
	sha1 string,
	path string,
	size int64,
	sanitizers string,
	outcome datatypes.JSONMap,
) *Bug {
	return &Bug{
		Project:    project,
		Target:     target,
		Kind:       kind,
		SHA1:       sha1,
		Path:       path,
		Size:       size,
		Sanitizers: sanitizers,
		CreatedAt:  time.Now(),
		Outcome:    outcome,
	}
}

// counts the bugs recorded for a target
func CountBugs(ctx context.Context, db *gorm.DB, project, target string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&Bug{}).
		Where("project = ? AND target = ?", project, target).
		Count(&n).Error
	return n, err
}
