// Package gormstore persists checkpoint records through gorm. The pg and
// sqlite packages open it with their dialect.
package gormstore

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CheckpointModel represents a recorded checkpoint in the database
type CheckpointModel struct {
	Height     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Hash       string `gorm:"size:66;not null"`
	RecordedAt time.Time
}

// TableName overrides the gorm default
func (CheckpointModel) TableName() string {
	return "checkpoints"
}

// Store implements spi.CheckpointStore and spi.Rewinder on top of gorm
type Store struct {
	db *gorm.DB
}

var (
	_ spi.CheckpointStore = (*Store)(nil)
	_ spi.Rewinder        = (*Store)(nil)
)

// Open connects with the given dialector and migrates the schema
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn), // Warn level for production
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&CheckpointModel{}); err != nil {
		return nil, errors.Wrap(err, "could not migrate checkpoint table")
	}

	return &Store{db: db}, nil
}

// Record upserts the checkpoint (primary key is Height)
func (s *Store) Record(ctx context.Context, checkpoint core.BlockRef) error {
	model := CheckpointModel{
		Height:     checkpoint.Height,
		Hash:       checkpoint.Hash.Hex(),
		RecordedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Save(&model).Error
}

// Latest returns the highest recorded checkpoint
func (s *Store) Latest(ctx context.Context) (*core.BlockRef, error) {
	var model CheckpointModel
	result := s.db.WithContext(ctx).Order("height desc").First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil // No checkpoints yet
		}
		return nil, result.Error
	}
	return toBlockRef(&model), nil
}

// Get returns the checkpoint recorded at height, or nil
func (s *Store) Get(ctx context.Context, height uint64) (*core.BlockRef, error) {
	var model CheckpointModel
	result := s.db.WithContext(ctx).Where("height = ?", height).First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return toBlockRef(&model), nil
}

// Rewind deletes all checkpoints above height
func (s *Store) Rewind(ctx context.Context, height uint64) error {
	return s.db.WithContext(ctx).Where("height > ?", height).Delete(&CheckpointModel{}).Error
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toBlockRef(m *CheckpointModel) *core.BlockRef {
	return &core.BlockRef{
		Height: m.Height,
		Hash:   common.HexToHash(m.Hash),
	}
}
