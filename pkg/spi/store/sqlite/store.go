package sqlite

import (
	"github.com/username/sidekick/pkg/spi/store/gormstore"
	"gorm.io/driver/sqlite"
)

// NewStore creates a checkpoint store backed by the SQLite file at path
func NewStore(path string) (*gormstore.Store, error) {
	return gormstore.Open(sqlite.Open(path))
}
