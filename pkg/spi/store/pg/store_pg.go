package pg

import (
	"github.com/username/sidekick/pkg/spi/store/gormstore"
	"gorm.io/driver/postgres"
)

// NewStore creates a checkpoint store backed by PostgreSQL
func NewStore(dsn string) (*gormstore.Store, error) {
	return gormstore.Open(postgres.Open(dsn))
}
