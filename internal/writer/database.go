package writer

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	"github.com/pkg/errors"
)

// Connect opens the gorm connection pool used by both Writer and any
// durable-store-backed queries, against a MySQL dialect with pool size
// taken from config.
func Connect(dbURI string, maxPoolSize int) (*gorm.DB, error) {
	db, err := gorm.Open("mysql", dbURI)
	if err != nil {
		return nil, errors.Wrap(err, "opening database connection")
	}
	db.DB().SetMaxOpenConns(maxPoolSize)
	db.DB().SetMaxIdleConns(maxPoolSize)
	return db, nil
}
