package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open creates the database file if needed and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Database.SQLite.Path
	if path == "" {
		return errors.Newf("sqlite path is empty").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !filepath.IsAbs(path) && store.Settings.Main.DataDir != "" {
		path = filepath.Join(store.Settings.Main.DataDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create_db_dir").
			Build()
	}

	if store.Logger == nil {
		store.Logger = GetLogger()
	}
	gormLog := logger.NewGormLoggerAdapter(store.Logger.Module("sqlite"), store.Settings.Database.SlowQuery)

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Context("path", path).
			Build()
	}

	// SQLite allows a single writer.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	store.DB = db
	return performAutoMigration(db, store.Logger, "SQLite", path)
}
