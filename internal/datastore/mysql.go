package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// DSN returns the connection string built from settings.
func (store *MySQLStore) DSN() string {
	m := store.Settings.Database.MySQL
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// Open connects to MySQL and migrates the schema.
func (store *MySQLStore) Open() error {
	m := store.Settings.Database.MySQL
	if m.Host == "" || m.Database == "" {
		return errors.Newf("mysql host and database are required").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if store.Logger == nil {
		store.Logger = GetLogger()
	}
	mysqlLog := store.Logger.Module("mysql")
	gormLog := logger.NewGormLoggerAdapter(mysqlLog, store.Settings.Database.SlowQuery)

	db, err := gorm.Open(mysql.Open(store.DSN()), &gorm.Config{Logger: gormLog})
	if err != nil {
		mysqlLog.Error("failed to open MySQL database",
			logger.String("host", m.Host),
			logger.String("port", m.Port),
			logger.String("database", m.Database),
			logger.Error(err))
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "open_mysql").
			Context("host", m.Host).
			Build()
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	store.DB = db
	return performAutoMigration(db, store.Logger, "MySQL", fmt.Sprintf("%s:%s/%s", m.Host, m.Port, m.Database))
}
