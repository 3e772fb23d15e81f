// interfaces.go: this code defines the interface for the job store operations
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
)

// ErrNotFound is returned when no video has the requested id.
var ErrNotFound = errors.NewStd("video not found")

// Interface abstracts the job store backend.
type Interface interface {
	Open() error
	Close() error

	Create(ctx context.Context, v *Video) error
	Get(ctx context.Context, id string) (*Video, error)
	List(ctx context.Context, opts ListOptions) (*Page, error)
	Update(ctx context.Context, id string, fields Fields) error
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, statuses ...Status) ([]Video, error)
}

// DataStore implements Interface on top of a GORM database.
type DataStore struct {
	DB     *gorm.DB
	Logger logger.Logger
}

// New returns the store selected in settings. SQLite wins when both
// backends are enabled.
func New(settings *conf.Settings) (Interface, error) {
	log := GetLogger()
	switch {
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{DataStore: DataStore{Logger: log}, Settings: settings}, nil
	case settings.Database.MySQL.Enabled:
		return &MySQLStore{DataStore: DataStore{Logger: log}, Settings: settings}, nil
	default:
		return nil, errors.Newf("no database backend enabled").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

var updatableColumns = map[string]struct{}{
	ColStatus: {}, ColStage: {}, ColProgress: {}, ColDurationSec: {},
	ColFramesAnalyzed: {}, ColUniqueEntities: {}, ColEntitiesJSON: {},
	ColFramesPath: {}, ColReportPath: {}, ColTranscriptPath: {}, ColError: {},
}

func (ds *DataStore) db(ctx context.Context) (*gorm.DB, error) {
	if ds.DB == nil {
		return nil, errors.Newf("database connection is not initialized").
			Category(errors.CategoryDatabase).
			Build()
	}
	return ds.DB.WithContext(ctx), nil
}

// Create inserts v, assigning an id when empty.
func (ds *DataStore) Create(ctx context.Context, v *Video) error {
	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(v).Error; err != nil {
		return dbError(err, "create", v.ID)
	}
	return nil
}

// Get returns the video with id or ErrNotFound.
func (ds *DataStore) Get(ctx context.Context, id string) (*Video, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	var v Video
	if err := db.Where("id = ?", id).Take(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, dbError(err, "get", id)
	}
	return &v, nil
}

// List returns videos newest first.
func (ds *DataStore) List(ctx context.Context, opts ListOptions) (*Page, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	opts = opts.normalized()

	query := db.Model(&Video{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	page := &Page{Page: opts.Page, PageSize: opts.PageSize, Items: []Video{}}
	if err := query.Count(&page.Total).Error; err != nil {
		return nil, dbError(err, "count", "")
	}
	err = query.Order("created_at DESC").Order("id").
		Offset((opts.Page - 1) * opts.PageSize).
		Limit(opts.PageSize).
		Find(&page.Items).Error
	if err != nil {
		return nil, dbError(err, "list", "")
	}
	return page, nil
}

// Update writes fields to the video in a single statement. Unknown
// columns are rejected.
func (ds *DataStore) Update(ctx context.Context, id string, fields Fields) error {
	if len(fields) == 0 {
		return nil
	}
	for col := range fields {
		if _, ok := updatableColumns[col]; !ok {
			return errors.Newf("column %q is not updatable", col).
				Category(errors.CategoryValidation).
				Context("video_id", id).
				Build()
		}
	}

	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values["updated_at"] = time.Now()

	res := db.Model(&Video{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return dbError(res.Error, "update", id)
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// Delete removes the video row.
func (ds *DataStore) Delete(ctx context.Context, id string) error {
	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&Video{})
	if res.Error != nil {
		return dbError(res.Error, "delete", id)
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// ListByStatus returns all videos in any of statuses, oldest first.
func (ds *DataStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Video, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	var videos []Video
	if err := db.Where("status IN ?", statuses).Order("created_at").Find(&videos).Error; err != nil {
		return nil, dbError(err, "list_by_status", "")
	}
	return videos, nil
}

// Close releases the connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	return sqlDB.Close()
}

func notFound(id string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrNotFound, id)).
		Category(errors.CategoryNotFound).
		Context("video_id", id).
		Build()
}

func dbError(err error, operation, id string) error {
	b := errors.New(err).
		Category(errors.CategoryDatabase).
		Context("operation", operation)
	if id != "" {
		b = b.Context("video_id", id)
	}
	return b.Build()
}

// performAutoMigration migrates the schema and logs where the database lives.
func performAutoMigration(db *gorm.DB, log logger.Logger, dbType, connInfo string) error {
	if err := db.AutoMigrate(&Video{}); err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}
	log.Info("database ready",
		logger.String("db_type", dbType),
		logger.String("location", connInfo))
	return nil
}
