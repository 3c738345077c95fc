package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sessionRecord is one persisted session. The snapshot is stored as JSON;
// the remaining columns serve listings.
type sessionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string
	Model     string
	Messages  int
	Snapshot  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (sessionRecord) TableName() string {
	return "aiapi_sessions"
}

// Store is a session.Store backed by a SQL database.
type Store struct {
	db *gorm.DB
}

var _ session.Store = (*Store)(nil)

// Open connects to the database for driver and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeStoreFailed, "unsupported store driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "failed to open database", err)
	}
	return New(db)
}

// New wraps an open database and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "failed to migrate schema", err)
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces the snapshot with the same ID.
func (s *Store) Save(ctx context.Context, snap *session.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "snapshot id is required")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreFailed, "failed to encode session", err)
	}

	rec := sessionRecord{
		ID:        snap.ID,
		Title:     snap.Title,
		Model:     snap.Model,
		Messages:  len(snap.Messages),
		Snapshot:  string(data),
		CreatedAt: snap.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreFailed, "failed to save session", err)
	}

	ctrllog.FromContext(ctx).WithName("session-store").V(1).Info("Saved session", "id", snap.ID, "messages", rec.Messages)
	return nil
}

// Load returns the snapshot stored under id.
func (s *Store) Load(ctx context.Context, id string) (*session.Snapshot, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Newf(apperrors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "failed to load session", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(rec.Snapshot), &snap); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "failed to decode session", err)
	}
	return &snap, nil
}

// List returns stored sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]session.Summary, error) {
	var recs []sessionRecord
	err := s.db.WithContext(ctx).
		Select("id", "title", "model", "messages", "created_at", "updated_at").
		Order("updated_at desc").
		Find(&recs).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "failed to list sessions", err)
	}

	out := make([]session.Summary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, session.Summary{
			ID:        rec.ID,
			Title:     rec.Title,
			Model:     rec.Model,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			Messages:  rec.Messages,
		})
	}
	return out, nil
}

// Delete removes the session stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&sessionRecord{}, "id = ?", id)
	if res.Error != nil {
		return apperrors.New(apperrors.ErrCodeStoreFailed, "failed to delete session", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
