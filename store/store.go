package store

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hypercosmac/bubblecap/session"
)

var ErrNotFound = errors.New("recording not found")

// Recording is the persisted metadata for one completed recording.
type Recording struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Filename   string    `gorm:"uniqueIndex" json:"filename"`
	Path       string    `json:"path"`
	CreatedAt  time.Time `json:"created_at"`
	DurationMs int64     `json:"duration_ms"`
	Thumbnail  []byte    `json:"thumbnail,omitempty"`
	UploadURL  string    `json:"upload_url,omitempty"`
}

// FromSession converts a finished coordinator recording into its persisted
// form.
func FromSession(rec *session.Recording) *Recording {
	return &Recording{
		ID:         rec.ID,
		Filename:   rec.Filename,
		Path:       rec.Path,
		CreatedAt:  rec.CreatedAt,
		DurationMs: rec.Duration.Milliseconds(),
		Thumbnail:  rec.Thumbnail,
	}
}

// Store keeps the recordings list in a sqlite database next to the media
// files.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore opens (or creates) the recordings database.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open recordings db: %v", err)
	}

	if err := db.AutoMigrate(&Recording{}); err != nil {
		return nil, fmt.Errorf("failed to migrate recordings db: %v", err)
	}

	return &Store{
		db:  db,
		log: logger.Named("store"),
	}, nil
}

// Add persists a recording.
func (s *Store) Add(rec *Recording) error {
	if err := s.db.Create(rec).Error; err != nil {
		return err
	}

	s.log.Info("recording persisted", zap.String("id", rec.ID), zap.String("filename", rec.Filename))

	return nil
}

// List returns all recordings, newest first.
func (s *Store) List() ([]Recording, error) {
	var recs []Recording

	if err := s.db.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}

	return recs, nil
}

// Get retrieves one recording by id.
func (s *Store) Get(id string) (*Recording, error) {
	var rec Recording

	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Remove deletes one recording's metadata.
func (s *Store) Remove(id string) error {
	res := s.db.Delete(&Recording{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RemoveByFilename deletes the record whose media file carries the given
// name; used when a file disappears from the recordings directory.
func (s *Store) RemoveByFilename(filename string) error {
	res := s.db.Delete(&Recording{}, "filename = ?", filename)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// SetUploadURL records where a recording ended up in the bucket.
func (s *Store) SetUploadURL(id, url string) error {
	return s.db.Model(&Recording{}).Where("id = ?", id).Update("upload_url", url).Error
}
