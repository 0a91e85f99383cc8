package cache

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/hap/internal/model"
)

// entryRow is the GORM-mapped row for a cached transcription. Words are
// stored as a JSON blob rather than a joined table: the cache never queries
// into word contents, only reads/writes the whole entry atomically.
type entryRow struct {
	SourceURL     string `gorm:"primaryKey"`
	SchemaVersion int
	WordsJSON     []byte
	Duration      float64
	CreatedAt     time.Time
}

func (entryRow) TableName() string { return "transcription_cache_entries" }

// GormStore is the default cache backend, grounded on the teacher's GORM +
// SQLite/Postgres database layer (internal/database in mantonx-viewra).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (and migrates) a GORM-backed cache store against an
// already-connected *gorm.DB.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, sourceURL string, ttl time.Duration) (model.TranscriptionCacheEntry, bool, error) {
	var row entryRow
	err := s.db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.TranscriptionCacheEntry{}, false, nil
		}
		return model.TranscriptionCacheEntry{}, false, err
	}

	if time.Since(row.CreatedAt) > ttl {
		return model.TranscriptionCacheEntry{}, false, nil
	}

	entry, err := rowToEntry(row)
	if err != nil {
		return model.TranscriptionCacheEntry{}, false, err
	}
	return entry, true, nil
}

func (s *GormStore) Put(ctx context.Context, entry model.TranscriptionCacheEntry, maxEntries int) error {
	words, err := json.Marshal(entry.Words)
	if err != nil {
		return err
	}

	row := entryRow{
		SourceURL:     entry.SourceURL,
		SchemaVersion: SchemaVersion,
		WordsJSON:     words,
		Duration:      entry.Duration,
		CreatedAt:     time.Now(),
	}

	err = s.db.WithContext(ctx).
		Save(&row).Error
	if err != nil {
		return err
	}

	return s.evictIfNeeded(ctx, maxEntries)
}

// evictIfNeeded drops the oldest ~50% of entries when the store exceeds
// maxEntries, per spec §3/§6.
func (s *GormStore) evictIfNeeded(ctx context.Context, maxEntries int) error {
	if maxEntries <= 0 {
		return nil
	}
	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if count <= maxEntries {
		return nil
	}

	toDrop := (count + 1) / 2 // ceil(count/2)
	var victims []string
	if err := s.db.WithContext(ctx).Model(&entryRow{}).
		Order("created_at ASC").
		Limit(toDrop).
		Pluck("source_url", &victims).Error; err != nil {
		return err
	}
	if len(victims) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("source_url IN ?", victims).Delete(&entryRow{}).Error
}

func (s *GormStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&entryRow{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&entryRow{}).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowToEntry(row entryRow) (model.TranscriptionCacheEntry, error) {
	var words []model.Word
	if err := json.Unmarshal(row.WordsJSON, &words); err != nil {
		return model.TranscriptionCacheEntry{}, err
	}
	return model.TranscriptionCacheEntry{
		SchemaVersion: row.SchemaVersion,
		SourceURL:     row.SourceURL,
		Words:         words,
		Duration:      row.Duration,
		CreatedAt:     row.CreatedAt,
	}, nil
}
