package infrastructure

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yourusername/offline-cache-go/internal/domain"
)

// StorageRecord is the persisted row backing a domain.StorageModel. All
// rows are scoped to a container so several queues can share one
// database file.
type StorageRecord struct {
	UID         string `gorm:"primaryKey"`
	ContainerID string `gorm:"index"`
	RecordID    string
	Type        string `gorm:"index"`
	JSON        string
	UpdatedAt   time.Time
}

// SQLiteStore implements domain.Store on a SQLite database.
type SQLiteStore struct {
	db          *gorm.DB
	containerID string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// scopes all operations to containerID.
func NewSQLiteStore(dbPath, containerID string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&StorageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db, containerID: containerID}, nil
}

func (s *SQLiteStore) uid(id string) string {
	return s.containerID + "_" + id
}

// Save creates or replaces the record for the model's primary key.
func (s *SQLiteStore) Save(model *domain.StorageModel) error {
	record := &StorageRecord{
		UID:         s.uid(model.ID),
		ContainerID: s.containerID,
		RecordID:    model.ID,
		Type:        model.Type,
		JSON:        model.JSON,
		UpdatedAt:   time.Now(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "json", "updated_at"}),
	}).Create(record).Error
}

// Delete removes the model's record. Deleting an absent record is not
// an error.
func (s *SQLiteStore) Delete(model *domain.StorageModel) error {
	return s.db.Delete(&StorageRecord{}, "uid = ?", s.uid(model.ID)).Error
}

// DeleteMany removes several records in one transaction.
func (s *SQLiteStore) DeleteMany(models []*domain.StorageModel) error {
	if len(models) == 0 {
		return nil
	}
	uids := make([]string, 0, len(models))
	for _, m := range models {
		uids = append(uids, s.uid(m.ID))
	}
	return s.db.Delete(&StorageRecord{}, "uid IN ?", uids).Error
}

// Load fetches a record by primary key, nil when absent.
func (s *SQLiteStore) Load(id string) (*domain.StorageModel, error) {
	var record StorageRecord
	err := s.db.First(&record, "uid = ?", s.uid(id)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &domain.StorageModel{ID: record.RecordID, Type: record.Type, JSON: record.JSON}, nil
}

// LoadAll fetches every record in this container carrying the type tag,
// oldest first.
func (s *SQLiteStore) LoadAll(typ string) ([]*domain.StorageModel, error) {
	var records []StorageRecord
	err := s.db.
		Where("container_id = ? AND type = ?", s.containerID, typ).
		Order("updated_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	models := make([]*domain.StorageModel, 0, len(records))
	for _, record := range records {
		models = append(models, &domain.StorageModel{ID: record.RecordID, Type: record.Type, JSON: record.JSON})
	}
	return models, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
