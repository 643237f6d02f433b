// Package storage persists risk records in a sqlite database so scores
// survive restarts. Pending request state is deliberately not persisted.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/temi0x/chainguard/pkg/models"
)

type riskRecordRow struct {
	ProtocolID  string `gorm:"primaryKey;size:128"`
	RiskScore   int64
	Confidence  int64
	LastUpdated time.Time
	Explanation string
	Security    int64
	Financial   int64
	Governance  int64
	Sentiment   int64
}

func (riskRecordRow) TableName() string { return "risk_records" }

// RecordStore is a gorm-backed implementation of oracle.Store.
type RecordStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string, logger *zap.Logger) (*RecordStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if err := db.AutoMigrate(&riskRecordRow{}); err != nil {
		return nil, fmt.Errorf("migrate record store: %w", err)
	}
	logger.Info("record store opened", zap.String("path", path))
	return &RecordStore{db: db, logger: logger}, nil
}

// SaveRecord upserts the record keyed by protocol id.
func (s *RecordStore) SaveRecord(ctx context.Context, record models.RiskRecord) error {
	row := riskRecordRow{
		ProtocolID:  record.ProtocolID,
		RiskScore:   record.RiskScore,
		Confidence:  record.Confidence,
		LastUpdated: record.LastUpdated,
		Explanation: record.Explanation,
		Security:    record.Components.Security,
		Financial:   record.Components.Financial,
		Governance:  record.Components.Governance,
		Sentiment:   record.Components.Sentiment,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save risk record %q: %w", record.ProtocolID, err)
	}
	return nil
}

// LoadRecords returns every persisted record.
func (s *RecordStore) LoadRecords(ctx context.Context) ([]models.RiskRecord, error) {
	var rows []riskRecordRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load risk records: %w", err)
	}

	records := make([]models.RiskRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, models.RiskRecord{
			ProtocolID:  row.ProtocolID,
			RiskScore:   row.RiskScore,
			Confidence:  row.Confidence,
			LastUpdated: row.LastUpdated,
			Explanation: row.Explanation,
			Components: models.ComponentScores{
				Security:   row.Security,
				Financial:  row.Financial,
				Governance: row.Governance,
				Sentiment:  row.Sentiment,
			},
		})
	}
	return records, nil
}
